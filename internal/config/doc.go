// Package config loads a YAML configuration document into the
// internal/model object graph: global process settings, listeners,
// services (condition trees + rewrite rules + balancer groups), named
// backends, and ACLs (spec.md §6 "Configuration file"). It is deliberately
// a thin structural mapping - YAML keys mirror the keyword directives
// spec.md names (User, Group, Daemon, WorkerMinCount, ... Resolver) - not a
// reimplementation of the keyword-oriented grammar (quoted section names,
// indented bodies terminated by End, Include/IncludeDir splicing) that
// spec.md explicitly treats as an external collaborator's concern.
//
// Grounded on the teacher's app/discovery/provider/{static,file}.go, which
// load a reproxy route table from YAML/JSON via gopkg.in/yaml.v3 into its
// own Mapper structs; generalized here from reproxy's flat list-of-routes
// shape into the listener/service/backend hierarchy this model needs.
package config
