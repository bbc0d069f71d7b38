package model

import "time"

// SessionType enumerates session-stickiness policies (spec.md §3/§4.4).
type SessionType int

// enum of session types
const (
	SessionNone SessionType = iota
	SessionIP
	SessionCookie
	SessionURL
	SessionParm
	SessionBasic
	SessionHeader
)

// SessionPolicy configures stickiness for a Service.
type SessionPolicy struct {
	Type    SessionType
	TTL     time.Duration
	IDString string // cookie/parameter/header name for COOKIE/URL/PARM/HEADER
}
