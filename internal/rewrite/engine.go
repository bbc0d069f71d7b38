package rewrite

import (
	"net/url"
	"regexp"

	"github.com/coreproxy/coreproxy/internal/match"
	"github.com/coreproxy/coreproxy/internal/model"
)

// Engine applies rewrite rules in sequence; later operations see earlier
// effects (spec.md §4.2).
type Engine struct {
	Eval *match.Evaluator

	delRe map[string]*regexp.Regexp
}

// NewEngine builds a rewrite engine sharing the given condition evaluator.
func NewEngine(ev *match.Evaluator) *Engine {
	return &Engine{Eval: ev, delRe: map[string]*regexp.Regexp{}}
}

// ApplyChain evaluates each rule's condition in turn (not an implicit AND
// across the chain - each rule independently decides whether to fire) and
// applies the matched rule's ops, recursing into SubRewrite and Else.
func (e *Engine) ApplyChain(rules []*model.RewriteRule, req *model.Request) error {
	for _, r := range rules {
		if err := e.ApplyRule(r, req); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRule implements: if condition matches, apply ops in order; else run
// else branch (spec.md §3 "Rewrite rule").
func (e *Engine) ApplyRule(rule *model.RewriteRule, req *model.Request) error {
	if rule == nil {
		return nil
	}
	var caps match.Caps
	ok, err := e.Eval.Eval(rule.Condition, req, nil, &caps)
	if err != nil {
		return err
	}
	if !ok {
		return e.ApplyRule(rule.Else, req)
	}
	if len(caps.Vector) > 0 {
		req.Captures = caps.Vector
	}
	for _, op := range rule.Ops {
		if err := e.applyOp(op, req); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyOp(op model.RewriteOp, req *model.Request) error {
	switch op.Kind {
	case model.OpSetHeader:
		req.Headers.AddLine(Expand(op.Line, req.Captures))
	case model.OpDeleteHeader:
		re, err := e.compileDelete(op.Line)
		if err != nil {
			return err
		}
		req.Headers.DeleteMatching(re.MatchString)
	case model.OpSetURL:
		newURL := Expand(op.Template, req.Captures)
		u, err := url.Parse(newURL)
		if err != nil {
			return err
		}
		req.URL.Path = u.Path
		req.URL.RawQuery = u.RawQuery
	case model.OpSetPath:
		req.URL.Path = Expand(op.Template, req.Captures)
	case model.OpSetQuery:
		req.URL.RawQuery = Expand(op.Template, req.Captures)
	case model.OpSetQueryParam:
		req.URL.RawQuery = setQueryParamOrdered(req.URL.RawQuery, op.Name, Expand(op.Template, req.Captures))
	case model.OpSubRewrite:
		return e.ApplyRule(op.Sub, req)
	}
	return nil
}

func (e *Engine) compileDelete(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.delRe[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.delRe[pattern] = re
	return re, nil
}
