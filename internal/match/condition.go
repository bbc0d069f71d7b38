package match

import (
	"net"
	"strings"

	"github.com/coreproxy/coreproxy/internal/model"
)

// Caps is the out-parameter cond_eval fills with the regex match vector of
// the last successful regex leaf along the accepted path (spec.md §4.1:
// "ties are broken by evaluation order").
type Caps struct {
	Vector []string
}

// PasswordChecker verifies Basic-Auth credentials against a pwfile; the
// concrete htpasswd-backed implementation lives in this package too
// (basicauth.go) but is injected so tests can stub it.
type PasswordChecker interface {
	Verify(pwfile, user, password string) (bool, error)
}

// Evaluator evaluates condition trees against a request and peer address.
type Evaluator struct {
	Passwords PasswordChecker
}

// Eval implements cond_eval(cond, &req, &peer, &caps) -> bool.
func (e *Evaluator) Eval(c *model.Condition, req *model.Request, peer net.IP, caps *Caps) (bool, error) {
	if c == nil {
		return true, nil
	}
	if c.IsBool {
		switch c.Op {
		case model.OpAND:
			for _, ch := range c.Children {
				ok, err := e.Eval(ch, req, peer, caps)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil // short-circuit
				}
			}
			return true, nil
		case model.OpOR:
			for _, ch := range c.Children {
				ok, err := e.Eval(ch, req, peer, caps)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil // short-circuit
				}
			}
			return false, nil
		case model.OpNOT:
			if len(c.Children) != 1 {
				return false, nil
			}
			var sub Caps // NOT's captures never surface upward
			ok, err := e.Eval(c.Children[0], req, peer, &sub)
			if err != nil {
				return false, err
			}
			return !ok, nil
		}
		return false, nil
	}

	switch c.Kind {
	case model.LeafURL:
		return e.matchLeaf(c, req.URL.String(), caps)
	case model.LeafPath:
		return e.matchLeaf(c, req.URL.Path, caps)
	case model.LeafQuery:
		return e.matchLeaf(c, req.URL.RawQuery, caps)
	case model.LeafQueryParam:
		v := req.URL.Query().Get(c.Name)
		return e.matchLeaf(c, v, caps)
	case model.LeafHeader:
		return e.matchLeaf(c, req.Headers.JoinedText(), caps)
	case model.LeafHost:
		re, err := HostMatchRegex(c.Pattern, c.Flags.ICase)
		if err != nil {
			return false, err
		}
		m := re.FindStringSubmatch(req.Host)
		if m == nil {
			return false, nil
		}
		caps.Vector = m
		return true, nil
	case model.LeafString:
		h, ok := req.Headers.GetByName(c.Name)
		if !ok {
			return false, nil
		}
		return e.matchLeaf(c, h.Value, caps)
	case model.LeafACL:
		return c.ACL.Match(peer), nil
	case model.LeafBasicAuth:
		return e.matchBasicAuth(c, req)
	}
	return false, nil
}

func (e *Evaluator) matchLeaf(c *model.Condition, text string, caps *Caps) (bool, error) {
	ok, m, err := MatchPattern(c, text)
	if err != nil || !ok {
		return false, err
	}
	if len(m) > 1 || (c.Flavor != model.FlavorExact && c.Flavor != model.FlavorPrefix &&
		c.Flavor != model.FlavorSuffix && c.Flavor != model.FlavorContain) {
		caps.Vector = m
	}
	return true, nil
}

func (e *Evaluator) matchBasicAuth(c *model.Condition, req *model.Request) (bool, error) {
	h, ok := req.Headers.Get(model.HAuthorization)
	if !ok {
		return false, nil
	}
	user, pass, ok := decodeBasicAuth(h.Value)
	if !ok {
		return false, nil
	}
	if e.Passwords == nil {
		return false, nil
	}
	verified, err := e.Passwords.Verify(c.PwFile, user, pass)
	if err != nil || !verified {
		return false, err
	}
	req.AuthUser = user
	return true, nil
}

func decodeBasicAuth(value string) (user, pass string, ok bool) {
	const prefix = "basic "
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", "", false
	}
	return decodeBasicAuthPayload(value[len(prefix):])
}
