// Package balancer implements backend selection: weighted-random and
// interleaved-weighted-round-robin algorithms, sticky-session lookup, and
// failure-aware health eviction (spec.md §4.4/§4.5). Grounded on the
// teacher's proxy.LBSelector (app/proxy/lb_selector.go in umputun/reproxy),
// generalized from reproxy's flat index-based RandomSelector/
// RoundRobinSelector into priority-weighted selection over BalancerGroup.
package balancer

import (
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strings"

	"github.com/coreproxy/coreproxy/internal/model"
	"github.com/coreproxy/coreproxy/internal/session"
)

// ErrNoBackend is returned when no eligible backend exists in either group.
var ErrNoBackend = errors.New("balancer: no live backend")

// Selector implements get_backend per spec.md §4.4.
type Selector struct {
	Rand *rand.Rand // nil uses the package-level source
}

func (s *Selector) intn(n int) int {
	if n <= 0 {
		return 0
	}
	if s.Rand != nil {
		return s.Rand.Intn(n)
	}
	return rand.Intn(n) //nolint:gosec // load-balancing jitter, not a security boundary
}

// GetBackend implements get_backend(svc, peer, &req, ...) -> Backend.
// 1. sticky lookup, 2. group selection, 3. algorithm, with the "accept one
// wasted draw" resolution of spec.md's stale-tot_pri open question.
func (s *Selector) GetBackend(svc *model.Service, peer net.IP, req *model.Request) (*model.Backend, string, error) {
	var key string
	if svc.Session.Type != model.SessionNone {
		key = SessionKey(svc.Session, req, peer)
		if key != "" && svc.Sessions != nil {
			if b, ok := svc.Sessions.Lookup(key); ok {
				return b, key, nil
			}
		}
	}

	group := svc.Backends.Active()
	b, err := s.pick(group)
	if err != nil {
		return nil, key, err
	}

	if svc.Session.Type == model.SessionIP || svc.Session.Type == model.SessionBasic {
		if key != "" && svc.Sessions != nil {
			svc.Sessions.Insert(key, b)
		}
	}
	return b, key, nil
}

func (s *Selector) pick(group *model.BalancerGroup) (*model.Backend, error) {
	b, ok := s.pickOnce(group)
	if ok {
		return b, nil
	}
	// one wasted draw accepted (spec.md §9 open question resolution), then give up
	b, ok = s.pickOnce(group)
	if !ok {
		return nil, ErrNoBackend
	}
	return b, nil
}

func (s *Selector) pickOnce(group *model.BalancerGroup) (*model.Backend, bool) {
	switch group.Algo {
	case model.AlgoIWRR:
		return s.pickIWRR(group)
	default:
		return s.pickRandom(group)
	}
}

// pickRandom draws r in [0, tot_pri) and walks backends in insertion order
// accumulating priority, skipping disabled/dead, returning the first whose
// running sum exceeds r (spec.md §4.4).
func (s *Selector) pickRandom(group *model.BalancerGroup) (*model.Backend, bool) {
	tot := group.TotPri()
	if tot <= 0 {
		return nil, false
	}
	r := s.intn(tot)
	sum := 0
	for _, b := range group.Backends {
		if !b.Eligible() {
			continue
		}
		sum += b.Priority
		if sum > r {
			return b, true
		}
	}
	return nil, false
}

// pickIWRR implements interleaved weighted round robin via the group's
// smooth-weighted-round-robin state (spec.md §4.4).
func (s *Selector) pickIWRR(group *model.BalancerGroup) (*model.Backend, bool) {
	b := group.PickIWRR()
	return b, b != nil
}

// SessionKey computes the session key per the mapping table of spec.md
// §4.4. req may be nil-Captures; URL/PARM/COOKIE/HEADER all read directly
// from the live request.
func SessionKey(policy model.SessionPolicy, req *model.Request, peer net.IP) string {
	switch policy.Type {
	case model.SessionIP:
		return ipSessionKey(peer)
	case model.SessionBasic:
		return req.AuthUser
	case model.SessionURL:
		if req.URL == nil {
			return ""
		}
		return req.URL.Query().Get(policy.IDString)
	case model.SessionParm:
		return pathParamKey(req.URL.Path, policy.IDString)
	case model.SessionCookie:
		return cookieKey(req.Headers, model.HOther, "Cookie", policy.IDString)
	case model.SessionHeader:
		if h, ok := req.Headers.GetByName(policy.IDString); ok {
			return h.Value
		}
		return ""
	}
	return ""
}

// ResponseSessionKey computes the session key from response-side state
// (Set-Cookie), used for COOKIE policy insertion (spec.md §4.4 step 4).
func ResponseSessionKey(policy model.SessionPolicy, resp *http.Response) string {
	if policy.Type != model.SessionCookie {
		return ""
	}
	for _, line := range resp.Header.Values("Set-Cookie") {
		if v, ok := parseCookieValue(line, policy.IDString); ok {
			return v
		}
	}
	return ""
}

func ipSessionKey(peer net.IP) string {
	if peer == nil {
		return ""
	}
	if v4 := peer.To4(); v4 != nil {
		return (&net.IPNet{IP: v4.Mask(net.CIDRMask(24, 32)), Mask: net.CIDRMask(24, 32)}).String()
	}
	v6 := peer.To16()
	return (&net.IPNet{IP: v6.Mask(net.CIDRMask(64, 128)), Mask: net.CIDRMask(64, 128)}).String()
}

// pathParamKey extracts the path segment after ';' matching name, PARM
// policy style (e.g. /app/;jsessionid=ABC).
func pathParamKey(path, name string) string {
	for _, seg := range strings.Split(path, "/") {
		if idx := strings.IndexByte(seg, ';'); idx >= 0 {
			param := seg[idx+1:]
			if strings.HasPrefix(param, name+"=") {
				return param[len(name)+1:]
			}
		}
	}
	return ""
}

func cookieKey(headers model.HeaderList, _ model.HeaderTag, headerName, cookieName string) string {
	for _, h := range headers.AllByName(headerName) {
		if v, ok := parseCookieValue(h.Value, cookieName); ok {
			return v
		}
	}
	return ""
}

// parseCookieValue finds cookieName's value within a Cookie: or Set-Cookie:
// header value text.
func parseCookieValue(headerValue, cookieName string) (string, bool) {
	for _, part := range strings.Split(headerValue, ";") {
		part = strings.TrimSpace(part)
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			continue
		}
		if part[:idx] == cookieName {
			return part[idx+1:], true
		}
	}
	return "", false
}
