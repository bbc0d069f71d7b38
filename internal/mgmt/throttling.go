package mgmt

import (
	"net/http"

	tollbooth "github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
)

// Throttler rate-limits the control plane itself (spec.md §6's Control
// directive carries a rate limit alongside the bind address).
//
// Grounded on the teacher's app/mgmt/throttling.go, trimmed from its
// two-stage (global + per-virtual-server) design down to a single global
// limiter: the control plane has no per-server concept of its own to
// throttle independently, unlike the proxy's multi-tenant request path.
type Throttler struct {
	limiter *limiter.Limiter
}

// NewThrottler builds a limiter allowing ratePerSecond requests/sec with a
// burst equal to one second's worth of traffic.
func NewThrottler(ratePerSecond float64) *Throttler {
	l := tollbooth.NewLimiter(ratePerSecond, nil).
		SetBurst(int(ratePerSecond)).
		SetStatusCode(http.StatusTooManyRequests).
		SetMessage("control-plane rate limit exceeded, please retry later").
		SetMessageContentType("text/plain")
	return &Throttler{limiter: l}
}

// Middleware rejects requests past the configured rate.
func (t *Throttler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpErr := tollbooth.LimitByRequest(t.limiter, w, r); httpErr != nil {
			t.limiter.ExecOnLimitReached(w, r)
			w.Header().Add("Content-Type", t.limiter.GetMessageContentType())
			w.WriteHeader(httpErr.StatusCode)
			_, _ = w.Write([]byte(httpErr.Message))
			return
		}
		next.ServeHTTP(w, r)
	})
}
