package v1

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/time/rate"

	"github.com/VerteraIO/edgefleet/internal/orcherr"
)

// HeaderNodeID carries the caller's node id next to its bearer token.
const HeaderNodeID = "X-Node-ID"

type callerKey struct{}

func callerFrom(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// authenticate rejects the request before the handler runs unless it carries
// a valid node token or the admin credential.
func (a *api) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get(HeaderNodeID)
		if err := a.sec.Authenticate(caller, bearerToken(r)); err != nil {
			writeError(w, r, err)
			return
		}
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("caller", caller)
		})
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// requireSelfOrAdmin lets a node act only on its own id, named by the URL
// parameter param.
func (a *api) requireSelfOrAdmin(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := callerFrom(r.Context())
			if target := chi.URLParam(r, param); caller != target && !a.sec.IsAdmin(caller) {
				writeError(w, r, fmt.Errorf("caller %q may not act on node %q: %w", caller, target, orcherr.ErrAuth))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ipLimiter keeps one token bucket per client address.
type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newIPLimiter(qps float64, burst int) *ipLimiter {
	if qps <= 0 {
		qps = 5
	}
	if burst <= 0 {
		burst = 20
	}
	return &ipLimiter{buckets: make(map[string]*rate.Limiter), limit: rate.Limit(qps), burst: burst}
}

func (l *ipLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = lim
	}
	return lim
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !l.get(host).Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many bootstrap requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
