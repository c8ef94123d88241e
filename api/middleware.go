package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/warp/decision-engine/logger"
	"github.com/warp/decision-engine/optimization"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

type callerKey struct{}

// Caller identifies who is calling. Authentication happens upstream; the
// gateway forwards the resolved identity in headers.
type Caller struct {
	Tenant optimization.TenantID
	User   optimization.UserID
}

// CallerFromContext returns the caller set by RequireTenant.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// RequireTenant rejects requests without a tenant header. Every
// optimization route is tenant scoped.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get(HeaderTenantID)
		if tenant == "" {
			writeError(w, http.StatusBadRequest, "Missing "+HeaderTenantID+" header", nil)
			return
		}
		c := Caller{Tenant: optimization.TenantID(tenant), User: optimization.UserID(r.Header.Get(HeaderUserID))}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

// RequestLogger copies chi's request id into the logging context and logs
// one line per request.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))
			logger.FromContext(ctx, base).Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// =============================================================================
// RATE LIMITING - run submissions per tenant
// =============================================================================

// TenantLimiter hands out one token bucket per tenant. Buckets are rebuilt
// after TTL so idle tenants do not pin memory forever.
type TenantLimiter struct {
	RPS   float64
	Burst int
	TTL   time.Duration

	limiters sync.Map // TenantID -> *cachedLimiter
	now      func() time.Time
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// NewTenantLimiter returns nil when rps <= 0, which disables limiting.
func NewTenantLimiter(rps float64, burst int) *TenantLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &TenantLimiter{RPS: rps, Burst: burst, TTL: 5 * time.Minute, now: time.Now}
}

// Allow reports whether tenant may submit another run now.
func (l *TenantLimiter) Allow(tenant optimization.TenantID) bool {
	if l == nil {
		return true
	}
	return l.get(tenant).Allow()
}

func (l *TenantLimiter) get(tenant optimization.TenantID) *rate.Limiter {
	now := l.now()
	if v, ok := l.limiters.Load(tenant); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
	}
	limiter := rate.NewLimiter(rate.Limit(l.RPS), l.Burst)
	l.limiters.Store(tenant, &cachedLimiter{limiter: limiter, expiresAt: now.Add(l.TTL)})
	return limiter
}

// Limit applies the per-tenant limit to the wrapped route. It must run after
// RequireTenant.
func (l *TenantLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := CallerFromContext(r.Context())
		if ok && !l.Allow(c.Tenant) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too many optimization runs for tenant", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
