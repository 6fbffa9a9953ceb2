package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"arp/internal/ratelimit/models"
	dErrors "arp/pkg/domain-errors"
	"arp/pkg/platform/httputil"
	"arp/pkg/requestcontext"
)

// Middleware applies admission control in front of the routed handlers.
// Store errors fail open: the service degrades to unlimited rather than
// unavailable.
type Middleware struct {
	limiter  *Limiter
	logger   *slog.Logger
	disabled bool
}

// Option configures the middleware.
type Option func(*Middleware)

// WithDisabled turns admission control off, for tests and demo mode.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

// NewMiddleware constructs the admission-control middleware.
func NewMiddleware(limiter *Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("admission control disabled")
	}
	return m
}

// Limit wraps a handler chain with the budget of one endpoint class.
func (m *Middleware) Limit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			identity := requestcontext.APIKey(ctx)
			if identity == "" {
				identity = requestcontext.ClientIP(ctx)
			}

			result, err := m.limiter.Check(ctx, identity, class)
			if err != nil {
				m.logger.ErrorContext(ctx, "admission check failed",
					slog.String("class", string(class)),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, result)
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "request rate limit exceeded; retry later"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
