package ratelimit_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arp/internal/ratelimit"
	"arp/internal/ratelimit/models"
	"arp/internal/ratelimit/store"
	"arp/pkg/requestcontext"
	"arp/pkg/testutil"
)

func newMiddleware(cfg ratelimit.Config) *ratelimit.Middleware {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ratelimit.NewMiddleware(ratelimit.NewLimiter(store.NewInMemory(), cfg), logger)
}

func serve(m *ratelimit.Middleware, class models.EndpointClass, ip, apiKey string) *httptest.ResponseRecorder {
	handler := m.Limit(class)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	ctx := requestcontext.WithClientMetadata(req.Context(), ip, "test-agent")
	if apiKey != "" {
		ctx = requestcontext.WithAPIKey(ctx, apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestLimit_ExhaustionReturns429WithHeaders(t *testing.T) {
	cfg := ratelimit.Config{Read: models.ClassConfig{Limit: 2, Window: time.Minute}}
	m := newMiddleware(cfg)

	for i := 0; i < 2; i++ {
		rec := serve(m, models.ClassRead, "10.0.0.1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := serve(m, models.ClassRead, "10.0.0.1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	testutil.AssertErrorCode(t, rec, "rate_limited")
}

func TestLimit_ClassBudgetsAreIndependent(t *testing.T) {
	cfg := ratelimit.Config{
		Read:  models.ClassConfig{Limit: 1, Window: time.Minute},
		Write: models.ClassConfig{Limit: 1, Window: time.Minute},
	}
	m := newMiddleware(cfg)

	require.Equal(t, http.StatusOK, serve(m, models.ClassRead, "10.0.0.1", "").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(m, models.ClassRead, "10.0.0.1", "").Code)
	assert.Equal(t, http.StatusOK, serve(m, models.ClassWrite, "10.0.0.1", "").Code,
		"write budget survives read exhaustion")
}

func TestLimit_APIKeyIdentityPreferredOverIP(t *testing.T) {
	cfg := ratelimit.Config{Read: models.ClassConfig{Limit: 1, Window: time.Minute}}
	m := newMiddleware(cfg)

	require.Equal(t, http.StatusOK, serve(m, models.ClassRead, "10.0.0.1", "key-a").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(m, models.ClassRead, "10.0.0.1", "key-a").Code)

	// Same IP, different key: separate budget.
	assert.Equal(t, http.StatusOK, serve(m, models.ClassRead, "10.0.0.1", "key-b").Code)
}

func TestLimit_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.NewLimiter(store.NewInMemory(), ratelimit.Config{
		Read: models.ClassConfig{Limit: 1, Window: time.Minute},
	})
	m := ratelimit.NewMiddleware(limiter, logger, ratelimit.WithDisabled(true))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(m, models.ClassRead, "10.0.0.1", "").Code)
	}
}
