package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/decision-engine/optimization"
)

func TestTenantLimiter_PerTenantBuckets(t *testing.T) {
	l := NewTenantLimiter(1, 2)
	now := time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "burst exhausted")
	assert.True(t, l.Allow("b"))

	// a bucket past its TTL is rebuilt full
	now = now.Add(l.TTL + time.Second)
	assert.True(t, l.Allow("a"))
}

func TestTenantLimiter_DisabledAllowsEverything(t *testing.T) {
	var l *TenantLimiter = NewTenantLimiter(0, 10)
	require.Nil(t, l)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a"))
	}
}

func TestRequireTenant(t *testing.T) {
	var got Caller
	h := RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = CallerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTenantID, "acme")
	req.Header.Set(HeaderUserID, "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Caller{Tenant: "acme", User: optimization.UserID("u1")}, got)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
