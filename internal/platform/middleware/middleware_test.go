package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustnet/pkg/requestcontext"
	"trustnet/pkg/testutil"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubValidator struct {
	caller requestcontext.Caller
	err    error
}

func (s stubValidator) ValidateCaller(string) (requestcontext.Caller, error) {
	return s.caller, s.err
}

func TestRequireAuth(t *testing.T) {
	var seen requestcontext.Caller
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.CallerFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("missing header", func(t *testing.T) {
		h := RequireAuth(stubValidator{}, discard)(next)
		rr := testutil.DoRequest(h, httptest.NewRequest(http.MethodGet, "/", nil))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("invalid token", func(t *testing.T) {
		h := RequireAuth(stubValidator{err: errors.New("expired")}, discard)(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rr := testutil.DoRequest(h, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("valid token stores the caller", func(t *testing.T) {
		want := requestcontext.Caller{ID: "u-ggc-1", Role: "ggc_member", EntityID: "ent-a"}
		h := RequireAuth(stubValidator{caller: want}, discard)(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rr := testutil.DoRequest(h, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, want, seen)
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	t.Run("inbound id is kept", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := testutil.DoRequest(h, req)
		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", rr.Header().Get(RequestIDHeader))
	})

	t.Run("missing id is generated", func(t *testing.T) {
		rr := testutil.DoRequest(h, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rr.Header().Get(RequestIDHeader))
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(discard)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := testutil.DoRequest(h, httptest.NewRequest(http.MethodGet, "/", nil))
	testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "internal_error")
}

func TestLoggerPassesStatusThrough(t *testing.T) {
	h := Logger(discard)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := testutil.DoRequest(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}
