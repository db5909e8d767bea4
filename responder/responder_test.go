package responder

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServesProvisionedToken(t *testing.T) {
	r := New(nil)
	cleanup := r.Provision("tok123", "tok123.thumbprint")
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/tok123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "tok123.thumbprint", w.Body.String())
	require.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestUnknownTokenIsNotFound(t *testing.T) {
	r := New(nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCleanupRemovesToken(t *testing.T) {
	r := New(nil)
	cleanup := r.Provision("tok456", "keyauth")
	cleanup()

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/tok456", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownTokenInPrefixFallsThroughToNext(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	r := New(next)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.True(t, called)
	require.Equal(t, http.StatusTeapot, w.Code)
}

func TestFallsThroughToNextForOtherPaths(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	r := New(next)
	req := httptest.NewRequest(http.MethodGet, "/some/other/path", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.True(t, called)
	require.Equal(t, http.StatusTeapot, w.Code)
}

func TestNilNextDefaultsTo404(t *testing.T) {
	r := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
