// Package responder implements the HTTP-01 challenge responder: an
// http.Handler that answers ACME validation requests for whatever tokens
// are currently provisioned, and otherwise defers to a wrapped handler.
// Grounded on the teacher's ChallengeServer interface (shell/commands/
// challsrv.go), which talks to a remote github.com/letsencrypt/challtestsrv
// instance over HTTP to add/remove HTTP-01 tokens; this package is the
// production-side counterpart meant to be mounted on the application's own
// listener instead of a separate test server.
package responder

import (
	"net/http"
	"strings"
	"sync"
)

// pathPrefix is the well-known HTTP-01 validation path, RFC 8555 §8.3.
const pathPrefix = "/.well-known/acme-challenge/"

// Responder serves HTTP-01 challenge validation requests for whatever
// tokens are currently provisioned, falling through to Next for every
// other request. The zero value is not usable; construct one with New.
type Responder struct {
	mu     sync.RWMutex
	tokens map[string]string
	Next   http.Handler
}

// New builds a Responder. next is the handler invoked for requests that
// don't match a provisioned challenge path (nil falls through to a 404).
func New(next http.Handler) *Responder {
	if next == nil {
		next = http.NotFoundHandler()
	}
	return &Responder{tokens: make(map[string]string), Next: next}
}

// Provision registers keyAuthorization as the response for a token, and
// returns a cleanup func that removes it. Safe for concurrent use.
func (r *Responder) Provision(token, keyAuthorization string) (cleanup func()) {
	r.mu.Lock()
	r.tokens[token] = keyAuthorization
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.tokens, token)
		r.mu.Unlock()
	}
}

// ServeHTTP answers GET /.well-known/acme-challenge/{token} for any
// provisioned token with its key authorization, and otherwise defers to
// Next — the responder is meant to be mounted in front of an application's
// existing handler, not run as a standalone server.
func (r *Responder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodGet && strings.HasPrefix(req.URL.Path, pathPrefix) {
		token := strings.TrimPrefix(req.URL.Path, pathPrefix)

		r.mu.RLock()
		keyAuth, ok := r.tokens[token]
		r.mu.RUnlock()

		if ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(keyAuth))
			return
		}

		r.Next.ServeHTTP(w, req)
		return
	}

	r.Next.ServeHTTP(w, req)
}
