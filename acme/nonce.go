package acme

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/go-acmecert/acmecert/netclient"
)

// noncePool is a FIFO of replay nonces, spec.md §4.C: take() returns one
// (refilling via a newNonce HEAD if empty), put() stores one harvested from
// a response's Replay-Nonce header. Adapted from the teacher's
// acme/client/nonce.go single-nonce cache, generalized into a real pool
// because spec.md §4.C requires the pool to track outstanding requests
// rather than unconditionally refilling on every take.
//
// Concurrent refills are coalesced with singleflight, satisfying spec.md
// §5's "at most one such [newNonce] fetch at a time".
type noncePool struct {
	mu      sync.Mutex
	nonces  []string
	fetcher func(ctx context.Context) (string, error)
	group   singleflight.Group
}

func newNoncePool(fetch func(ctx context.Context) (string, error)) *noncePool {
	return &noncePool{fetcher: fetch}
}

// take returns a nonce, refilling from the server if the pool is empty.
func (p *noncePool) take(ctx context.Context) (string, error) {
	p.mu.Lock()
	if len(p.nonces) > 0 {
		nonce := p.nonces[0]
		p.nonces = p.nonces[1:]
		p.mu.Unlock()
		return nonce, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("refill", func() (interface{}, error) {
		return p.fetcher(ctx)
	})
	if err != nil {
		return "", newError(KindNonce, "newNonce", err)
	}
	return v.(string), nil
}

// put stores a freshly harvested nonce for future use.
func (p *noncePool) put(nonce string) {
	if nonce == "" {
		return
	}
	p.mu.Lock()
	p.nonces = append(p.nonces, nonce)
	p.mu.Unlock()
}

// fetchNonce issues the newNonce HEAD request and extracts Replay-Nonce,
// adapted from the teacher's RefreshNonce.
func fetchNonce(ctx context.Context, net *netclient.Client, url string) (string, error) {
	resp, err := net.Head(ctx, url)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("newNonce returned HTTP status %d", resp.StatusCode)
	}

	nonce := resp.Header.Get(ReplayNonceHeader)
	if nonce == "" {
		return "", fmt.Errorf("newNonce returned no %q header", ReplayNonceHeader)
	}
	return nonce, nil
}
