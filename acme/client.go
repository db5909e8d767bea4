package acme

import (
	"context"
	"crypto"
	"fmt"

	"github.com/go-acmecert/acmecert/netclient"
)

// Client is the ACME protocol engine context: spec.md §9's "Singletons ->
// explicit ownership" design note replaces the teacher's module-level
// Client/Account/Directory globals with a value a host constructs once and
// threads through the call graph. A Client owns exactly one account.
type Client struct {
	net    *netclient.Client
	dir    *directory
	nonces *noncePool

	// accountKey signs every request. Its public JWK/thumbprint back the
	// HTTP-01 key authorization (spec.md §3).
	accountKey crypto.Signer

	// kid is the account URL returned by newAccount; empty until Register
	// or Recover succeeds.
	kid string
}

// Config configures a Client.
type Config struct {
	// Server selects the ACME directory to use.
	Server Server
	// DirectoryURL overrides Server's default URL; used for MOCK servers or
	// test harnesses that don't run on the standard Pebble port.
	DirectoryURL string
	// CACertPath is an optional path to a PEM CA bundle trusted in addition
	// to the system roots, for talking to a local Pebble instance.
	CACertPath string
	// AccountKey signs every request this Client makes.
	AccountKey crypto.Signer
}

// NewClient constructs a Client, fetching the ACME directory (spec.md
// §4.B) eagerly so directory endpoint lookups never need to re-fetch mid-flow.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.AccountKey == nil {
		return nil, fmt.Errorf("acme: NewClient: AccountKey must not be nil")
	}

	dirURL := cfg.DirectoryURL
	if dirURL == "" {
		dirURL = cfg.Server.DirectoryURL()
	}
	if dirURL == "" {
		return nil, fmt.Errorf("acme: NewClient: no directory URL for server %s", cfg.Server)
	}

	net, err := netclient.New(netclient.Config{CABundlePath: cfg.CACertPath, Decorate: setCommonHeaders})
	if err != nil {
		return nil, err
	}

	dir, err := fetchDirectory(ctx, net, dirURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		net:        net,
		dir:        dir,
		accountKey: cfg.AccountKey,
	}
	c.nonces = newNoncePool(func(ctx context.Context) (string, error) {
		url, ok := c.dir.endpoint(NewNonceEndpoint)
		if !ok {
			return "", fmt.Errorf("directory is missing %q", NewNonceEndpoint)
		}
		return fetchNonce(ctx, c.net, url)
	})

	return c, nil
}

// KID returns the account URL, or "" if the Client has not registered or
// recovered an account yet.
func (c *Client) KID() string {
	return c.kid
}
