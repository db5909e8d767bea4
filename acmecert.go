// Package acmecert provisions and maintains TLS server certificates from
// an ACME (RFC 8555) directory using the HTTP-01 challenge. A host
// application calls Provision with a Config and its existing plaintext
// handler, and receives a TlsConfigHandle whose TLSConfig() stays valid
// across renewals, plus the HTTP-01 responder to mount on its listener.
//
// Package layout mirrors the engines this module separates: acme (the
// JOSE-signed request pipeline and order state machine), responder (the
// HTTP-01 middleware), certstore (on-disk persistence and crash
// recovery), scheduler (the renewal loop), and identity (keypair
// storage) — adapted from the teacher's acme/client, acme/keys and net
// packages, reshaped around the Client value this module threads
// explicitly instead of the teacher's module-level singletons.
package acmecert

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/net/http2"

	"github.com/go-acmecert/acmecert/acme"
	"github.com/go-acmecert/acmecert/acme/keys"
	"github.com/go-acmecert/acmecert/certstore"
	"github.com/go-acmecert/acmecert/identity"
	"github.com/go-acmecert/acmecert/responder"
	"github.com/go-acmecert/acmecert/scheduler"
)

// TlsConfigHandle exposes the live TLS server configuration produced by
// Provision, and a way to stop the background renewal loop (spec.md
// §4.J). The handle holds a strong reference to the current
// CertificateBundle via the scheduler; rotation is an atomic reference
// swap readers of TLSConfig never observe partially.
type TlsConfigHandle struct {
	scheduler *scheduler.Scheduler
}

// TLSConfig returns a *tls.Config whose GetCertificate always serves the
// current certificate, live across renewals. NextProtos is set up for
// h2-over-ALPN the way a host's own http2.ConfigureServer call would, so a
// *http.Server using this config negotiates HTTP/2 without the host having
// to know this library touches ALPN at all.
func (h *TlsConfigHandle) TLSConfig() *tls.Config {
	return &tls.Config{
		NextProtos: []string{http2.NextProtoTLS, "http/1.1"},
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			bundle := h.scheduler.Current()
			if bundle == nil {
				return nil, fmt.Errorf("acmecert: no certificate provisioned yet")
			}
			return bundle.TLS, nil
		},
	}
}

// CheckForRenewal forces an immediate expiry check, used by tests that
// need to observe a renewal without waiting on the scheduler's timer
// (spec.md §8 scenario 3).
func (h *TlsConfigHandle) CheckForRenewal(ctx context.Context) error {
	return h.scheduler.CheckForRenewal(ctx)
}

// StopAutoRenewal cancels the scheduler's background timer. Any
// in-flight issuance completes; nothing further is scheduled.
func (h *TlsConfigHandle) StopAutoRenewal() {
	h.scheduler.Stop()
}

// Provision is the library's entry point: it loads or generates the
// account identity, registers or recovers the ACME account, recovers any
// interrupted renewal, issues a certificate if none is current, and
// starts the background renewal loop. next is the host's existing
// plaintext handler, if any (may be nil); the returned *responder.Responder
// wraps it and must be mounted on the host's port-80 listener so ACME can
// reach /.well-known/acme-challenge/{token} during issuance and renewal.
func Provision(ctx context.Context, cfg Config, next http.Handler) (*TlsConfigHandle, *responder.Responder, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.SettingsPath, 0o755); err != nil {
		return nil, nil, &Error{Kind: KindConfiguration, Err: fmt.Errorf("creating SettingsPath: %w", err)}
	}

	accountIdentity, err := identity.Load(filepath.Join(cfg.SettingsPath, "account-identity.pem"))
	if err != nil {
		return nil, nil, err
	}

	client, err := acme.NewClient(ctx, acme.Config{
		Server:       cfg.Server,
		DirectoryURL: cfg.DirectoryURL,
		CACertPath:   cfg.CACertPath,
		AccountKey:   accountIdentity.Signer(),
	})
	if err != nil {
		return nil, nil, err
	}

	if _, err := client.Recover(ctx); err != nil {
		if _, err := client.Register(ctx, acme.RegisterOptions{Contact: cfg.Contacts}); err != nil {
			return nil, nil, err
		}
	}

	resp := responder.New(next)

	store, err := certstore.Open(cfg.SettingsPath)
	if err != nil {
		return nil, nil, err
	}

	issue := func(ctx context.Context) (*certstore.Bundle, error) {
		return issueCertificate(ctx, client, store, resp, cfg.Domains)
	}

	sched := scheduler.New(store, issue, nil)
	if _, err := sched.Start(ctx); err != nil {
		return nil, nil, err
	}

	return &TlsConfigHandle{scheduler: sched}, resp, nil
}

// issueCertificate runs one full order attempt and persists the result
// (spec.md §4.F + §4.H's write-order-matters Replace).
func issueCertificate(ctx context.Context, client *acme.Client, store *certstore.Store, resp *responder.Responder, domains []string) (*certstore.Bundle, error) {
	certKey, err := keys.NewSigner()
	if err != nil {
		return nil, err
	}

	csrDER, err := keys.NewCSR(certKey, domains)
	if err != nil {
		return nil, err
	}

	chainPEM, err := client.ObtainCertificate(ctx, domains, csrDER, resp.Provision)
	if err != nil {
		return nil, err
	}

	return store.Replace(chainPEM, certstore.EncodeKeyPEM(certKey))
}
