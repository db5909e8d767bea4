package acme

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-acmecert/acmecert/acme/keys"
	"github.com/go-acmecert/acmecert/acme/resources"
)

// mockServer is a minimal in-memory ACME server exercising the directory,
// nonce, account, order, authorization, challenge and finalize flows this
// package's engine drives. Grounded on the teacher's own test posture of
// talking to a real server (Pebble) rather than mocking; since this module
// must not run the Go toolchain, httptest stands in so these tests are
// self-contained and still exercise the real wire format.
type mockServer struct {
	mu           sync.Mutex
	nonces       map[string]bool
	nonceCounter int
	badNonceOnce bool

	accountCreated bool

	authzStatus map[string]string // authzURL -> status
	orderStatus string

	server *httptest.Server
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{
		nonces:      make(map[string]bool),
		authzStatus: map[string]string{"/authz/1": resources.StatusPending},
		orderStatus: resources.StatusPending,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/directory", m.handleDirectory)
	mux.HandleFunc("/new-nonce", m.handleNewNonce)
	mux.HandleFunc("/new-account", m.handleNewAccount)
	mux.HandleFunc("/new-order", m.handleNewOrder)
	mux.HandleFunc("/authz/1", m.handleAuthz)
	mux.HandleFunc("/challenge/1", m.handleChallenge)
	mux.HandleFunc("/order/1", m.handleOrder)
	mux.HandleFunc("/finalize/1", m.handleFinalize)
	mux.HandleFunc("/cert/1", m.handleCert)

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockServer) url(path string) string { return m.server.URL + path }

func (m *mockServer) issueNonce(w http.ResponseWriter) {
	m.mu.Lock()
	m.nonceCounter++
	nonce := fmt.Sprintf("nonce-%d", m.nonceCounter)
	m.nonces[nonce] = true
	m.mu.Unlock()
	w.Header().Set(ReplayNonceHeader, nonce)
}

func (m *mockServer) handleDirectory(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{
		NewNonceEndpoint:   m.url("/new-nonce"),
		NewAccountEndpoint: m.url("/new-account"),
		NewOrderEndpoint:   m.url("/new-order"),
	})
}

func (m *mockServer) handleNewNonce(w http.ResponseWriter, r *http.Request) {
	m.issueNonce(w)
	w.WriteHeader(http.StatusNoContent)
}

func (m *mockServer) handleNewAccount(w http.ResponseWriter, r *http.Request) {
	if m.badNonceOnce {
		m.badNonceOnce = false
		m.issueNonce(w)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(resources.Problem{
			Type: "urn:ietf:params:acme:error:badNonce", Detail: "bad nonce", Status: 400,
		})
		return
	}

	m.issueNonce(w)
	m.accountCreated = true
	w.Header().Set("Location", m.url("/account/1"))
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resources.Account{Status: resources.StatusValid})
}

func (m *mockServer) handleNewOrder(w http.ResponseWriter, r *http.Request) {
	m.issueNonce(w)
	w.Header().Set("Location", m.url("/order/1"))
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resources.Order{
		Status:         resources.StatusPending,
		Identifiers:    []resources.Identifier{{Type: resources.IdentifierDNS, Value: "example.test"}},
		Authorizations: []string{m.url("/authz/1")},
		Finalize:       m.url("/finalize/1"),
	})
}

func (m *mockServer) handleAuthz(w http.ResponseWriter, r *http.Request) {
	m.issueNonce(w)
	m.mu.Lock()
	status := m.authzStatus["/authz/1"]
	m.mu.Unlock()

	_ = json.NewEncoder(w).Encode(resources.Authorization{
		Status:     status,
		Identifier: resources.Identifier{Type: resources.IdentifierDNS, Value: "example.test"},
		Challenges: []resources.Challenge{{
			Type:   resources.ChallengeHTTP01,
			URL:    m.url("/challenge/1"),
			Token:  "test-token",
			Status: status,
		}},
	})
}

func (m *mockServer) handleChallenge(w http.ResponseWriter, r *http.Request) {
	m.issueNonce(w)
	m.mu.Lock()
	m.authzStatus["/authz/1"] = resources.StatusValid
	m.orderStatus = resources.StatusReady
	m.mu.Unlock()

	_ = json.NewEncoder(w).Encode(resources.Challenge{
		Type: resources.ChallengeHTTP01, URL: m.url("/challenge/1"), Token: "test-token",
		Status: resources.StatusProcessing,
	})
}

func (m *mockServer) handleOrder(w http.ResponseWriter, r *http.Request) {
	m.issueNonce(w)
	m.mu.Lock()
	status := m.orderStatus
	m.mu.Unlock()

	order := resources.Order{Status: status, Finalize: m.url("/finalize/1")}
	if status == resources.StatusValid {
		order.Certificate = m.url("/cert/1")
	}
	_ = json.NewEncoder(w).Encode(order)
}

func (m *mockServer) handleFinalize(w http.ResponseWriter, r *http.Request) {
	m.issueNonce(w)
	m.mu.Lock()
	m.orderStatus = resources.StatusValid
	m.mu.Unlock()

	_ = json.NewEncoder(w).Encode(resources.Order{
		Status:      resources.StatusValid,
		Certificate: m.url("/cert/1"),
		Finalize:    m.url("/finalize/1"),
	})
}

func (m *mockServer) handleCert(w http.ResponseWriter, r *http.Request) {
	m.issueNonce(w)
	w.Header().Set("Content-Type", "application/pem-certificate-chain")
	_, _ = w.Write([]byte("-----BEGIN CERTIFICATE-----\nmock\n-----END CERTIFICATE-----\n"))
}

func testAccountKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestRegisterSetsKID(t *testing.T) {
	m := newMockServer(t)
	ctx := context.Background()

	client, err := NewClient(ctx, Config{DirectoryURL: m.url("/directory"), AccountKey: testAccountKey(t)})
	require.NoError(t, err)

	account, err := client.Register(ctx, RegisterOptions{})
	require.NoError(t, err)
	require.Equal(t, resources.StatusValid, account.Status)
	require.Equal(t, m.url("/account/1"), client.KID())
}

func TestBadNonceRetriesExactlyOnce(t *testing.T) {
	m := newMockServer(t)
	m.badNonceOnce = true
	ctx := context.Background()

	client, err := NewClient(ctx, Config{DirectoryURL: m.url("/directory"), AccountKey: testAccountKey(t)})
	require.NoError(t, err)

	_, err = client.Register(ctx, RegisterOptions{})
	require.NoError(t, err)
	require.True(t, m.accountCreated)
	require.False(t, m.badNonceOnce)
}

func TestObtainCertificateEndToEnd(t *testing.T) {
	m := newMockServer(t)
	ctx := context.Background()

	client, err := NewClient(ctx, Config{DirectoryURL: m.url("/directory"), AccountKey: testAccountKey(t)})
	require.NoError(t, err)

	_, err = client.Register(ctx, RegisterOptions{})
	require.NoError(t, err)

	certKey := testAccountKey(t)
	csrDER, err := keys.NewCSR(certKey, []string{"example.test"})
	require.NoError(t, err)

	var provisioned string
	chain, err := client.ObtainCertificate(ctx, []string{"example.test"}, csrDER, func(token, keyAuth string) func() {
		provisioned = keyAuth
		return func() {}
	})
	require.NoError(t, err)
	require.Contains(t, string(chain), "BEGIN CERTIFICATE")
	require.NotEmpty(t, provisioned)
}
