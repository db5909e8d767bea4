// Package acme implements the RFC 8555 subset spec.md §4.B-F describe: a
// cached directory fetch, a replay-nonce pool, a JWS-signed request engine,
// account registration/recovery, and the order/authorization/challenge/
// finalize state machine. See acme/resources for the wire types and
// acme/keys for the JWK/thumbprint helpers this package signs with.
package acme

import "net/http"

const (
	// Directory endpoint keys. See https://tools.ietf.org/html/rfc8555#section-9.7.5
	NewNonceEndpoint   = "newNonce"
	NewAccountEndpoint = "newAccount"
	NewOrderEndpoint   = "newOrder"
	RevokeCertEndpoint = "revokeCert"
	KeyChangeEndpoint  = "keyChange"

	// ReplayNonceHeader is the HTTP response header ACME uses to convey a
	// fresh nonce. See https://tools.ietf.org/html/rfc8555#section-9.3
	ReplayNonceHeader = "Replay-Nonce"

	// JOSEContentType is the media type required for all signed ACME
	// requests. See https://tools.ietf.org/html/rfc8555#section-6.2
	JOSEContentType = "application/jose+json"

	// UserAgent identifies this module to ACME servers. Not
	// protocol-significant; see spec.md §9's open question about the
	// teacher's "small-tech.org-acme/1.0.0 node/12.16.0" value.
	UserAgent = "acmecert/0.1.0 (+go-jose/go-jose/v4)"

	acceptLanguage = "en-US"
)

// Server identifies a selectable ACME directory, per spec.md §6.
type Server int

const (
	Production Server = iota
	Staging
	Pebble
	Mock
)

// DirectoryURL resolves a Server to its absolute directory URL.
func (s Server) DirectoryURL() string {
	switch s {
	case Production:
		return "https://acme-v02.api.letsencrypt.org/directory"
	case Staging:
		return "https://acme-staging-v02.api.letsencrypt.org/directory"
	case Pebble:
		return "https://localhost:14000/dir"
	case Mock:
		return "http://localhost:9829/directory"
	default:
		return ""
	}
}

func (s Server) String() string {
	switch s {
	case Production:
		return "production"
	case Staging:
		return "staging"
	case Pebble:
		return "pebble"
	case Mock:
		return "mock"
	default:
		return "unknown"
	}
}

// setCommonHeaders applies the User-Agent and Accept-Language headers
// spec.md §4.D requires on every signed request, adapted from the teacher's
// net/acme.go httpRequest helper.
func setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept-Language", acceptLanguage)
}
