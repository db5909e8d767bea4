// Package resources provides the ACME protocol resource types shared by the
// directory, account, order, authorization and challenge flows. See RFC 8555
// §7 for the JSON shapes these mirror.
package resources

// Identifier is a subject identifier that can be included in a certificate.
// In practice ACME servers in the wild only support the "dns" type.
//
// See https://tools.ietf.org/html/rfc8555#section-9.7.7
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Problem is an RFC 7807 problem document as returned by an ACME server for
// a failed request, a failed authorization, or a failed challenge.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Order represents a collection of identifiers an account wants a
// certificate for, and the state of that issuance attempt.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.3
type Order struct {
	// URL is the server-assigned Order URL, taken from the Location header of
	// the newOrder response. It is not part of the JSON body.
	URL string `json:"-"`
	// Status is one of pending, ready, processing, valid, invalid.
	Status         string       `json:"status"`
	Expires        string       `json:"expires,omitempty"`
	Identifiers    []Identifier `json:"identifiers"`
	Authorizations []string     `json:"authorizations"`
	Finalize       string       `json:"finalize"`
	Certificate    string       `json:"certificate,omitempty"`
	Error          *Problem     `json:"error,omitempty"`
}

func (o Order) String() string {
	return o.URL
}

// Done reports whether the Order has reached a terminal status.
func (o Order) Done() bool {
	return o.Status == StatusValid || o.Status == StatusInvalid
}

// Authorization represents an account's authorization to act for a specific
// identifier, established by completing one of its Challenges.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.4
type Authorization struct {
	URL        string      `json:"-"`
	Status     string      `json:"status"`
	Identifier Identifier  `json:"identifier"`
	Challenges []Challenge `json:"challenges"`
	Expires    string      `json:"expires,omitempty"`
	Wildcard   bool        `json:"wildcard,omitempty"`
	Error      *Problem    `json:"error,omitempty"`
}

func (a Authorization) String() string {
	return a.URL
}

// HTTP01 returns the first http-01 Challenge in the Authorization, per
// spec.md §4.F's tie-break rule of using the first one listed.
func (a Authorization) HTTP01() (Challenge, bool) {
	for _, c := range a.Challenges {
		if c.Type == ChallengeHTTP01 {
			return c, true
		}
	}
	return Challenge{}, false
}

// Challenge represents a single action the client can take to prove control
// of an identifier.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.5
type Challenge struct {
	Type   string   `json:"type"`
	URL    string   `json:"url"`
	Token  string   `json:"token"`
	Status string   `json:"status"`
	Error  *Problem `json:"error,omitempty"`
}

func (c Challenge) String() string {
	return c.URL
}

// Account represents the server-side ACME account resource. Its key material
// lives in the identity store, not here — see identity.Store.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.2
type Account struct {
	// KID is the account URL (the Location header from newAccount), used as
	// the JWS "kid" protected header for all subsequent requests.
	KID     string   `json:"-"`
	Status  string   `json:"status,omitempty"`
	Contact []string `json:"contact,omitempty"`
}

func (a Account) String() string {
	return a.KID
}

// Order/Authorization/Challenge status constants, RFC 8555 §7.1.6.
const (
	StatusPending    = "pending"
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusValid      = "valid"
	StatusInvalid    = "invalid"
	StatusDeactivated = "deactivated"
	StatusExpired    = "expired"
	StatusRevoked    = "revoked"

	ChallengeHTTP01 = "http-01"

	IdentifierDNS = "dns"
)
