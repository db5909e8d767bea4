package acme

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-acmecert/acmecert/acme/resources"
)

// newAccountPayload is the newAccount request body, RFC 8555 §7.3.
type newAccountPayload struct {
	TermsOfServiceAgreed bool     `json:"termsOfServiceAgreed"`
	Contact              []string `json:"contact,omitempty"`
	OnlyReturnExisting   bool     `json:"onlyReturnExisting,omitempty"`
}

// RegisterOptions configures Register.
type RegisterOptions struct {
	// Contact holds optional contact URIs (e.g. "mailto:admin@example.com").
	Contact []string
}

// Register creates a new ACME account for this Client's account key, or
// returns the existing one if the server already has an account bound to
// that key (RFC 8555 §7.3.1: the server itself does this lookup-by-key; we
// don't need a separate Recover call for that case). The Client's kid is
// set on success.
func (c *Client) Register(ctx context.Context, opts RegisterOptions) (*resources.Account, error) {
	return c.newAccountRequest(ctx, newAccountPayload{
		TermsOfServiceAgreed: true,
		Contact:              opts.Contact,
	})
}

// Recover looks up the account already bound to this Client's account key,
// failing if none exists (RFC 8555 §7.3.1 onlyReturnExisting). Used to
// resume using a previously persisted AccountIdentity without risking a
// duplicate registration.
func (c *Client) Recover(ctx context.Context) (*resources.Account, error) {
	return c.newAccountRequest(ctx, newAccountPayload{OnlyReturnExisting: true})
}

func (c *Client) newAccountRequest(ctx context.Context, payload newAccountPayload) (*resources.Account, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newError(KindAcmeRequest, "newAccount", err)
	}

	resp, err := c.do(ctx, signedRequest{
		command:             NewAccountEndpoint,
		payload:             body,
		useKid:              false,
		expectedStatusCodes: []int{http.StatusOK, http.StatusCreated},
	})
	if err != nil {
		return nil, err
	}

	var account resources.Account
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &account); err != nil {
			return nil, newError(KindAcmeRequest, "newAccount", err)
		}
	}
	account.KID = headerValue(resp.Header, "Location")

	c.kid = account.KID
	return &account, nil
}

func headerValue(h map[string][]string, key string) string {
	for k, v := range h {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
