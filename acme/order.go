package acme

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-acmecert/acmecert/acme/keys"
	"github.com/go-acmecert/acmecert/acme/resources"
)

// pollInitialDelay, pollMaxDelay and pollDeadline implement spec.md §4.F's
// authorization/order polling backoff: start at 1s, add 1s per attempt,
// cap at 10s, give up after 5 minutes total.
const (
	pollInitialDelay = 1 * time.Second
	pollStep         = 1 * time.Second
	pollMaxDelay     = 10 * time.Second
	pollDeadline     = 5 * time.Minute
)

// ChallengeHook provisions a token's key authorization for validation (via
// the HTTP-01 responder) and returns a cleanup func invoked once the
// challenge is resolved, win or lose.
type ChallengeHook func(token, keyAuthorization string) (cleanup func())

type newOrderPayload struct {
	Identifiers []resources.Identifier `json:"identifiers"`
}

type finalizePayload struct {
	CSR string `json:"csr"`
}

// NewOrder creates an order for the given DNS identifiers (RFC 8555 §7.4).
func (c *Client) NewOrder(ctx context.Context, domains []string) (*resources.Order, error) {
	identifiers := make([]resources.Identifier, len(domains))
	for i, d := range domains {
		identifiers[i] = resources.Identifier{Type: resources.IdentifierDNS, Value: d}
	}

	body, err := json.Marshal(newOrderPayload{Identifiers: identifiers})
	if err != nil {
		return nil, newError(KindAcmeRequest, "newOrder", err)
	}

	resp, err := c.do(ctx, signedRequest{
		command:             NewOrderEndpoint,
		payload:             body,
		useKid:              true,
		expectedStatusCodes: []int{http.StatusCreated},
	})
	if err != nil {
		return nil, err
	}

	var order resources.Order
	if err := json.Unmarshal(resp.Body, &order); err != nil {
		return nil, newError(KindAcmeRequest, "newOrder", err)
	}
	order.URL = headerValue(resp.Header, "Location")
	return &order, nil
}

// GetAuthorization fetches an authorization resource via POST-as-GET
// (RFC 8555 §7.5, §6.3).
func (c *Client) GetAuthorization(ctx context.Context, url string) (*resources.Authorization, error) {
	resp, err := c.do(ctx, signedRequest{
		explicitURL:         url,
		useKid:              true,
		expectedStatusCodes: []int{http.StatusOK},
	})
	if err != nil {
		return nil, err
	}

	var authz resources.Authorization
	if err := json.Unmarshal(resp.Body, &authz); err != nil {
		return nil, newError(KindAcmeRequest, "getAuthorization", err)
	}
	authz.URL = url
	return &authz, nil
}

// RespondToChallenge tells the server to begin validating a challenge by
// POSTing an empty JSON object to the challenge URL (RFC 8555 §7.5.1).
func (c *Client) RespondToChallenge(ctx context.Context, challengeURL string) (*resources.Challenge, error) {
	resp, err := c.do(ctx, signedRequest{
		explicitURL:         challengeURL,
		payload:             []byte("{}"),
		useKid:              true,
		expectedStatusCodes: []int{http.StatusOK},
	})
	if err != nil {
		return nil, err
	}

	var chal resources.Challenge
	if err := json.Unmarshal(resp.Body, &chal); err != nil {
		return nil, newError(KindAcmeRequest, "respondToChallenge", err)
	}
	return &chal, nil
}

// getOrder fetches an order resource via POST-as-GET.
func (c *Client) getOrder(ctx context.Context, url string) (*resources.Order, error) {
	resp, err := c.do(ctx, signedRequest{
		explicitURL:         url,
		useKid:              true,
		expectedStatusCodes: []int{http.StatusOK},
	})
	if err != nil {
		return nil, err
	}

	var order resources.Order
	if err := json.Unmarshal(resp.Body, &order); err != nil {
		return nil, newError(KindAcmeRequest, "getOrder", err)
	}
	order.URL = url
	return &order, nil
}

// Finalize submits a CSR for a ready order (RFC 8555 §7.4).
func (c *Client) Finalize(ctx context.Context, order *resources.Order, csrDER []byte) (*resources.Order, error) {
	body, err := json.Marshal(finalizePayload{CSR: base64.RawURLEncoding.EncodeToString(csrDER)})
	if err != nil {
		return nil, newError(KindAcmeRequest, "finalize", err)
	}

	resp, err := c.do(ctx, signedRequest{
		explicitURL:         order.Finalize,
		payload:             body,
		useKid:              true,
		expectedStatusCodes: []int{http.StatusOK},
	})
	if err != nil {
		return nil, err
	}

	var updated resources.Order
	if err := json.Unmarshal(resp.Body, &updated); err != nil {
		return nil, newError(KindAcmeRequest, "finalize", err)
	}
	updated.URL = order.URL
	return &updated, nil
}

// DownloadCertificate fetches the issued certificate chain as a raw,
// PEM-encoded byte sequence (RFC 8555 §7.4.2). signedResponse.Body is
// always the raw response bytes; callers JSON-unmarshal it themselves
// when the endpoint returns JSON (see account.go), and this one doesn't.
func (c *Client) DownloadCertificate(ctx context.Context, order *resources.Order) ([]byte, error) {
	resp, err := c.do(ctx, signedRequest{
		explicitURL:         order.Certificate,
		useKid:              true,
		expectedStatusCodes: []int{http.StatusOK},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// pollAuthorization polls an authorization URL until it leaves the pending
// state, using a 1s-initial, +1s-per-attempt, 10s-capped linear backoff and
// a 5 minute overall deadline (spec.md §4.F).
func (c *Client) pollAuthorization(ctx context.Context, url string) (*resources.Authorization, error) {
	deadline := time.Now().Add(pollDeadline)
	delay := pollInitialDelay

	for {
		authz, err := c.GetAuthorization(ctx, url)
		if err != nil {
			return nil, err
		}
		if authz.Status != resources.StatusPending {
			return authz, nil
		}
		if time.Now().Add(delay).After(deadline) {
			return nil, newError(KindOrderTimeout, "pollAuthorization",
				errAuthorizationTimedOut(url))
		}

		select {
		case <-ctx.Done():
			return nil, newError(KindOrderTimeout, "pollAuthorization", ctx.Err())
		case <-time.After(delay):
		}

		delay += pollStep
		if delay > pollMaxDelay {
			delay = pollMaxDelay
		}
	}
}

// pollOrder polls an order URL until it reaches a terminal status (valid or
// invalid), with the same backoff as pollAuthorization. This is the
// "processing" state's POST-as-GET-every-T-seconds behavior (spec.md
// §4.F).
func (c *Client) pollOrder(ctx context.Context, url string) (*resources.Order, error) {
	return c.pollOrderUntil(ctx, url, func(order *resources.Order) bool { return order.Done() })
}

// pollOrderReady polls an order URL until the server has transitioned it
// out of pending (to ready, or straight to invalid if an authorization
// failed after this engine last observed it).
func (c *Client) pollOrderReady(ctx context.Context, url string) (*resources.Order, error) {
	return c.pollOrderUntil(ctx, url, func(order *resources.Order) bool {
		return order.Status != resources.StatusPending
	})
}

func (c *Client) pollOrderUntil(ctx context.Context, url string, settled func(*resources.Order) bool) (*resources.Order, error) {
	deadline := time.Now().Add(pollDeadline)
	delay := pollInitialDelay

	for {
		order, err := c.getOrder(ctx, url)
		if err != nil {
			return nil, err
		}
		if settled(order) {
			return order, nil
		}
		if time.Now().Add(delay).After(deadline) {
			return nil, newError(KindOrderTimeout, "pollOrder", errOrderTimedOut(url))
		}

		select {
		case <-ctx.Done():
			return nil, newError(KindOrderTimeout, "pollOrder", ctx.Err())
		case <-time.After(delay):
		}

		delay += pollStep
		if delay > pollMaxDelay {
			delay = pollMaxDelay
		}
	}
}

// ObtainCertificate runs the full order state machine for a set of
// domains: newOrder, per-authorization HTTP-01 challenge provisioning and
// polling, finalize, and certificate download. provision is invoked once
// per pending authorization with the challenge token and key
// authorization; its returned cleanup is called once that authorization
// settles, whatever the outcome.
func (c *Client) ObtainCertificate(ctx context.Context, domains []string, csrDER []byte, provision ChallengeHook) ([]byte, error) {
	order, err := c.NewOrder(ctx, domains)
	if err != nil {
		return nil, err
	}

	for _, authzURL := range order.Authorizations {
		authz, err := c.GetAuthorization(ctx, authzURL)
		if err != nil {
			return nil, err
		}
		if authz.Status == resources.StatusValid {
			continue
		}

		chal, ok := authz.HTTP01()
		if !ok {
			return nil, newError(KindOrderFailed, "ObtainCertificate", errNoHTTP01Challenge(authzURL))
		}

		keyAuth, err := keys.KeyAuth(c.accountKey, chal.Token)
		if err != nil {
			return nil, newError(KindOrderFailed, "ObtainCertificate", err)
		}

		cleanup := provision(chal.Token, keyAuth)
		if _, err := c.RespondToChallenge(ctx, chal.URL); err != nil {
			cleanup()
			return nil, err
		}

		settled, err := c.pollAuthorization(ctx, authzURL)
		cleanup()
		if err != nil {
			return nil, err
		}
		if settled.Status != resources.StatusValid {
			return nil, newError(KindOrderFailed, "ObtainCertificate", errAuthorizationFailed(authzURL, settled))
		}
	}

	order, err = c.pollOrderReady(ctx, order.URL)
	if err != nil {
		return nil, err
	}
	if order.Status == resources.StatusInvalid {
		return nil, newError(KindOrderFailed, "ObtainCertificate", errOrderInvalid(order))
	}

	order, err = c.Finalize(ctx, order, csrDER)
	if err != nil {
		return nil, err
	}

	order, err = c.pollOrder(ctx, order.URL)
	if err != nil {
		return nil, err
	}
	if order.Status != resources.StatusValid {
		return nil, newError(KindOrderFailed, "ObtainCertificate", errOrderInvalid(order))
	}

	return c.DownloadCertificate(ctx, order)
}
