package acme

import (
	"context"
	"encoding/json"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// signedRequest is a single JWS-signed POST against the ACME server: spec.md
// §4.D. Adapted from the teacher's Account.Sign/signEmbedded/signKeyID
// (acme/client/jws.go and acme/account.go), collapsed into one engine that
// also owns the POST, the badNonce retry, and Replay-Nonce harvesting —
// spec.md §9's "one engine + typed payloads" design note, replacing the
// teacher's per-verb signing helpers plus a separate PostURL call site.
type signedRequest struct {
	// command looks up the target URL in the directory; ignored if
	// explicitURL is set.
	command string
	// explicitURL overrides command, used for order/authorization/challenge
	// URLs the server handed back directly.
	explicitURL string
	// payload is the JSON (or, for POST-as-GET, empty) request body. A nil
	// payload signs the literal empty string per spec.md §4.D.3.
	payload []byte
	// useKid selects kid-based auth (post-registration); otherwise the
	// account's JWK is embedded, used only for newAccount.
	useKid bool
	// expectedStatusCodes are the HTTP statuses that count as success.
	expectedStatusCodes []int
}

// signedResponse is the result of a successful signedRequest.
type signedResponse struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
}

func (c *Client) resolveURL(req signedRequest) (string, error) {
	if req.explicitURL != "" {
		return req.explicitURL, nil
	}
	url, ok := c.dir.endpoint(req.command)
	if !ok {
		return "", fmt.Errorf("directory is missing %q", req.command)
	}
	return url, nil
}

// do executes a signedRequest, retrying exactly once on a badNonce error per
// spec.md §4.D.7.
func (c *Client) do(ctx context.Context, req signedRequest) (*signedResponse, error) {
	url, err := c.resolveURL(req)
	if err != nil {
		return nil, newError(KindAcmeRequest, req.command, err)
	}

	resp, problem, err := c.sendOnce(ctx, url, req)
	if err != nil {
		return nil, err
	}
	if problem != nil && problem.Type == "urn:ietf:params:acme:error:badNonce" {
		resp, problem, err = c.sendOnce(ctx, url, req)
		if err != nil {
			return nil, err
		}
	}
	if problem != nil {
		return nil, &Error{Kind: KindAcmeRequest, Op: req.command, Problem: problem}
	}
	return resp, nil
}

// sendOnce builds, signs and POSTs a single JWS. It returns either a
// successful *signedResponse, or a non-nil *Problem if the server responded
// with an ACME problem document (which the caller may choose to retry
// once), or a non-nil error for anything else (network failure, malformed
// response).
func (c *Client) sendOnce(ctx context.Context, url string, req signedRequest) (*signedResponse, *Problem, error) {
	nonce, err := c.nonces.take(ctx)
	if err != nil {
		return nil, nil, err
	}

	body := req.payload
	if body == nil {
		body = []byte("")
	}

	serialized, err := c.sign(url, body, nonce, req.useKid)
	if err != nil {
		return nil, nil, newError(KindAcmeRequest, req.command, err)
	}

	httpResp, err := c.net.Post(ctx, url, JOSEContentType, serialized)
	if err != nil {
		return nil, nil, newError(KindAcmeRequest, req.command, err)
	}

	// Every response, success or failure, carries a fresh nonce.
	c.nonces.put(httpResp.Header.Get(ReplayNonceHeader))

	for _, want := range req.expectedStatusCodes {
		if httpResp.StatusCode == want {
			return &signedResponse{
				StatusCode: httpResp.StatusCode,
				Header:     httpResp.Header,
				Body:       httpResp.Body,
			}, nil, nil
		}
	}

	var problem Problem
	if len(httpResp.Body) > 0 {
		_ = json.Unmarshal(httpResp.Body, &problem)
	}
	if problem.Type == "" {
		problem.Status = httpResp.StatusCode
	}
	return nil, &problem, nil
}

// sign produces a flattened-serialization JWS over the payload, using
// kid-based auth if useKid, otherwise an embedded JWK (spec.md §4.D.2-3).
func (c *Client) sign(url string, payload []byte, nonce string, useKid bool) ([]byte, error) {
	extra := map[jose.HeaderKey]interface{}{"url": url}

	var signingKey jose.SigningKey
	if useKid {
		if c.kid == "" {
			return nil, fmt.Errorf("jws: useKid requested but account has no kid yet")
		}
		signingKey = jose.SigningKey{
			Key: jose.JSONWebKey{
				Key:       c.accountKey,
				Algorithm: "RS256",
				KeyID:     c.kid,
			},
			Algorithm: jose.RS256,
		}
	} else {
		signingKey = jose.SigningKey{Key: c.accountKey, Algorithm: jose.RS256}
	}

	signerOpts := &jose.SignerOptions{
		NonceSource:  staticNonce(nonce),
		ExtraHeaders: extra,
	}
	if !useKid {
		signerOpts.EmbedJWK = true
	}

	signer, err := jose.NewSigner(signingKey, signerOpts)
	if err != nil {
		return nil, err
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, err
	}

	return []byte(signed.FullSerialize()), nil
}

// staticNonce adapts a single already-taken nonce value to jose.NonceSource,
// since this engine's noncePool (not go-jose) owns nonce lifecycle.
type staticNonce string

func (n staticNonce) Nonce() (string, error) {
	return string(n), nil
}
