package relayclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/relay"
)

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// wireOrder is the RFC 8555 §7.1.3 Order resource as the upstream CA
// serializes it, grounded on acme/resources/order.go.
type wireOrder struct {
	Status         string   `json:"status"`
	Identifiers    []ident  `json:"identifiers"`
	Authorizations []string `json:"authorizations"`
	Finalize       string   `json:"finalize"`
	Certificate    string   `json:"certificate,omitempty"`
}

type ident struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type wireAuthorization struct {
	Status     string          `json:"status"`
	Identifier ident           `json:"identifier"`
	Challenges []wireChallenge `json:"challenges"`
}

type wireChallenge struct {
	URL    string `json:"url"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Token  string `json:"token"`
}

// OrderCreate implements relay.Client. It is the upstream counterpart of
// this server's own new-order handler.
func (c *Client) OrderCreate(ctx context.Context, identifiers []string) (*relay.UpstreamOrder, error) {
	url, ok := c.endpointURL(acme.NewOrderEndpoint)
	if !ok {
		return nil, fmt.Errorf("relayclient: upstream directory has no %q entry", acme.NewOrderEndpoint)
	}

	idents := make([]ident, len(identifiers))
	for i, name := range identifiers {
		idents[i] = ident{Type: string(acme.IdentifierDNS), Value: name}
	}
	body, err := json.Marshal(map[string]any{"identifiers": idents})
	if err != nil {
		return nil, err
	}

	resp, err := c.postJWS(ctx, url, body, false)
	if err != nil {
		return nil, fmt.Errorf("relayclient: create order: %w", err)
	}

	var wo wireOrder
	if err := json.Unmarshal(resp.Body, &wo); err != nil {
		return nil, fmt.Errorf("relayclient: decode order: %w", err)
	}

	orderURL := resp.Header.Get("Location")
	return toUpstreamOrder(orderURL, wo), nil
}

// OrderGet implements relay.Client, fetching the current state of a
// previously-created upstream order via POST-as-GET.
func (c *Client) OrderGet(ctx context.Context, url string) (*relay.UpstreamOrder, error) {
	resp, err := c.postAsGet(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("relayclient: fetch order: %w", err)
	}
	var wo wireOrder
	if err := json.Unmarshal(resp.Body, &wo); err != nil {
		return nil, fmt.Errorf("relayclient: decode order: %w", err)
	}
	return toUpstreamOrder(url, wo), nil
}

func toUpstreamOrder(url string, wo wireOrder) *relay.UpstreamOrder {
	return &relay.UpstreamOrder{
		URL:               url,
		Status:            wo.Status,
		FinalizeURL:       wo.Finalize,
		CertificateURL:    wo.Certificate,
		AuthorizationURLs: wo.Authorizations,
	}
}

const (
	pollInterval = 500 * time.Millisecond
	pollTimeout  = 30 * time.Second
)

// AuthorizationsComplete implements relay.Client: it walks every
// authorization on the order, triggers its first pending challenge, and
// polls until every authorization reaches a terminal status (spec §6.4's
// "may raise CouldNotCompleteChallenge").
func (c *Client) AuthorizationsComplete(ctx context.Context, order *relay.UpstreamOrder) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, authzURL := range order.AuthorizationURLs {
		authzURL := authzURL
		g.Go(func() error {
			return c.completeAuthorization(gctx, authzURL)
		})
	}
	return g.Wait()
}

func (c *Client) completeAuthorization(ctx context.Context, authzURL string) error {
	authz, err := c.getAuthorization(ctx, authzURL)
	if err != nil {
		return err
	}
	if authz.Status == string(acme.AuthorizationValid) {
		return nil
	}

	var challenge *wireChallenge
	for i := range authz.Challenges {
		if authz.Challenges[i].Status == string(acme.ChallengePending) {
			challenge = &authz.Challenges[i]
			break
		}
	}
	if challenge == nil {
		return fmt.Errorf("relayclient: authorization %s has no pending challenge to complete", authzURL)
	}

	if _, err := c.postJWS(ctx, challenge.URL, []byte("{}"), false); err != nil {
		return fmt.Errorf("relayclient: trigger challenge %s: %w", challenge.URL, err)
	}

	deadline := time.Now().Add(pollTimeout)
	for {
		authz, err = c.getAuthorization(ctx, authzURL)
		if err != nil {
			return err
		}
		switch authz.Status {
		case string(acme.AuthorizationValid):
			return nil
		case string(acme.AuthorizationInvalid), string(acme.AuthorizationDeactivated),
			string(acme.AuthorizationExpired), string(acme.AuthorizationRevoked):
			return fmt.Errorf("relayclient: authorization %s reached terminal status %q", authzURL, authz.Status)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("relayclient: timed out waiting for authorization %s", authzURL)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *Client) getAuthorization(ctx context.Context, url string) (*wireAuthorization, error) {
	resp, err := c.postAsGet(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("relayclient: fetch authorization %s: %w", url, err)
	}
	var authz wireAuthorization
	if err := json.Unmarshal(resp.Body, &authz); err != nil {
		return nil, fmt.Errorf("relayclient: decode authorization %s: %w", url, err)
	}
	return &authz, nil
}

// OrderFinalize implements relay.Client: submit the CSR and poll the order
// until it reaches VALID or INVALID.
func (c *Client) OrderFinalize(ctx context.Context, order *relay.UpstreamOrder, csr []byte) (*relay.UpstreamOrder, error) {
	if order.FinalizeURL == "" {
		return nil, fmt.Errorf("relayclient: order %s has no finalize URL", order.URL)
	}

	body, err := json.Marshal(map[string]any{"csr": base64URLEncode(csr)})
	if err != nil {
		return nil, err
	}
	if _, err := c.postJWS(ctx, order.FinalizeURL, body, false); err != nil {
		return nil, fmt.Errorf("relayclient: submit CSR: %w", err)
	}

	deadline := time.Now().Add(pollTimeout)
	for {
		current, err := c.OrderGet(ctx, order.URL)
		if err != nil {
			return nil, err
		}
		switch acme.OrderStatus(current.Status) {
		case acme.OrderValid:
			return current, nil
		case acme.OrderInvalid:
			return nil, fmt.Errorf("relayclient: order %s finalize reached INVALID", order.URL)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("relayclient: timed out waiting for order %s to finalize", order.URL)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// CertificateGet implements relay.Client, downloading the full chain PEM.
func (c *Client) CertificateGet(ctx context.Context, order *relay.UpstreamOrder) ([]byte, error) {
	if order.CertificateURL == "" {
		return nil, fmt.Errorf("relayclient: order %s has no certificate URL", order.URL)
	}
	resp, err := c.postAsGet(ctx, order.CertificateURL)
	if err != nil {
		return nil, fmt.Errorf("relayclient: download certificate: %w", err)
	}
	return resp.Body, nil
}

// CertificateRevoke implements relay.Client (spec §4.7's upstream leg of
// revoke-cert).
func (c *Client) CertificateRevoke(ctx context.Context, certDER []byte, reason acme.RevocationReason) (bool, error) {
	url, ok := c.endpointURL(acme.RevokeCertEndpoint)
	if !ok {
		return false, fmt.Errorf("relayclient: upstream directory has no %q entry", acme.RevokeCertEndpoint)
	}

	body, err := json.Marshal(map[string]any{
		"certificate": base64URLEncode(certDER),
		"reason":      int(reason),
	})
	if err != nil {
		return false, err
	}

	if _, err := c.postJWS(ctx, url, body, false); err != nil {
		return false, fmt.Errorf("relayclient: revoke certificate: %w", err)
	}
	return true, nil
}
