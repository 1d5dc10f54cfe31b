// Package relayclient is the internal ACME client relay modes drive against
// an upstream ACME CA (spec §6.4). It is grounded on acme/client's Client
// (directory caching, nonce refresh, account bootstrap) but rewritten
// against go-jose/go-jose/v4: the teacher's acme/client/jws.go signs with
// the undeclared gopkg.in/square/go-jose.v2, which is not reused here (see
// DESIGN.md).
package relayclient

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/relay/relayclient/netclient"
)

// Config configures a Client instance.
type Config struct {
	// DirectoryURL is the upstream ACME server's directory endpoint.
	DirectoryURL string
	// CABundlePath optionally overrides the system trust roots for HTTPS
	// requests to the upstream CA.
	CABundlePath string
	// Contact is used as a mailto: contact when auto-registering an
	// upstream account.
	Contact string
}

func (c *Config) normalize() error {
	c.DirectoryURL = strings.TrimSpace(c.DirectoryURL)
	if c.DirectoryURL == "" {
		return fmt.Errorf("relayclient: DirectoryURL must not be empty")
	}
	if _, err := url.Parse(c.DirectoryURL); err != nil {
		return fmt.Errorf("relayclient: DirectoryURL invalid: %w", err)
	}
	return nil
}

// Client is a low-level ACME client for the single upstream account a relay
// adapter (Broker or Proxy) authenticates as. Unlike the teacher's
// interactive client it holds exactly one account and is safe for
// concurrent use by multiple relay tasks.
type Client struct {
	net          *netclient.Client
	directoryURL string

	signer crypto.Signer
	kid    string

	mu        sync.Mutex
	directory map[string]any
	nonce     string
}

// New creates a Client, fetching the upstream directory and registering (or
// reusing, via only_return_existing semantics is left to the caller) an
// account with signer as its keypair.
func New(ctx context.Context, conf Config, signer crypto.Signer) (*Client, error) {
	if err := conf.normalize(); err != nil {
		return nil, err
	}

	net, err := netclient.New(netclient.Config{CABundlePath: conf.CABundlePath})
	if err != nil {
		return nil, fmt.Errorf("relayclient: build HTTP transport: %w", err)
	}

	c := &Client{net: net, directoryURL: conf.DirectoryURL, signer: signer}

	if err := c.updateDirectory(ctx); err != nil {
		return nil, err
	}
	if err := c.refreshNonce(ctx); err != nil {
		return nil, err
	}
	if err := c.registerAccount(ctx, conf.Contact); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) updateDirectory(ctx context.Context) error {
	resp, err := c.net.Get(ctx, c.directoryURL)
	if err != nil {
		return fmt.Errorf("relayclient: fetch directory: %w", err)
	}
	var dir map[string]any
	if err := json.Unmarshal(resp.Body, &dir); err != nil {
		return fmt.Errorf("relayclient: decode directory: %w", err)
	}

	c.mu.Lock()
	c.directory = dir
	c.mu.Unlock()
	return nil
}

func (c *Client) endpointURL(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.directory[name]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok && s != ""
}

func (c *Client) refreshNonce(ctx context.Context) error {
	url, ok := c.endpointURL(acme.NewNonceEndpoint)
	if !ok {
		return fmt.Errorf("relayclient: directory has no %q entry", acme.NewNonceEndpoint)
	}

	resp, err := c.net.Head(ctx, url)
	if err != nil {
		return fmt.Errorf("relayclient: new-nonce request: %w", err)
	}
	nonce := resp.Header.Get(acme.ReplayNonceHeader)
	if nonce == "" {
		return fmt.Errorf("relayclient: new-nonce response had no %s header", acme.ReplayNonceHeader)
	}

	c.mu.Lock()
	c.nonce = nonce
	c.mu.Unlock()
	return nil
}

// takeNonce consumes the stored nonce for a signed request; storeNonce
// refills it from the response, mirroring the teacher's Client.Nonce
// refresh-on-use cycle.
func (c *Client) takeNonce() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nonce
	c.nonce = ""
	return n
}

func (c *Client) storeNonce(resp *netclient.Response) {
	if resp == nil {
		return
	}
	if n := resp.Header.Get(acme.ReplayNonceHeader); n != "" {
		c.mu.Lock()
		c.nonce = n
		c.mu.Unlock()
	}
}

// registerAccount performs new-account with EmbedKey signing, matching RFC
// 8555 §7.3's bootstrap (an account has no kid until one is assigned).
// onlyReturnExisting is not used: a relay account is provisioned once, at
// startup, and its kid persists for the adapter's lifetime.
func (c *Client) registerAccount(ctx context.Context, contact string) error {
	url, ok := c.endpointURL(acme.NewAccountEndpoint)
	if !ok {
		return fmt.Errorf("relayclient: directory has no %q entry", acme.NewAccountEndpoint)
	}

	payload := map[string]any{"termsOfServiceAgreed": true}
	if contact != "" {
		payload["contact"] = []string{"mailto:" + contact}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.postJWS(ctx, url, body, true)
	if err != nil {
		return fmt.Errorf("relayclient: new-account: %w", err)
	}

	kid := resp.Header.Get("Location")
	if kid == "" {
		return fmt.Errorf("relayclient: new-account response had no Location header")
	}
	c.kid = kid
	return nil
}
