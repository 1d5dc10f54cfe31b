// Package netclient provides the HTTP transport used by the internal ACME
// client (spec §6.4), adapted from cpu.acmeshell's net package: the same
// User-Agent/TLS-trust plumbing, generalized to carry a context.Context on
// every request the way the rest of this module threads it through session
// and validator calls.
package netclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
)

const (
	version       = "0.0.1"
	userAgentBase = "acmetk-relay"
	locale        = "en-us"
)

// Config configures a Client's trust roots. An empty CABundlePath uses the
// system default trust store, matching relays that target a publicly
// trusted upstream CA.
type Config struct {
	CABundlePath string
}

func (c *Config) normalize() error {
	c.CABundlePath = strings.TrimSpace(c.CABundlePath)
	return nil
}

// Client performs the raw HTTP requests the internal ACME client needs
// against an upstream ACME server.
type Client struct {
	httpClient *http.Client
}

// New constructs a Client. If conf.CABundlePath is set, its PEM bundle is
// used as the sole trust root; otherwise the system roots are used.
func New(conf Config) (*Client, error) {
	if err := conf.normalize(); err != nil {
		return nil, err
	}

	transport := &http.Transport{}
	if conf.CABundlePath != "" {
		pemBundle, err := os.ReadFile(conf.CABundlePath)
		if err != nil {
			return nil, err
		}
		caBundle := x509.NewCertPool()
		if !caBundle.AppendCertsFromPEM(pemBundle) {
			return nil, fmt.Errorf("netclient: no certificates found in %q", conf.CABundlePath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: caBundle}
	}

	return &Client{httpClient: &http.Client{Transport: transport}}, nil
}

// Response holds the outcome of an HTTP round trip to the upstream CA.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (c *Client) do(req *http.Request) (*Response, error) {
	ua := fmt.Sprintf("%s %s (%s; %s)", userAgentBase, version, runtime.GOOS, runtime.GOARCH)
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", locale)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Head sends an HTTP HEAD request, used for new-nonce.
func (c *Client) Head(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Get sends an HTTP GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Post sends a JWS body as an ACME-flavored HTTP POST request.
func (c *Client) Post(ctx context.Context, url string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/jose+json")
	return c.do(req)
}
