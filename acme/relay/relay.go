// Package relay implements the Upstream Relay Adapter (spec §4.6): the two
// orchestrations — Broker (upstream contact deferred to finalize) and Proxy
// (upstream order created at new-order time) — built on the internal ACME
// client interface from spec §6.4.
package relay

import (
	"context"
	"encoding/pem"
	"fmt"

	"github.com/sapid/acmetk/acme"
)

// UpstreamOrder is the internal ACME client's view of an order at the
// upstream CA, grounded on resources.Order in acme/resources/order.go —
// the same shape the teacher's client used to track a client-held order,
// now held by the relay adapter instead of an interactive shell.
type UpstreamOrder struct {
	URL               string
	Status            string
	FinalizeURL       string
	CertificateURL    string
	AuthorizationURLs []string
}

// Client is the internal ACME client interface relay modes drive against
// the upstream CA (spec §6.4). It deliberately excludes account
// provisioning: relay adapters are constructed with an already-registered
// upstream account.
type Client interface {
	OrderCreate(ctx context.Context, identifiers []string) (*UpstreamOrder, error)
	OrderGet(ctx context.Context, url string) (*UpstreamOrder, error)
	AuthorizationsComplete(ctx context.Context, order *UpstreamOrder) error
	OrderFinalize(ctx context.Context, order *UpstreamOrder, csr []byte) (*UpstreamOrder, error)
	CertificateGet(ctx context.Context, order *UpstreamOrder) (fullChainPEM []byte, err error)
	CertificateRevoke(ctx context.Context, certDER []byte, reason acme.RevocationReason) (bool, error)
}

// CouldNotCompleteChallenge reports that the upstream CA's challenges could
// not be driven to VALID, mirroring the
// acme_broker.client.exceptions.CouldNotCompleteChallenge distinction spec
// §6.4 calls out from a generic AcmeClientException.
type CouldNotCompleteChallenge struct {
	OrderURL string
	Cause    error
}

func (e *CouldNotCompleteChallenge) Error() string {
	return "could not complete upstream challenges for order " + e.OrderURL + ": " + e.Cause.Error()
}

func (e *CouldNotCompleteChallenge) Unwrap() error { return e.Cause }

// leafDER extracts the leaf certificate's DER bytes from a PEM chain as
// returned by CertificateGet, which places the end-entity certificate first
// (RFC 8555 §7.4.2).
func leafDER(chainPEM []byte) ([]byte, error) {
	block, _ := pem.Decode(chainPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("relay: no CERTIFICATE block found in chain")
	}
	return block.Bytes, nil
}
