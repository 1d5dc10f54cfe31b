package relay

import (
	"context"
	"fmt"

	"github.com/sapid/acmetk/acme/models"
)

// Broker implements the broker relay mode (spec §4.6): new-order never
// touches upstream; the upstream order is created only at finalize time,
// keeping upstream failures opaque to the end user (the client only ever
// sees orderInvalid, never an upstream problem document).
type Broker struct {
	Client Client
}

// Finalize implements finalize.Issuer for broker mode: create the upstream
// order, drive its authorizations to completion, finalize upstream,
// download the chain. Upstream challenge errors are swallowed — the caller
// only observes a generic failure, per spec §4.5's "Broker" contract.
func (b *Broker) Finalize(ctx context.Context, order *models.Order, names []string, csr []byte) (der []byte, fullChainPEM []byte, err error) {
	upstream, err := b.Client.OrderCreate(ctx, names)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: create upstream order: %w", err)
	}

	if err := b.Client.AuthorizationsComplete(ctx, upstream); err != nil {
		return nil, nil, &CouldNotCompleteChallenge{OrderURL: upstream.URL, Cause: err}
	}

	finalized, err := b.Client.OrderFinalize(ctx, upstream, csr)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: finalize upstream order: %w", err)
	}

	chain, err := b.Client.CertificateGet(ctx, finalized)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: download certificate: %w", err)
	}

	leaf, err := leafDER(chain)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: decode certificate chain: %w", err)
	}

	return leaf, chain, nil
}
