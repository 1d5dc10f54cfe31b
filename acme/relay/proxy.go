package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sapid/acmetk/acme/models"
	"github.com/sapid/acmetk/acme/statemachine"
)

// TaskEnqueuer schedules fn to run asynchronously, keyed by (kid,
// resourceID), matching finalize.TaskEnqueuer's contract (spec §5). Declared
// locally rather than imported so relay does not depend on finalize;
// acme/tasks.Pool satisfies both.
type TaskEnqueuer interface {
	Enqueue(kid, resourceID string, fn func(context.Context))
}

// finalizeTimeout bounds the proxy's upstream finalize wait (spec §4.5:
// "bounded wait (10s)").
const finalizeTimeout = 10 * time.Second

// Proxy implements the proxy relay mode (spec §4.6): the upstream order is
// created eagerly, at new-order time, so upstream challenge failures are
// visible to the client as a local order transitioning to INVALID rather
// than being swallowed as they are in Broker mode.
type Proxy struct {
	Client Client
	Store  models.Store
	Tasks  TaskEnqueuer
}

// NewOrder creates the upstream order for names and enqueues the background
// completeChallenges task. It returns the upstream order URL, to be stored
// on the local order as ProxiedURL by the caller before commit.
func (p *Proxy) NewOrder(ctx context.Context, kid, orderID string, names []string) (proxiedURL string, err error) {
	upstream, err := p.Client.OrderCreate(ctx, names)
	if err != nil {
		return "", fmt.Errorf("relay: proxy: create upstream order: %w", err)
	}

	p.Tasks.Enqueue(kid, orderID, func(taskCtx context.Context) {
		p.completeChallenges(taskCtx, kid, orderID, upstream)
	})

	return upstream.URL, nil
}

// completeChallenges is the background task launched by NewOrder. It drives
// the upstream order's authorizations to completion; on failure the local
// order is set INVALID, reloaded and committed in its own session per spec
// §5's session-per-task discipline.
func (p *Proxy) completeChallenges(ctx context.Context, kid, orderID string, upstream *UpstreamOrder) {
	completeErr := p.Client.AuthorizationsComplete(ctx, upstream)
	if completeErr == nil {
		return
	}

	sess, err := p.Store.Begin(ctx)
	if err != nil {
		log.Printf("relay: proxy: begin session for order %s: %v", orderID, err)
		return
	}

	order, err := sess.GetOrder(ctx, kid, orderID)
	if err != nil {
		log.Printf("relay: proxy: reload order %s: %v", orderID, err)
		sess.Rollback(ctx)
		return
	}

	log.Printf("relay: proxy: upstream challenges failed for order %s: %v", orderID, completeErr)
	order.Status, err = statemachine.Invalidate(order.Status)
	if err != nil {
		log.Printf("relay: proxy: order %s already left a state that allows invalidation: %v", orderID, err)
		sess.Rollback(ctx)
		return
	}

	sess.Add(order)
	if err := sess.Commit(ctx); err != nil {
		log.Printf("relay: proxy: commit invalidated order %s: %v", orderID, err)
	}
}

// Finalize implements finalize.Issuer for proxy mode: the upstream order
// already exists (ProxiedURL, set by NewOrder), so finalize only submits the
// CSR upstream and waits, bounded, for completion (spec §4.5).
func (p *Proxy) Finalize(ctx context.Context, order *models.Order, names []string, csr []byte) (der []byte, fullChainPEM []byte, err error) {
	if order.ProxiedURL == "" {
		return nil, nil, fmt.Errorf("relay: proxy: order %s has no upstream order", order.OrderID)
	}

	upstream, err := p.Client.OrderGet(ctx, order.ProxiedURL)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: proxy: reload upstream order: %w", err)
	}

	finalizeCtx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()

	finalized, err := p.Client.OrderFinalize(finalizeCtx, upstream, csr)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: proxy: finalize upstream order: %w", err)
	}

	chain, err := p.Client.CertificateGet(ctx, finalized)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: proxy: download certificate: %w", err)
	}

	leaf, err := leafDER(chain)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: proxy: decode certificate chain: %w", err)
	}

	return leaf, chain, nil
}
