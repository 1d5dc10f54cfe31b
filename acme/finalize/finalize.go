// Package finalize implements the Order Finalization Engine (spec §4.5):
// CSR validation against an order's identifier set, and the mode-specific
// background issuance that drives an order from PROCESSING to its terminal
// status.
package finalize

import (
	"context"
	"fmt"
	"log"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/models"
	"github.com/sapid/acmetk/acme/statemachine"
)

// Issuer performs the mode-specific part of finalization (spec §4.6):
// Standalone signs locally, Broker/Proxy drive an upstream order. It is
// invoked from the background task after the order has been marked
// PROCESSING and committed.
type Issuer interface {
	// Finalize produces the certificate for order given its validated CSR
	// and the order's identifier names. It may block on upstream I/O; the
	// Engine applies no deadline of its own, so any bound on that wait is
	// the Issuer's (Proxy bounds its upstream finalize call). names is passed in rather than looked up
	// by the Issuer because the background task already holds the only
	// session open at this point (spec §5: one session per task).
	Finalize(ctx context.Context, order *models.Order, names []string, csr []byte) (der []byte, fullChainPEM []byte, err error)
}

// TaskEnqueuer schedules fn to run asynchronously, identified by (kid,
// resourceID) (spec §5). acme/tasks.Pool implements this; it uses the key
// for logging only and does not serialize tasks that share a key.
type TaskEnqueuer interface {
	Enqueue(kid, resourceID string, fn func(context.Context))
}

// Engine is the Order Finalization Engine.
type Engine struct {
	Store        models.Store
	Tasks        TaskEnqueuer
	Issuer       Issuer
	MinRSABits   int
	MinECDSABits int
}

// NewEngine constructs an Engine with the spec's default minimums (2048-bit
// RSA, 256-bit ECDSA, matching common CA policy baselines).
func NewEngine(store models.Store, tasks TaskEnqueuer, issuer Issuer) *Engine {
	return &Engine{
		Store:        store,
		Tasks:        tasks,
		Issuer:       issuer,
		MinRSABits:   2048,
		MinECDSABits: 256,
	}
}

// RequestFinalize implements spec §4.5's synchronous contract steps 1-5: it
// loads the order, checks it is READY, parses and validates the CSR,
// transitions the order to PROCESSING, commits, and enqueues the background
// issuance task. It returns the updated order for the handler to serialize.
func (e *Engine) RequestFinalize(ctx context.Context, kid, orderID string, csrDER []byte) (*models.Order, error) {
	sess, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("finalize: begin session: %w", err)
	}

	order, authzStatuses, orderNames, err := e.loadOrderForFinalize(ctx, sess, kid, orderID)
	if err != nil {
		sess.Rollback(ctx)
		return nil, err
	}

	recomputed := statemachine.Validate(order.Status, authzStatuses)
	if recomputed != acme.OrderReady {
		sess.Rollback(ctx)
		return nil, acme.NewError(acme.ErrOrderNotReady, "order is not ready for finalization")
	}

	csr, err := ParseCSR(csrDER)
	if err != nil {
		sess.Rollback(ctx)
		return nil, err
	}
	if err := MinKeyBitsOK(csr, e.MinRSABits, e.MinECDSABits); err != nil {
		sess.Rollback(ctx)
		return nil, err
	}
	if !MatchesOrderIdentifiers(IdentifierClosure(csr), orderNames) {
		sess.Rollback(ctx)
		return nil, acme.NewError(acme.ErrBadCSR, "CSR identifier set does not match order")
	}

	newStatus, err := statemachine.StartFinalizing(recomputed)
	if err != nil {
		sess.Rollback(ctx)
		return nil, acme.NewError(acme.ErrOrderNotReady, err.Error())
	}

	order.CSR = csrDER
	order.Status = newStatus
	sess.Add(order)
	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("finalize: commit: %w", err)
	}

	e.Tasks.Enqueue(kid, orderID, func(ctx context.Context) {
		e.runIssuance(ctx, kid, orderID)
	})

	return order, nil
}

func (e *Engine) loadOrderForFinalize(ctx context.Context, sess models.Session, kid, orderID string) (*models.Order, []acme.AuthorizationStatus, []string, error) {
	order, err := sess.GetOrder(ctx, kid, orderID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("finalize: load order: %w", err)
	}

	idents, err := sess.GetIdentifiersByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("finalize: load identifiers: %w", err)
	}

	var names []string
	var authzStatuses []acme.AuthorizationStatus
	for _, ident := range idents {
		names = append(names, ident.Value)
		authzs, err := sess.GetAuthorizationsByIdentifier(ctx, ident.IdentifierID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("finalize: load authorizations: %w", err)
		}
		for _, a := range authzs {
			authzStatuses = append(authzStatuses, a.Status)
		}
	}

	return order, authzStatuses, names, nil
}

// runIssuance is the background task body (spec §4.5 step 6 /
// handle_order_finalize). It opens its own session, never reusing the
// handler's (spec §5), and drives the order to its terminal status.
func (e *Engine) runIssuance(ctx context.Context, kid, orderID string) {
	sess, err := e.Store.Begin(ctx)
	if err != nil {
		log.Printf("finalize: background task: begin session for order %s: %v", orderID, err)
		return
	}

	order, err := sess.GetOrder(ctx, kid, orderID)
	if err != nil {
		log.Printf("finalize: background task: reload order %s: %v", orderID, err)
		sess.Rollback(ctx)
		return
	}

	idents, err := sess.GetIdentifiersByOrder(ctx, orderID)
	if err != nil {
		log.Printf("finalize: background task: reload identifiers for order %s: %v", orderID, err)
		sess.Rollback(ctx)
		return
	}
	names := make([]string, len(idents))
	for i, ident := range idents {
		names[i] = ident.Value
	}

	der, fullChain, err := e.Issuer.Finalize(ctx, order, names, order.CSR)
	if err != nil {
		log.Printf("finalize: issuance failed for order %s: %v", orderID, err)
		order.Status, _ = statemachine.FailFinalizing(order.Status)
		sess.Add(order)
		if cerr := sess.Commit(ctx); cerr != nil {
			log.Printf("finalize: commit failure status for order %s: %v", orderID, cerr)
		}
		return
	}

	cert := &models.Certificate{
		CertificateID: orderID,
		OrderID:       orderID,
		Status:        acme.CertificateValid,
		DER:           der,
		FullChainPEM:  fullChain,
	}
	order.CertificateID = cert.CertificateID
	order.Status, err = statemachine.CompleteFinalizing(order.Status)
	if err != nil {
		log.Printf("finalize: order %s reached an unexpected status before completion: %v", orderID, err)
	}

	sess.Add(cert, order)
	if err := sess.Commit(ctx); err != nil {
		log.Printf("finalize: commit issued certificate for order %s: %v", orderID, err)
	}
}
