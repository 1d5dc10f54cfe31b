package finalize

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/models"
	"github.com/stretchr/testify/require"
)

func buildCSR(t *testing.T, commonName string, sans []string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: commonName},
		DNSNames: sans,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	require.NoError(t, err)
	return der
}

// syncTasks runs enqueued work inline, standing in for acme/tasks.Pool in
// tests so assertions can observe the post-finalize state deterministically.
type syncTasks struct{}

func (syncTasks) Enqueue(kid, resourceID string, fn func(context.Context)) {
	fn(context.Background())
}

type fakeIssuer struct {
	der  []byte
	fail error
}

func (f *fakeIssuer) Finalize(ctx context.Context, order *models.Order, names []string, csr []byte) ([]byte, []byte, error) {
	if f.fail != nil {
		return nil, nil, f.fail
	}
	return f.der, nil, nil
}

func newOrderFixture(t *testing.T, store *models.MemStore, name string) (kid, orderID string) {
	t.Helper()
	ctx := context.Background()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)

	kid = "kid1"
	orderID = "order1"
	idID, err := sess.NextIdentifierID(ctx)
	require.NoError(t, err)
	ident := &models.Identifier{IdentifierID: idID, OrderID: orderID, Type: acme.IdentifierDNS, Value: name}
	authz := models.NewPending("authz1", *ident, time.Hour)
	authz.Status = acme.AuthorizationValid

	order := &models.Order{OrderID: orderID, Kid: kid, Status: acme.OrderPending, Expires: time.Now().Add(time.Hour)}
	sess.Add(order, ident, authz)
	require.NoError(t, sess.Commit(ctx))
	return kid, orderID
}

func TestRequestFinalizeSucceedsOnMatchingCSR(t *testing.T) {
	store := models.NewMemStore()
	kid, orderID := newOrderFixture(t, store, "example.test")

	engine := NewEngine(store, syncTasks{}, &fakeIssuer{der: []byte("leaf-der")})
	csr := buildCSR(t, "", []string{"example.test"})

	order, err := engine.RequestFinalize(context.Background(), kid, orderID, csr)
	require.NoError(t, err)
	require.Equal(t, acme.OrderValid, order.Status)
	require.NotEmpty(t, order.CertificateID)
}

func TestRequestFinalizeRejectsIdentifierMismatch(t *testing.T) {
	store := models.NewMemStore()
	kid, orderID := newOrderFixture(t, store, "a.test")

	engine := NewEngine(store, syncTasks{}, &fakeIssuer{der: []byte("leaf-der")})
	csr := buildCSR(t, "", []string{"b.test"})

	_, err := engine.RequestFinalize(context.Background(), kid, orderID, csr)
	require.Error(t, err)

	acmeErr := acme.AsError(err)
	require.NotNil(t, acmeErr)
	require.Equal(t, acme.ErrBadCSR, acmeErr.Code)
}

func TestRequestFinalizeSetsInvalidOnIssuanceFailure(t *testing.T) {
	store := models.NewMemStore()
	kid, orderID := newOrderFixture(t, store, "example.test")

	engine := NewEngine(store, syncTasks{}, &fakeIssuer{fail: acme.NewError(acme.ErrServerInternal, "upstream unreachable")})
	csr := buildCSR(t, "", []string{"example.test"})

	// syncTasks runs the background issuance inline, so by the time
	// RequestFinalize returns the order has already reached its terminal
	// status through the same code path a real deployment reaches
	// asynchronously.
	order, err := engine.RequestFinalize(context.Background(), kid, orderID, csr)
	require.NoError(t, err)
	require.Equal(t, acme.OrderInvalid, order.Status)
}
