package relay

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/models"
	"github.com/stretchr/testify/require"
)

// syncTasks runs enqueued work inline, mirroring the same helper in
// acme/finalize's tests so background task effects are observable
// synchronously.
type syncTasks struct{}

func (syncTasks) Enqueue(kid, resourceID string, fn func(context.Context)) {
	fn(context.Background())
}

func selfSignedChainPEM(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: bigOne(),
		Subject:      pkix.Name{CommonName: "example.test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func bigOne() *big.Int { return big.NewInt(1) }

type fakeClient struct {
	createErr     error
	completeErr   error
	finalizeErr   error
	certGetErr    error
	chainPEM      []byte
	createdOrder  *UpstreamOrder
	finalizedSeen bool
}

func (f *fakeClient) OrderCreate(ctx context.Context, identifiers []string) (*UpstreamOrder, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createdOrder = &UpstreamOrder{URL: "https://upstream.test/order/1"}
	return f.createdOrder, nil
}

func (f *fakeClient) OrderGet(ctx context.Context, url string) (*UpstreamOrder, error) {
	return &UpstreamOrder{URL: url}, nil
}

func (f *fakeClient) AuthorizationsComplete(ctx context.Context, order *UpstreamOrder) error {
	return f.completeErr
}

func (f *fakeClient) OrderFinalize(ctx context.Context, order *UpstreamOrder, csr []byte) (*UpstreamOrder, error) {
	f.finalizedSeen = true
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	return order, nil
}

func (f *fakeClient) CertificateGet(ctx context.Context, order *UpstreamOrder) ([]byte, error) {
	if f.certGetErr != nil {
		return nil, f.certGetErr
	}
	return f.chainPEM, nil
}

func (f *fakeClient) CertificateRevoke(ctx context.Context, certDER []byte, reason acme.RevocationReason) (bool, error) {
	return true, nil
}

func TestBrokerFinalizeDownloadsCertificate(t *testing.T) {
	chain := selfSignedChainPEM(t)
	client := &fakeClient{chainPEM: chain}
	broker := &Broker{Client: client}

	der, full, err := broker.Finalize(context.Background(), &models.Order{OrderID: "order1"}, []string{"example.test"}, []byte("csr"))
	require.NoError(t, err)
	require.NotEmpty(t, der)
	require.Equal(t, chain, full)
	require.True(t, client.finalizedSeen)
}

func TestBrokerFinalizeSwallowsChallengeErrorAsCouldNotComplete(t *testing.T) {
	client := &fakeClient{completeErr: errors.New("upstream timed out")}
	broker := &Broker{Client: client}

	_, _, err := broker.Finalize(context.Background(), &models.Order{OrderID: "order1"}, []string{"example.test"}, []byte("csr"))
	require.Error(t, err)

	var ccErr *CouldNotCompleteChallenge
	require.ErrorAs(t, err, &ccErr)
}

func TestProxyNewOrderReturnsUpstreamURLAndInvalidatesOnChallengeFailure(t *testing.T) {
	store := models.NewMemStore()
	ctx := context.Background()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	order := &models.Order{OrderID: "order1", Kid: "kid1", Status: acme.OrderPending, Expires: time.Now().Add(time.Hour)}
	sess.Add(order)
	require.NoError(t, sess.Commit(ctx))

	client := &fakeClient{completeErr: errors.New("upstream challenge rejected")}
	proxy := &Proxy{Client: client, Store: store, Tasks: syncTasks{}}

	url, err := proxy.NewOrder(ctx, "kid1", "order1", []string{"example.test"})
	require.NoError(t, err)
	require.Equal(t, "https://upstream.test/order/1", url)

	sess2, err := store.Begin(ctx)
	require.NoError(t, err)
	reloaded, err := sess2.GetOrder(ctx, "kid1", "order1")
	require.NoError(t, err)
	require.Equal(t, acme.OrderInvalid, reloaded.Status)
	require.NoError(t, sess2.Commit(ctx))
}

func TestProxyFinalizeRequiresUpstreamOrder(t *testing.T) {
	proxy := &Proxy{Client: &fakeClient{}, Store: models.NewMemStore(), Tasks: syncTasks{}}

	_, _, err := proxy.Finalize(context.Background(), &models.Order{OrderID: "order1"}, []string{"example.test"}, []byte("csr"))
	require.Error(t, err)
}

func TestProxyFinalizeDownloadsCertificate(t *testing.T) {
	chain := selfSignedChainPEM(t)
	client := &fakeClient{chainPEM: chain}
	proxy := &Proxy{Client: client, Store: models.NewMemStore(), Tasks: syncTasks{}}

	order := &models.Order{OrderID: "order1", ProxiedURL: "https://upstream.test/order/1"}
	der, full, err := proxy.Finalize(context.Background(), order, []string{"example.test"}, []byte("csr"))
	require.NoError(t, err)
	require.NotEmpty(t, der)
	require.Equal(t, chain, full)
}
