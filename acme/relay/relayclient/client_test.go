package relayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sapid/acmetk/acme/cryptoutil"
	"github.com/stretchr/testify/require"
)

// fakeUpstream is a minimal ACME server exercising just enough of the
// protocol for a relay Client to bootstrap an account and create an order.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	var nonceCounter int

	mux := http.NewServeMux()
	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		dir := map[string]string{
			"newNonce":   "http://" + r.Host + "/new-nonce",
			"newAccount": "http://" + r.Host + "/new-account",
			"newOrder":   "http://" + r.Host + "/new-order",
			"revokeCert": "http://" + r.Host + "/revoke-cert",
		}
		json.NewEncoder(w).Encode(dir)
	})
	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		nonceCounter++
		w.Header().Set("Replay-Nonce", "nonce-value")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/new-account", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "nonce-value")
		w.Header().Set("Location", "http://"+r.Host+"/accounts/1")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"status": "valid"})
	})
	mux.HandleFunc("/new-order", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "nonce-value")
		w.Header().Set("Location", "http://"+r.Host+"/order/1")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"status":         "pending",
			"identifiers":    []map[string]string{{"type": "dns", "value": "example.test"}},
			"authorizations": []string{"http://" + r.Host + "/authz/1"},
			"finalize":       "http://" + r.Host + "/order/1/finalize",
		})
	})
	return httptest.NewServer(mux)
}

func TestClientBootstrapsAccountAndCreatesOrder(t *testing.T) {
	srv := fakeUpstream(t)
	defer srv.Close()

	signer, err := cryptoutil.NewSigner("ecdsa")
	require.NoError(t, err)

	client, err := New(context.Background(), Config{DirectoryURL: srv.URL + "/directory"}, signer)
	require.NoError(t, err)
	require.NotEmpty(t, client.kid)

	order, err := client.OrderCreate(context.Background(), []string{"example.test"})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/order/1", order.URL)
	require.Equal(t, "pending", order.Status)
	require.Len(t, order.AuthorizationURLs, 1)
}
