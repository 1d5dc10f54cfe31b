package jws

import (
	"context"
	"encoding/json"
	"testing"

	josepkg "github.com/go-jose/go-jose/v4"
	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/cryptoutil"
	"github.com/sapid/acmetk/acme/models"
	"github.com/sapid/acmetk/acme/nonce"
	"github.com/stretchr/testify/require"
)

const testURL = "https://ca.example.test/new-account"

func signEmbedded(t *testing.T, url, nonceVal string, payload []byte) []byte {
	t.Helper()
	signer, err := cryptoutil.NewSigner("rsa")
	require.NoError(t, err)

	joseSigner, err := josepkg.NewSigner(josepkg.SigningKey{
		Algorithm: josepkg.RS256,
		Key:       signer,
	}, &josepkg.SignerOptions{
		EmbedJWK: true,
		ExtraHeaders: map[josepkg.HeaderKey]any{
			"url":   url,
			"nonce": nonceVal,
		},
	})
	require.NoError(t, err)

	signed, err := joseSigner.Sign(payload)
	require.NoError(t, err)
	return []byte(signed.FullSerialize())
}

func signKeyID(t *testing.T, signer any, kid, url, nonceVal string, payload []byte) []byte {
	t.Helper()

	joseSigner, err := josepkg.NewSigner(josepkg.SigningKey{
		Algorithm: josepkg.RS256,
		Key: josepkg.JSONWebKey{
			Key:       signer,
			KeyID:     kid,
			Algorithm: "RSA",
		},
	}, &josepkg.SignerOptions{
		ExtraHeaders: map[josepkg.HeaderKey]any{
			"url":   url,
			"nonce": nonceVal,
		},
	})
	require.NoError(t, err)

	signed, err := joseSigner.Sign(payload)
	require.NoError(t, err)
	return []byte(signed.FullSerialize())
}

type memLookup struct {
	store *models.MemStore
}

func (l memLookup) GetAccountByKid(ctx context.Context, kid string) (*models.Account, error) {
	sess, err := l.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Commit(ctx)
	return sess.GetAccountByKid(ctx, kid)
}

func (l memLookup) GetAccountByKeyJSON(ctx context.Context, keyJSON []byte) (*models.Account, error) {
	sess, err := l.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Commit(ctx)
	return sess.GetAccountByKeyJSON(ctx, keyJSON)
}

func TestAuthenticateEmbeddedJWKSucceeds(t *testing.T) {
	a := &Authenticator{Nonces: nonce.New(10), AccountsURLPrefix: "https://ca.example.test/accounts/"}
	n := a.Nonces.Issue()

	body := signEmbedded(t, testURL, n, []byte(`{"termsOfServiceAgreed":true}`))
	result, err := a.Authenticate(context.Background(), body, testURL, nil, false)
	require.NoError(t, err)
	require.NotNil(t, result.JWK)
	require.JSONEq(t, `{"termsOfServiceAgreed":true}`, string(result.Payload))
}

func TestAuthenticateRejectsReplayedNonce(t *testing.T) {
	a := &Authenticator{Nonces: nonce.New(10), AccountsURLPrefix: "https://ca.example.test/accounts/"}
	n := a.Nonces.Issue()
	body := signEmbedded(t, testURL, n, []byte(`{}`))

	_, err := a.Authenticate(context.Background(), body, testURL, nil, false)
	require.NoError(t, err)

	body2 := signEmbedded(t, testURL, n, []byte(`{}`))
	_, err = a.Authenticate(context.Background(), body2, testURL, nil, false)
	require.Error(t, err)
	require.Equal(t, acme.ErrBadNonce, acme.AsError(err).Code)
}

func TestAuthenticateRejectsURLMismatch(t *testing.T) {
	a := &Authenticator{Nonces: nonce.New(10), AccountsURLPrefix: "https://ca.example.test/accounts/"}
	n := a.Nonces.Issue()
	body := signEmbedded(t, testURL, n, []byte(`{}`))

	_, err := a.Authenticate(context.Background(), body, "https://ca.example.test/new-order", nil, false)
	require.Error(t, err)
	require.Equal(t, acme.ErrUnauthorized, acme.AsError(err).Code)
}

func TestAuthenticateKidModeResolvesValidAccount(t *testing.T) {
	signer, err := cryptoutil.NewSigner("rsa")
	require.NoError(t, err)
	jwk := cryptoutil.JWKForSigner(signer)
	keyJSON, err := json.Marshal(&jwk)
	require.NoError(t, err)

	store := models.NewMemStore()
	sess, err := store.Begin(context.Background())
	require.NoError(t, err)
	kid := "abc123"
	kidURL := "https://ca.example.test/accounts/" + kid
	sess.Add(&models.Account{Kid: kid, KeyJSON: keyJSON, Status: acme.AccountValid})
	require.NoError(t, sess.Commit(context.Background()))

	a := &Authenticator{Nonces: nonce.New(10), AccountsURLPrefix: "https://ca.example.test/accounts/"}
	n := a.Nonces.Issue()
	body := signKeyID(t, signer, kidURL, testURL, n, []byte(`{}`))

	result, err := a.Authenticate(context.Background(), body, testURL, memLookup{store: store}, false)
	require.NoError(t, err)
	require.NotNil(t, result.Account)
	require.Equal(t, kid, result.Account.Kid)
}

func TestAuthenticateKidModeRejectsDeactivatedAccount(t *testing.T) {
	signer, err := cryptoutil.NewSigner("rsa")
	require.NoError(t, err)
	jwk := cryptoutil.JWKForSigner(signer)
	keyJSON, err := json.Marshal(&jwk)
	require.NoError(t, err)

	store := models.NewMemStore()
	sess, err := store.Begin(context.Background())
	require.NoError(t, err)
	kid := "abc123"
	kidURL := "https://ca.example.test/accounts/" + kid
	sess.Add(&models.Account{Kid: kid, KeyJSON: keyJSON, Status: acme.AccountDeactivated})
	require.NoError(t, sess.Commit(context.Background()))

	a := &Authenticator{Nonces: nonce.New(10), AccountsURLPrefix: "https://ca.example.test/accounts/"}
	n := a.Nonces.Issue()
	body := signKeyID(t, signer, kidURL, testURL, n, []byte(`{}`))

	_, err = a.Authenticate(context.Background(), body, testURL, memLookup{store: store}, false)
	require.Error(t, err)
	require.Equal(t, acme.ErrUnauthorized, acme.AsError(err).Code)
}

func TestAuthenticatePostAsGetRejectsNonEmptyPayload(t *testing.T) {
	a := &Authenticator{Nonces: nonce.New(10), AccountsURLPrefix: "https://ca.example.test/accounts/"}
	n := a.Nonces.Issue()
	body := signEmbedded(t, testURL, n, []byte(`{"not":"empty"}`))

	_, err := a.Authenticate(context.Background(), body, testURL, nil, true)
	require.Error(t, err)
	require.Equal(t, acme.ErrMalformed, acme.AsError(err).Code)
}
