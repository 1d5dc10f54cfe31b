// Package jws implements the Request Authenticator (spec §4.2): it parses
// the signed JWS envelope every ACME request (besides directory and
// new-nonce) must carry, verifies it either by embedded JWK or by kid
// lookup, enforces URL binding and nonce single-use, and returns the
// request payload plus the resolved account.
//
// Grounded on the verification order in
// acme_broker/server/server.py:_verify_request, reworked for go-jose/v4
// (the request-side counterpart to the signing code in
// acme/client/jws.go, which used the undeclared gopkg.in/square/go-jose.v2
// and was not reused for that reason — see DESIGN.md).
package jws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	josepkg "github.com/go-jose/go-jose/v4"
	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/models"
	"github.com/sapid/acmetk/acme/nonce"
)

// AllowedAlgorithms is the signature algorithm allow-list enforced in step 3
// of spec §4.2.
var AllowedAlgorithms = []josepkg.SignatureAlgorithm{
	josepkg.RS256, josepkg.RS384, josepkg.RS512,
	josepkg.PS256, josepkg.PS384, josepkg.PS512,
}

// parseAlgorithms is a superset passed to jose.ParseSigned so that a
// signature using an algorithm outside AllowedAlgorithms still parses
// successfully and can be rejected with badSignatureAlgorithm rather than
// being conflated with a structurally malformed envelope.
var parseAlgorithms = []josepkg.SignatureAlgorithm{
	josepkg.RS256, josepkg.RS384, josepkg.RS512,
	josepkg.PS256, josepkg.PS384, josepkg.PS512,
	josepkg.ES256, josepkg.ES384, josepkg.ES512, josepkg.EdDSA,
}

// Result is the outcome of a successful Authenticate call.
type Result struct {
	Payload []byte
	// Account is non-nil in kid mode, and in embedded-JWK mode when the
	// caller supplied a non-nil lookup whose GetAccountByKeyJSON found a
	// match (new-account's only_return_existing / duplicate-key case).
	Account *models.Account
	// JWK is the embedded public key, set only in embedded-JWK mode.
	JWK *josepkg.JSONWebKey
	KeyID string
}

// AccountLookup resolves accounts for the Authenticator; it is the JWS
// package's only dependency on models.Store, kept narrow and mockable.
type AccountLookup interface {
	GetAccountByKid(ctx context.Context, kid string) (*models.Account, error)
	GetAccountByKeyJSON(ctx context.Context, keyJSON []byte) (*models.Account, error)
}

// Authenticator implements spec §4.2's Request Authenticator contract.
type Authenticator struct {
	Nonces *nonce.Store
	// AccountsURLPrefix is the canonical `/accounts/` route prefix used to
	// extract an account kid from a kid-mode JWS's `kid` header.
	AccountsURLPrefix string
	// NewAccountURL is compared against step 7's documented buggy variant:
	// a kid value that is the new-account URL with a trailing account id
	// segment appended, which some historical clients produce.
	NewAccountURL string
}

// envelope is the minimal decoded shape of a flattened JWS JSON envelope.
// Authenticate does not decode it: the whole body goes straight to go-jose
// for parsing and verification.
type envelope struct {
	Payload string `json:"payload"`
}

// Authenticate implements spec §4.2 steps 1-8. lookup resolves accounts by
// kid or by public key; postAsGet, when true, requires an empty payload.
func (a *Authenticator) Authenticate(ctx context.Context, raw []byte, canonicalURL string, lookup AccountLookup, postAsGet bool) (*Result, error) {
	sig, err := josepkg.ParseSigned(string(raw), parseAlgorithms)
	if err != nil {
		return nil, acme.NewError(acme.ErrMalformed, fmt.Sprintf("parse JWS: %v", err))
	}
	if len(sig.Signatures) != 1 {
		return nil, acme.NewError(acme.ErrMalformed, "JWS must have exactly one signature")
	}
	header := sig.Signatures[0].Header

	if url, ok := extraHeaderString(header, "url"); !ok || url != canonicalURL {
		return nil, acme.NewError(acme.ErrUnauthorized, "JWS url header does not match request URL")
	}

	if !algAllowed(header.Algorithm) {
		return nil, acme.NewError(acme.ErrBadSignatureAlgorithm, fmt.Sprintf("unsupported signature algorithm %q", header.Algorithm))
	}

	nonceValue, _ := extraHeaderString(header, "nonce")
	if nonceValue == "" {
		nonceValue = header.Nonce
	}
	if nonceValue == "" || !a.Nonces.Consume(nonceValue) {
		return nil, acme.NewError(acme.ErrBadNonce, "missing or unknown nonce")
	}

	hasJWK := header.JSONWebKey != nil
	hasKid := header.KeyID != ""
	if hasJWK == hasKid {
		return nil, acme.NewError(acme.ErrMalformed, "exactly one of jwk or kid must be present")
	}

	var result Result
	if hasJWK {
		payload, err := sig.Verify(header.JSONWebKey)
		if err != nil {
			return nil, acme.NewError(acme.ErrUnauthorized, "JWS signature verification failed")
		}
		result.Payload = payload
		result.JWK = header.JSONWebKey
		if lookup != nil {
			keyJSON, err := json.Marshal(header.JSONWebKey)
			if err == nil {
				if acct, err := lookup.GetAccountByKeyJSON(ctx, keyJSON); err == nil {
					result.Account = acct
				}
			}
		}
	} else {
		kid, err := a.resolveKid(header.KeyID)
		if err != nil {
			return nil, err
		}
		acct, err := lookup.GetAccountByKid(ctx, kid)
		if err != nil {
			return nil, acme.NewError(acme.ErrAccountDoesNotExist, fmt.Sprintf("no account with kid %q", kid))
		}
		if acct.Status != acme.AccountValid {
			return nil, acme.NewError(acme.ErrUnauthorized, "account is not valid")
		}
		jwk, err := acct.JSONWebKey()
		if err != nil {
			return nil, acme.NewError(acme.ErrServerInternal, fmt.Sprintf("decode stored account key: %v", err))
		}
		payload, err := sig.Verify(jwk)
		if err != nil {
			return nil, acme.NewError(acme.ErrUnauthorized, "JWS signature verification failed")
		}
		result.Payload = payload
		result.Account = acct
		result.KeyID = kid
	}

	if postAsGet && len(result.Payload) != 0 {
		return nil, acme.NewError(acme.ErrMalformed, "POST-as-GET request must have an empty payload")
	}

	return &result, nil
}

// resolveKid extracts the account kid from a kid-mode JWS's `kid` header,
// accepting the documented buggy variant (spec §4.2 step 7): a kid that is
// the new-account URL with a trailing id segment instead of the canonical
// accounts route.
func (a *Authenticator) resolveKid(kidHeader string) (string, error) {
	if strings.HasPrefix(kidHeader, a.AccountsURLPrefix) {
		return strings.TrimPrefix(kidHeader, a.AccountsURLPrefix), nil
	}
	if a.NewAccountURL != "" && strings.HasPrefix(kidHeader, a.NewAccountURL+"/") {
		return strings.TrimPrefix(kidHeader, a.NewAccountURL+"/"), nil
	}
	return "", acme.NewError(acme.ErrMalformed, fmt.Sprintf("kid %q does not match the accounts route", kidHeader))
}

func algAllowed(alg string) bool {
	for _, a := range AllowedAlgorithms {
		if string(a) == alg {
			return true
		}
	}
	return false
}

// extraHeaderString reads a string-valued protected header go-jose exposes
// only through ExtraHeaders (e.g. "url", "nonce" when not promoted to the
// typed Header fields by the library).
func extraHeaderString(header josepkg.Header, key string) (string, bool) {
	raw, ok := header.ExtraHeaders[josepkg.HeaderKey(key)]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
