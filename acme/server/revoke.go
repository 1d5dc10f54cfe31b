package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	josepkg "github.com/go-jose/go-jose/v4"
	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/jws"
	"github.com/sapid/acmetk/acme/models"
)

type revokeCertPayload struct {
	Certificate string                `json:"certificate"`
	Reason      acme.RevocationReason `json:"reason"`
}

// handleRevokeCert implements revoke-cert (spec §4.7): either of two
// authentication modes is accepted, both requiring upstream relay success
// (in relay modes) before the local certificate is marked REVOKED.
func (s *Server) handleRevokeCert(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	body, err := readBody(r)
	if err != nil {
		return err
	}

	sess, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback(ctx)

	result, err := s.Auth.Authenticate(ctx, body, s.url("/revoke-cert"), sess, false)
	if err != nil {
		return err
	}

	var payload revokeCertPayload
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return acme.NewError(acme.ErrMalformed, "could not parse revoke-cert payload")
	}
	if !acme.AllowedRevocationReasons[payload.Reason] {
		return acme.NewError(acme.ErrBadRevocationReason, "revocation reason is not permitted")
	}

	certDER, err := base64.RawURLEncoding.DecodeString(payload.Certificate)
	if err != nil {
		return acme.NewError(acme.ErrMalformed, "certificate is not valid base64url")
	}
	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return acme.NewError(acme.ErrMalformed, "could not parse certificate")
	}

	cert, err := sess.GetCertificateByDER(ctx, certDER)
	if err != nil {
		return acme.NewError(acme.ErrMalformed, "unknown certificate")
	}
	if cert.Status == acme.CertificateRevoked {
		return acme.NewError(acme.ErrAlreadyRevoked, "certificate is already revoked")
	}

	authorized, err := s.authorizesRevocation(ctx, sess, result, leaf)
	if err != nil {
		return err
	}
	if !authorized {
		return acme.NewError(acme.ErrUnauthorized, "not authorized to revoke this certificate")
	}

	if s.RelayClient != nil {
		ok, err := s.RelayClient.CertificateRevoke(ctx, certDER, payload.Reason)
		if err != nil {
			return acme.NewError(acme.ErrUnauthorized, "upstream revocation failed: "+err.Error())
		}
		if !ok {
			return acme.NewError(acme.ErrUnauthorized, "upstream refused revocation")
		}
	}

	cert.Status = acme.CertificateRevoked
	cert.RevocationReason = payload.Reason
	sess.Add(cert)
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	w.WriteHeader(http.StatusOK)
	return nil
}

// authorizesRevocation implements spec §4.7's two accepted modes: a VALID
// account holding authorizations for every name in the certificate, or the
// certificate's own key pair signing the request.
func (s *Server) authorizesRevocation(ctx context.Context, sess models.Session, result *jws.Result, leaf *x509.Certificate) (bool, error) {
	if result.JWK != nil {
		return keysEqual(result.JWK, leaf.PublicKey), nil
	}
	if result.Account == nil {
		return false, nil
	}
	names := certificateNames(leaf)
	held, err := accountHoldsAuthorizationsFor(ctx, sess, result.Account.Kid, names)
	if err != nil {
		return false, err
	}
	return held, nil
}

// keysEqual reports whether an embedded JWK's public key matches a
// certificate's public key, used for revoke-by-cert-key (spec §4.7).
func keysEqual(jwk *josepkg.JSONWebKey, certKey any) bool {
	switch k := jwk.Key.(type) {
	case *rsa.PublicKey:
		ck, ok := certKey.(*rsa.PublicKey)
		return ok && k.Equal(ck)
	case *ecdsa.PublicKey:
		ck, ok := certKey.(*ecdsa.PublicKey)
		return ok && k.Equal(ck)
	default:
		return false
	}
}

// certificateNames returns the case-folded CommonName (if set) plus SANs,
// mirroring finalize.IdentifierClosure's CSR-side equivalent.
func certificateNames(cert *x509.Certificate) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	add(cert.Subject.CommonName)
	for _, san := range cert.DNSNames {
		add(san)
	}
	return names
}

// accountHoldsAuthorizationsFor reports whether kid currently holds a VALID
// authorization for every name in names, across all of its orders. An
// authorization that was VALID and has since been deactivated does not count.
func accountHoldsAuthorizationsFor(ctx context.Context, sess models.Session, kid string, names []string) (bool, error) {
	orders, err := sess.GetOrdersByKid(ctx, kid)
	if err != nil {
		return false, err
	}
	validNames := make(map[string]bool)
	for _, order := range orders {
		idents, err := sess.GetIdentifiersByOrder(ctx, order.OrderID)
		if err != nil {
			return false, err
		}
		for _, ident := range idents {
			authzs, err := sess.GetAuthorizationsByIdentifier(ctx, ident.IdentifierID)
			if err != nil {
				return false, err
			}
			for _, a := range authzs {
				if a.Status == acme.AuthorizationValid {
					validNames[strings.ToLower(ident.Value)] = true
				}
			}
		}
	}
	for _, n := range names {
		if !validNames[n] {
			return false, nil
		}
	}
	return true, nil
}
