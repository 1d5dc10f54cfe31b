package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/models"
)

type finalizePayload struct {
	CSR string `json:"csr"`
}

// handleFinalize implements the finalize endpoint (spec §4.5 steps 1-6).
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	orderID := chiURLParam(r, "id")

	body, err := readBody(r)
	if err != nil {
		return err
	}

	authSess, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}

	result, err := s.Auth.Authenticate(ctx, body, s.url("/order/"+orderID+"/finalize"), authSess, false)
	authSess.Rollback(ctx) // release the lock before RequestFinalize opens its own session
	if err != nil {
		return err
	}
	if result.Account == nil {
		return acme.NewError(acme.ErrUnauthorized, "finalize requires kid-mode authentication")
	}

	var payload finalizePayload
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return acme.NewError(acme.ErrMalformed, "could not parse finalize payload")
	}
	csrDER, err := base64.RawURLEncoding.DecodeString(payload.CSR)
	if err != nil {
		return acme.NewError(acme.ErrMalformed, "csr is not valid base64url")
	}

	order, err := s.Finalize.RequestFinalize(ctx, result.Account.Kid, orderID, csrDER)
	if err != nil {
		return err
	}

	readSess, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer readSess.Rollback(ctx)

	idents, authzIDs, err := s.identifiersAndAuthzIDs(ctx, readSess, orderID)
	if err != nil {
		return err
	}

	w.Header().Set("Location", s.orderURL(orderID))
	return writeJSON(w, http.StatusOK, s.serializeOrder(order, idents, authzIDs))
}

// identifiersAndAuthzIDs loads an order's identifiers and the flattened list
// of their authorization ids, without touching order status (the caller
// already has an authoritative one).
func (s *Server) identifiersAndAuthzIDs(ctx context.Context, sess models.Session, orderID string) ([]*models.Identifier, []string, error) {
	idents, err := sess.GetIdentifiersByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	var authzIDs []string
	for _, ident := range idents {
		authzs, err := sess.GetAuthorizationsByIdentifier(ctx, ident.IdentifierID)
		if err != nil {
			return nil, nil, err
		}
		for _, a := range authzs {
			authzIDs = append(authzIDs, a.AuthorizationID)
		}
	}
	return idents, authzIDs, nil
}

// handleCertificate serves the certificate chain (RFC 8555 §7.4.2).
func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	certID := chiURLParam(r, "id")

	body, err := readBody(r)
	if err != nil {
		return err
	}

	sess, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback(ctx)

	result, err := s.Auth.Authenticate(ctx, body, s.certificateURL(certID), sess, true)
	if err != nil {
		return err
	}
	if result.Account == nil {
		return acme.NewError(acme.ErrUnauthorized, "certificate requires kid-mode authentication")
	}

	cert, err := sess.GetCertificate(ctx, result.Account.Kid, certID)
	if err != nil {
		return acme.NewError(acme.ErrMalformed, "no such certificate")
	}

	chainPEM := cert.FullChainPEM
	if len(chainPEM) == 0 {
		var buf bytes.Buffer
		if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.DER}); err != nil {
			return err
		}
		chainPEM = buf.Bytes()
	}

	w.Header().Set("Content-Type", "application/pem-certificate-chain")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(chainPEM)
	return err
}
