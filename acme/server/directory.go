package server

import (
	"net/http"

	"github.com/sapid/acmetk/acme"
)

// handleDirectory serves the RFC 8555 §7.1.1 directory resource.
func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) error {
	dir := map[string]any{
		acme.NewNonceEndpoint:   s.url("/new-nonce"),
		acme.NewAccountEndpoint: s.url("/new-account"),
		acme.NewOrderEndpoint:   s.url("/new-order"),
		acme.RevokeCertEndpoint: s.url("/revoke-cert"),
		acme.KeyChangeEndpoint:  s.url("/key-change"),
	}
	meta := map[string]any{}
	if s.Config.TosURL != "" {
		meta["termsOfService"] = s.Config.TosURL
	}
	if len(meta) > 0 {
		dir["meta"] = meta
	}
	return writeJSON(w, http.StatusOK, dir)
}

// handleNewNonce implements new-nonce (HEAD and GET): a bare 204, the fresh
// nonce itself is attached by responseConventions on every response.
func (s *Server) handleNewNonce(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodHead && r.Method != http.MethodGet {
		return acme.NewError(acme.ErrMalformed, "new-nonce accepts HEAD or GET only")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
