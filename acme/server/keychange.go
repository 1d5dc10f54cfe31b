package server

import (
	"net/http"

	"github.com/sapid/acmetk/acme"
)

// handleKeyChange implements the key-change endpoint (RFC 8555 §7.3.5).
// Account key rollover is not implemented: the design note recorded in
// DESIGN.md rejects half-implementing a security-sensitive operation
// against the current model, so the server reports it as unsupported
// rather than silently accepting or mis-handling a rollover request.
func (s *Server) handleKeyChange(w http.ResponseWriter, r *http.Request) error {
	return acme.NewError(acme.ErrUnsupportedOperation, "key rollover is not supported by this server")
}
