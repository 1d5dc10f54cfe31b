package server

import "net/http"

// handleCAChain serves the issuer chain for standalone CA mode (GET or
// POST-as-GET). Certificate generation primitives, including the CA's own
// chain, are the out-of-scope signer capability (spec §1); this server only
// publishes whatever PEM bytes it was configured with.
func (s *Server) handleCAChain(w http.ResponseWriter, r *http.Request) error {
	if len(s.Config.CAChainPEM) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	w.Header().Set("Content-Type", "application/pem-certificate-chain")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(s.Config.CAChainPEM)
	return err
}
