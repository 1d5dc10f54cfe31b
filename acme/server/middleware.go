package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/sapid/acmetk/acme"
)

// errSpoofedForwardedHeader reports a client sending X-Forwarded-For when
// the server is not configured to trust a reverse proxy for it (spec §6.6).
var errSpoofedForwardedHeader = acme.NewError(acme.ErrMalformed, "X-Forwarded-For is not accepted by this server")

// handlerFunc is the error-returning shape every ACME endpoint is
// implemented as; wrap converts its return value to an HTTP response.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// wrap is the error-conversion middleware from spec §7: any *acme.Error
// returned by h is serialized as application/problem+json with its mapped
// status; any other error is logged and surfaces as a generic 500, leaking
// no internal detail. A fresh nonce is issued even on error responses,
// grounded on acme_broker/server/server.py:_error_middleware.
func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		if acmeErr := acme.AsError(err); acmeErr != nil {
			writeProblem(w, acmeErr)
			return
		}

		log.Printf("server: internal error handling %s %s: %v", r.Method, r.URL.Path, err)
		writeProblem(w, acme.NewError(acme.ErrServerInternal, "internal server error"))
	}
}

func writeProblem(w http.ResponseWriter, e *acme.Error) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}

// responseConventions issues a fresh Replay-Nonce and sets the response
// headers spec §6.1 mandates on every response, success or failure.
func (s *Server) responseConventions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", s.Nonces.Issue())
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Link", "<"+s.url("/directory")+">; rel=\"index\"")
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes v as application/json with status.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// readBody reads the full request body, mapping read failures to a
// malformed-request problem.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, acme.NewError(acme.ErrMalformed, "missing request body")
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, acme.NewError(acme.ErrMalformed, "could not read request body")
	}
	return body, nil
}
