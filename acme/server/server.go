// Package server implements the HTTP transport and routing surface for the
// ACME endpoints in spec §6.1, wiring the request authenticator, resource
// state machines, challenge validator registry and finalization engine
// behind RFC 8555's wire protocol. The transport itself (go-chi routing,
// net/http) is the one piece of the pack genuinely out of scope for the
// core per spec §1 ("the HTTP transport and routing surface ... external
// collaborators") -- this package is that collaborator, grounded on
// acme_broker/server/server.py's route table and error middleware.
package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/finalize"
	"github.com/sapid/acmetk/acme/jws"
	"github.com/sapid/acmetk/acme/models"
	"github.com/sapid/acmetk/acme/nonce"
	"github.com/sapid/acmetk/acme/relay"
	"github.com/sapid/acmetk/acme/validator"
)

// Config holds the operational knobs from spec §6.5.
type Config struct {
	BaseURL            string
	RSAMinKeyBits      int
	ECDSAMinKeyBits    int
	TosURL             string
	MailSuffixes       []string
	Subnets            []*net.IPNet
	UseForwardedHeader bool
	AuthzTTL           time.Duration
	ChallengeTokenLen  int
	// CAChainPEM is served verbatim from /ca-chain in standalone CA mode.
	CAChainPEM []byte
}

func (c *Config) normalize() {
	if c.RSAMinKeyBits <= 0 {
		c.RSAMinKeyBits = 2048
	}
	if c.ECDSAMinKeyBits <= 0 {
		c.ECDSAMinKeyBits = 256
	}
	if c.AuthzTTL <= 0 {
		c.AuthzTTL = 7 * 24 * time.Hour
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// Server wires the core components (store, authenticator, validators,
// finalize engine) to the RFC 8555 HTTP surface.
type Server struct {
	Store      models.Store
	Nonces     *nonce.Store
	Auth       *jws.Authenticator
	Validators *validator.Registry
	Finalize   *finalize.Engine
	Tasks      finalize.TaskEnqueuer
	Config     Config

	// RelayProxy is set only when this server runs in relay proxy mode
	// (spec §4.6): new-order creates the upstream order eagerly.
	RelayProxy *relay.Proxy

	// RelayClient is set in either relay mode and used by revoke-cert to
	// relay revocation upstream before marking the local certificate
	// REVOKED (spec §4.6). Nil in standalone CA mode, where revocation is
	// purely local.
	RelayClient relay.Client
}

// NewServer constructs a Server. conf is normalized in place.
func NewServer(store models.Store, nonces *nonce.Store, auth *jws.Authenticator, validators *validator.Registry, eng *finalize.Engine, tasks finalize.TaskEnqueuer, conf Config) *Server {
	conf.normalize()
	return &Server{
		Store:      store,
		Nonces:     nonces,
		Auth:       auth,
		Validators: validators,
		Finalize:   eng,
		Tasks:      tasks,
		Config:     conf,
	}
}

// Router builds the chi.Router serving every endpoint in spec §6.1.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.responseConventions)

	r.Get("/directory", s.wrap(s.handleDirectory))
	r.Handle("/new-nonce", s.wrap(s.handleNewNonce))
	r.Post("/new-account", s.wrap(s.handleNewAccount))
	r.Post("/accounts/{kid}", s.wrap(s.handleAccountUpdate))
	r.Post("/new-order", s.wrap(s.handleNewOrder))
	r.Post("/order/{id}", s.wrap(s.handleGetOrder))
	r.Post("/order/{id}/finalize", s.wrap(s.handleFinalize))
	r.Post("/orders/{id}", s.wrap(s.handleOrdersList))
	r.Post("/authz/{id}", s.wrap(s.handleAuthz))
	r.Post("/challenge/{id}", s.wrap(s.handleChallenge))
	r.Post("/certificate/{id}", s.wrap(s.handleCertificate))
	r.Post("/revoke-cert", s.wrap(s.handleRevokeCert))
	r.Post("/key-change", s.wrap(s.handleKeyChange))
	r.Get("/ca-chain", s.wrap(s.handleCAChain))
	r.Post("/ca-chain", s.wrap(s.handleCAChain))

	return r
}

func (s *Server) url(path string) string {
	return s.Config.BaseURL + path
}

// chiURLParam reads a chi route parameter by name.
func chiURLParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func (s *Server) accountsURLPrefix() string {
	return s.url("/accounts/")
}

func (s *Server) orderURL(id string) string       { return s.url("/order/" + id) }
func (s *Server) authzURL(id string) string       { return s.url("/authz/" + id) }
func (s *Server) challengeURL(id string) string   { return s.url("/challenge/" + id) }
func (s *Server) certificateURL(id string) string { return s.url("/certificate/" + id) }
func (s *Server) accountURL(kid string) string    { return s.url("/accounts/" + kid) }

// clientIP resolves the requester's address per spec §6.6, then checks it
// against Config.Subnets (spec §6.5: "subnets ... whitelisted; empty allows
// all").
func (s *Server) clientIP(r *http.Request) (net.IP, error) {
	ip, err := s.resolveClientIP(r)
	if err != nil {
		return nil, err
	}
	if len(s.Config.Subnets) > 0 && !s.ipInSubnets(ip) {
		return nil, acme.NewError(acme.ErrUnauthorized, "client address is not in the configured subnet whitelist")
	}
	return ip, nil
}

func (s *Server) resolveClientIP(r *http.Request) (net.IP, error) {
	xff := r.Header.Get("X-Forwarded-For")
	if !s.Config.UseForwardedHeader {
		if xff != "" {
			return nil, errSpoofedForwardedHeader
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return net.ParseIP(r.RemoteAddr), nil
		}
		return net.ParseIP(host), nil
	}
	if xff == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return net.ParseIP(r.RemoteAddr), nil
		}
		return net.ParseIP(host), nil
	}
	first := strings.TrimSpace(strings.Split(xff, ",")[0])
	return net.ParseIP(first), nil
}

// ipInSubnets reports whether ip falls within any configured whitelist
// subnet. A nil ip (unparseable address) never matches.
func (s *Server) ipInSubnets(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, subnet := range s.Config.Subnets {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}
