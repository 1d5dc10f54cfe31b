// The acmed command runs the ACME server core (spec's protocol surface, over
// go-chi/net-http) wired to an in-memory store, a standalone CA issuer or,
// with -relay, one of the two upstream relay modes.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sapid/acmetk/acme/finalize"
	"github.com/sapid/acmetk/acme/jws"
	"github.com/sapid/acmetk/acme/models"
	"github.com/sapid/acmetk/acme/nonce"
	"github.com/sapid/acmetk/acme/relay"
	"github.com/sapid/acmetk/acme/relay/relayclient"
	"github.com/sapid/acmetk/acme/server"
	"github.com/sapid/acmetk/acme/standalone"
	"github.com/sapid/acmetk/acme/tasks"
	"github.com/sapid/acmetk/acme/validator"
	"github.com/sapid/acmetk/cmd"
)

const (
	listenDefault      = ":4430"
	baseURLDefault     = "http://localhost:4430"
	relayModeDefault   = "" // "", "broker" or "proxy"
	upstreamDirDefault = ""
	taskWorkersDefault = 16
)

func main() {
	listen := flag.String("listen", listenDefault, "address to listen on")
	baseURL := flag.String("baseURL", baseURLDefault, "externally visible base URL used to build resource URLs")
	tosURL := flag.String("tosURL", "", "terms of service URL; empty disables the requirement")
	mailSuffixes := flag.String("mailSuffixes", "", "comma-separated allow-list of account contact email domains; empty disables the check")
	subnetsFlag := flag.String("subnets", "", "comma-separated CIDR ranges validators will only see requests from; empty disables the check")
	useForwardedHeader := flag.Bool("useForwardedHeader", false, "trust X-Forwarded-For for challenge validator source address resolution")
	relayMode := flag.String("relay", relayModeDefault, `upstream relay mode: "broker", "proxy" or "" for standalone CA`)
	upstreamDirectory := flag.String("upstreamDirectory", upstreamDirDefault, "upstream ACME directory URL, required when -relay is set")
	upstreamContact := flag.String("upstreamContact", "", "contact email registered with the upstream CA in relay modes")
	dummyValidator := flag.Bool("dummyValidator", false, "register the always-succeeding Dummy validator instead of RequestIP-DNS (test contexts only)")
	dnsResolver := flag.String("dnsResolver", "", "host:port of the DNS resolver used by the RequestIP-DNS validator; empty uses /etc/resolv.conf")
	nonceCapacity := flag.Int("nonceCapacity", nonce.DefaultCapacity, "floor capacity of the nonce working set")
	taskWorkers := flag.Int("taskWorkers", taskWorkersDefault, "background task pool concurrency")

	flag.Parse()

	store := models.NewMemStore()
	nonces := nonce.New(*nonceCapacity)
	pool := tasks.NewPool(*taskWorkers)

	auth := &jws.Authenticator{
		Nonces:            nonces,
		AccountsURLPrefix: strings.TrimSuffix(*baseURL, "/") + "/accounts/",
		NewAccountURL:     strings.TrimSuffix(*baseURL, "/") + "/new-account",
	}

	validators := validator.NewRegistry()
	if *dummyValidator {
		cmd.FailOnError(validators.Register(validator.DummyValidator{}), "register Dummy validator")
	} else {
		cmd.FailOnError(validators.Register(validator.NewRequestIPValidator(*dnsResolver)), "register RequestIP-DNS validator")
	}

	subnets, err := parseSubnets(*subnetsFlag)
	cmd.FailOnError(err, "parse -subnets")

	conf := server.Config{
		BaseURL:            *baseURL,
		TosURL:             *tosURL,
		MailSuffixes:       splitNonEmpty(*mailSuffixes),
		Subnets:            subnets,
		UseForwardedHeader: *useForwardedHeader,
	}

	var issuer finalize.Issuer
	var relayClient relay.Client
	var relayProxy *relay.Proxy

	switch *relayMode {
	case "":
		ca, err := standalone.NewSelfSignedCA()
		cmd.FailOnError(err, "create standalone CA")
		issuer = ca
		conf.CAChainPEM = ca.ChainPEM()
	case "broker", "proxy":
		if *upstreamDirectory == "" {
			cmd.FailOnError(fmt.Errorf("-upstreamDirectory is required for -relay=%s", *relayMode), "configure relay")
		}
		signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		cmd.FailOnError(err, "generate relay account key")

		rc, err := relayclient.New(context.Background(), relayclient.Config{
			DirectoryURL: *upstreamDirectory,
			Contact:      *upstreamContact,
		}, signer)
		cmd.FailOnError(err, "bootstrap upstream relay client")
		relayClient = rc

		if *relayMode == "broker" {
			issuer = &relay.Broker{Client: rc}
		} else {
			proxy := &relay.Proxy{Client: rc, Store: store, Tasks: pool}
			relayProxy = proxy
			issuer = proxy
		}
	default:
		cmd.FailOnError(fmt.Errorf("unknown -relay mode %q", *relayMode), "configure relay")
	}

	engine := finalize.NewEngine(store, pool, issuer)
	srv := server.NewServer(store, nonces, auth, validators, engine, pool, conf)
	srv.RelayProxy = relayProxy
	srv.RelayClient = relayClient

	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("acmed: listening on %s (base URL %s, relay mode %q)", *listen, *baseURL, *relayMode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("acmed: %v", err)
		}
	}()

	cmd.CatchSignals(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("acmed: shutdown: %v", err)
		}
	})
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseSubnets(s string) ([]*net.IPNet, error) {
	if s == "" {
		return nil, nil
	}
	var out []*net.IPNet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", part, err)
		}
		out = append(out, ipnet)
	}
	return out, nil
}
