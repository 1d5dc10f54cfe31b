package validator

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/miekg/dns"
	"github.com/sapid/acmetk/acme"
)

// RequestIPValidator implements spec §4.3's RequestIP-DNS validator: it does
// not perform protocol-defined challenge validation at all. Instead it
// resolves the authorization's identifier via A/AAAA lookup and succeeds iff
// the validation request's source address is among the resolved set,
// grounded on RequestIPDNSChallengeValidator in
// acme_broker/server/challenge_validator.py.
type RequestIPValidator struct {
	// Resolver is the DNS server to query, host:port form. Empty selects
	// the system resolver config (/etc/resolv.conf).
	Resolver string
	client   *dns.Client
}

// NewRequestIPValidator constructs a validator that queries resolver
// (host:port). If resolver is empty, the system default is read at query
// time from /etc/resolv.conf.
func NewRequestIPValidator(resolver string) *RequestIPValidator {
	return &RequestIPValidator{Resolver: resolver, client: new(dns.Client)}
}

func (v *RequestIPValidator) SupportedChallenges() []acme.ChallengeType {
	return []acme.ChallengeType{acme.ChallengeHTTP01, acme.ChallengeDNS01}
}

func (v *RequestIPValidator) resolverAddr() (string, error) {
	if v.Resolver != "" {
		return v.Resolver, nil
	}
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "", fmt.Errorf("requestip validator: no resolver configured and system config unavailable: %w", err)
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port), nil
}

func (v *RequestIPValidator) queryAddrs(ctx context.Context, name string, qtype uint16, server string) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	r, _, err := v.client.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, rr := range r.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A)
		case *dns.AAAA:
			ips = append(ips, rec.AAAA)
		}
	}
	return ips, nil
}

func (v *RequestIPValidator) Validate(ctx context.Context, challengeType *acme.ChallengeType, req Request) error {
	server, err := v.resolverAddr()
	if err != nil {
		return err
	}

	// A failed resolution for a given record type is treated as "no
	// addresses" for that type (spec §5), not as a hard validator error —
	// mirroring the original's per-query-type NXDOMAIN/NoAnswer suppression
	// in acme_broker/server/challenge_validator.py:_query_record, widened to
	// any lookup failure (timeouts included) per spec §5's wording.
	var resolved []net.IP
	for _, qtype := range [...]uint16{dns.TypeA, dns.TypeAAAA} {
		ips, err := v.queryAddrs(ctx, req.Identifier, qtype, server)
		if err != nil {
			log.Printf("requestip validator: lookup %s (qtype %d): %v", req.Identifier, qtype, err)
			continue
		}
		resolved = append(resolved, ips...)
	}

	for _, ip := range resolved {
		if ip.Equal(req.ActualIP) {
			return nil
		}
	}
	return &CouldNotValidate{Reason: fmt.Sprintf("source %s not in resolved set for %s", req.ActualIP, req.Identifier)}
}
