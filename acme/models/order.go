package models

import (
	"time"

	"github.com/sapid/acmetk/acme"
)

// Order is the RFC 8555 §7.1.3 Order resource. Grounded on
// acme/resources/order.go, with client-side Account/Authorizations/
// Finalize/Certificate URL fields replaced by ids resolved through the
// Store, per the parent-id navigation design note in spec §9.
type Order struct {
	OrderID       string
	Kid           string // owning account
	Status        acme.OrderStatus
	Expires       time.Time
	NotBefore     *time.Time
	NotAfter      *time.Time
	CSR           []byte // DER, set at finalize
	CertificateID string // set once, never cleared

	// ProxiedURL is the upstream order URL, relay (proxy mode) only.
	ProxiedURL string
}

func (o *Order) Serialize(identifiers []map[string]any, authzURLs []string, finalizeURL, certURL string) map[string]any {
	d := map[string]any{
		"status":         o.Status,
		"expires":        o.Expires.UTC().Format(time.RFC3339),
		"identifiers":    identifiers,
		"authorizations": authzURLs,
		"finalize":       finalizeURL,
	}
	if o.CertificateID != "" && certURL != "" {
		d["certificate"] = certURL
	}
	return d
}
