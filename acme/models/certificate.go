package models

import "github.com/sapid/acmetk/acme"

// Certificate is issued once per Order (spec §3 "Certificate provenance":
// a certificate references exactly one order; the order's certificate slot
// is set once).
type Certificate struct {
	CertificateID    string
	OrderID          string
	Status           acme.CertificateStatus
	DER              []byte // leaf certificate, DER
	FullChainPEM     []byte // leaf + issuer chain, PEM (relay modes)
	RevocationReason acme.RevocationReason
}

// ChangeLog is an append-only audit trail entry (spec §3).
type ChangeLog struct {
	Sequence  int
	Timestamp string
	Actor     string // "kid" or "operator"
	EntityRef string // e.g. "order:<id>"
}
