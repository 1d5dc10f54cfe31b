// Package models defines the persistent ACME entities and their invariants
// (spec §3), plus the Store interface (spec §6.3) that the core consumes in
// place of a concrete persistence engine.
//
// Entity shapes are grounded on acme/resources/account.go, order.go,
// authorization.go, challenge.go and problem.go, adapted from client-side
// wire DTOs into server-side persisted records with explicit status fields
// and parent-id navigation rather than live object graphs, per the design
// note in spec §9 ("explicit parent ids plus navigation functions that open
// a fresh query, not in-memory back-pointers held across transactions").
package models

import (
	"encoding/json"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/sapid/acmetk/acme"
)

// Account is the RFC 8555 §7.1.2 Account resource.
type Account struct {
	Kid       string // URL-safe hash of the public key; see cryptoutil.KidForPublicKey
	KeyJSON   []byte // JWK (JSON) of the account's public key
	Status    acme.AccountStatus
	Contacts  []string
	ToSAgreed bool
	CreatedAt time.Time
}

// Serialize returns the RFC 8555 wire representation of the account.
func (a *Account) Serialize() map[string]any {
	d := map[string]any{
		"status": a.Status,
	}
	if len(a.Contacts) > 0 {
		d["contact"] = a.Contacts
	}
	return d
}

// JSONWebKey decodes the account's stored public key.
func (a *Account) JSONWebKey() (*jose.JSONWebKey, error) {
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(a.KeyJSON, &jwk); err != nil {
		return nil, err
	}
	return &jwk, nil
}
