package models

import (
	"time"

	"github.com/sapid/acmetk/acme"
)

// Authorization is the RFC 8555 §7.1.4 Authorization resource. Grounded on
// acme/resources/authorization.go and acme_broker/models/authorization.go
// (the Finalize cascade-delete behavior in particular).
type Authorization struct {
	AuthorizationID string
	IdentifierID    int
	Status          acme.AuthorizationStatus
	Expires         time.Time
	Wildcard        bool
}

func (a *Authorization) Serialize(identifier Identifier, challenges []map[string]any) map[string]any {
	d := map[string]any{
		"status":     a.Status,
		"expires":    a.Expires.UTC().Format(time.RFC3339),
		"identifier": identifier.Serialize(),
		"challenges": challenges,
	}
	if a.Wildcard {
		d["wildcard"] = true
	}
	return d
}

// NewPending builds the initial PENDING Authorization for an identifier,
// matching Authorization.create_all in acme_broker/models/authorization.py
// (wildcard flag ⇔ value starts with "*.").
func NewPending(id string, identifier Identifier, ttl time.Duration) *Authorization {
	return &Authorization{
		AuthorizationID: id,
		IdentifierID:    identifier.IdentifierID,
		Status:          acme.AuthorizationPending,
		Expires:         time.Now().Add(ttl),
		Wildcard:        identifier.IsWildcard(),
	}
}
