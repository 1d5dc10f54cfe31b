package models

import (
	"time"

	"github.com/sapid/acmetk/acme"
)

// Challenge is the RFC 8555 §7.1.5 Challenge resource. Grounded on
// acme/resources/challenge.go, with the client-facing URL field replaced by
// a server-assigned ChallengeID and an explicit parent AuthorizationID.
type Challenge struct {
	ChallengeID     string
	AuthorizationID string
	Type            acme.ChallengeType
	Status          acme.ChallengeStatus
	Token           string
	Validated       *time.Time
	Error           *acme.Error
}

func (c *Challenge) Serialize(url string) map[string]any {
	d := map[string]any{
		"type":   c.Type,
		"url":    url,
		"status": c.Status,
		"token":  c.Token,
	}
	if c.Validated != nil {
		d["validated"] = c.Validated.UTC().Format(time.RFC3339)
	}
	if c.Error != nil {
		d["error"] = c.Error
	}
	return d
}

// Terminal reports whether c is in one of the two terminal statuses (spec §3
// "Challenge finality": VALID and INVALID never change once reached).
func (c *Challenge) Terminal() bool {
	return c.Status == acme.ChallengeValid || c.Status == acme.ChallengeInvalid
}
