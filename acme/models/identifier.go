package models

import "github.com/sapid/acmetk/acme"

// Identifier is the RFC 8555 §9.7.7 Identifier object, persisted as a child
// of an Order. Grounded on acme_broker/models/identifier.py and
// acme/resources/authorization.go's Identifier type.
type Identifier struct {
	IdentifierID int // local sequence id, allocated store-wide by Session.NextIdentifierID
	OrderID      string
	Type         acme.IdentifierType
	Value        string
}

func (i Identifier) Serialize() map[string]any {
	return map[string]any{
		"type":  i.Type,
		"value": i.Value,
	}
}

// IsWildcard reports whether the identifier carries a leading "*." label,
// per spec §3's wildcard-flag invariant.
func (i Identifier) IsWildcard() bool {
	return len(i.Value) > 2 && i.Value[0] == '*' && i.Value[1] == '.'
}

// BaseName strips a leading "*." wildcard prefix, if present.
func (i Identifier) BaseName() string {
	if i.IsWildcard() {
		return i.Value[2:]
	}
	return i.Value
}
