package statemachine

import "github.com/sapid/acmetk/acme"

// accountTransitions is the exhaustive table for spec §4.4's Account state
// machine: {VALID} ↔ {DEACTIVATED, REVOKED}. Only client-requested
// transition to DEACTIVATED is allowed here; REVOKED is operator-only and
// reached through RevokeAccountOperator, not this table.
var accountTransitions = map[acme.AccountStatus]map[acme.AccountStatus]bool{
	acme.AccountValid: {
		acme.AccountDeactivated: true,
	},
}

// DeactivateAccount applies the client-requested VALID -> DEACTIVATED
// transition.
func DeactivateAccount(status acme.AccountStatus) (acme.AccountStatus, error) {
	if allowed, ok := accountTransitions[status]; ok && allowed[acme.AccountDeactivated] {
		return acme.AccountDeactivated, nil
	}
	return status, &ErrInvalidTransition{Entity: "Account", From: string(status), To: string(acme.AccountDeactivated)}
}

// RevokeAccountOperator applies the operator-only VALID -> REVOKED
// transition. It is not reachable via any client request.
func RevokeAccountOperator(status acme.AccountStatus) (acme.AccountStatus, error) {
	if status == acme.AccountValid {
		return acme.AccountRevoked, nil
	}
	return status, &ErrInvalidTransition{Entity: "Account", From: string(status), To: string(acme.AccountRevoked)}
}
