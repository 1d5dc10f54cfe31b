package statemachine

import "github.com/sapid/acmetk/acme"

// terminalAuthz are non-PENDING terminal-ish statuses an authorization can be
// driven to directly (by operator action or expiry), per spec §4.4.
var terminalAuthz = map[acme.AuthorizationStatus]bool{
	acme.AuthorizationInvalid:     true,
	acme.AuthorizationExpired:     true,
	acme.AuthorizationDeactivated: true,
	acme.AuthorizationRevoked:     true,
}

// FinalizeFromChallenge computes the Authorization status after a child
// Challenge transition, mirroring Authorization.finalize in
// acme_broker/models/authorization.py: VALID iff any child challenge is
// VALID, status unchanged otherwise. The cascade-delete of sibling
// non-VALID challenges that the original also performs is a Store-level
// side effect outside this pure function's reach — the caller (acme/server's
// background validation task, Server.runValidation) is responsible for
// calling Session.DeleteChallenge for each sibling once this returns
// AuthorizationValid.
func FinalizeFromChallenge(status acme.AuthorizationStatus, anyChallengeValid bool) acme.AuthorizationStatus {
	if status != acme.AuthorizationPending {
		return status
	}
	if anyChallengeValid {
		return acme.AuthorizationValid
	}
	return status
}

// Expire forces a PENDING authorization to EXPIRED.
func Expire(status acme.AuthorizationStatus) acme.AuthorizationStatus {
	if status == acme.AuthorizationPending {
		return acme.AuthorizationExpired
	}
	return status
}

// Deactivate forces a PENDING or VALID authorization to DEACTIVATED, the
// only client-requested Authorization transition besides the challenge
// cascade.
func Deactivate(status acme.AuthorizationStatus) (acme.AuthorizationStatus, error) {
	if status == acme.AuthorizationPending || status == acme.AuthorizationValid {
		return acme.AuthorizationDeactivated, nil
	}
	return status, &ErrInvalidTransition{Entity: "Authorization", From: string(status), To: string(acme.AuthorizationDeactivated)}
}

// IsFailed reports whether status counts as "failed" for the purpose of
// the order's sufficiency invariant (spec §3: "an order reaches INVALID if
// any authorization reaches INVALID/EXPIRED/DEACTIVATED/REVOKED").
func IsFailed(status acme.AuthorizationStatus) bool {
	return terminalAuthz[status]
}
