package statemachine

import "github.com/sapid/acmetk/acme"

// StartProcessing applies the synchronous PENDING -> PROCESSING transition
// triggered by the challenge handler (spec §4.4).
func StartProcessing(status acme.ChallengeStatus) (acme.ChallengeStatus, error) {
	if status == acme.ChallengePending {
		return acme.ChallengeProcessing, nil
	}
	return status, &ErrInvalidTransition{Entity: "Challenge", From: string(status), To: string(acme.ChallengeProcessing)}
}

// Finalize applies the terminal PROCESSING -> {VALID, INVALID} transition
// from the background validator task. VALID and INVALID are terminal (spec
// §3 "Challenge finality"); re-invoking on an already-terminal challenge is
// a no-op that returns the existing status unchanged, per spec §5's
// idempotent-validation-task requirement.
func Finalize(status acme.ChallengeStatus, valid bool) acme.ChallengeStatus {
	if status == acme.ChallengeValid || status == acme.ChallengeInvalid {
		return status
	}
	if valid {
		return acme.ChallengeValid
	}
	return acme.ChallengeInvalid
}
