package validator

import (
	"context"

	"github.com/sapid/acmetk/acme"
)

// DummyValidator reports every challenge as valid without performing any
// validation, grounded on DummyValidator in
// acme_broker/server/challenge_validator.py. Test-only: never register this
// in a server built for anything other than the shell test harness (spec
// §9's end-to-end scenario 4 uses it explicitly).
type DummyValidator struct{}

func (DummyValidator) SupportedChallenges() []acme.ChallengeType {
	return []acme.ChallengeType{acme.ChallengeHTTP01, acme.ChallengeDNS01, acme.ChallengeTLSALPN01}
}

func (DummyValidator) Validate(ctx context.Context, challengeType *acme.ChallengeType, req Request) error {
	return nil
}
