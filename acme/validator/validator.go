// Package validator implements the pluggable Challenge Validator Registry
// (spec §4.3): validators are registered per challenge type at startup and
// dispatched by the finalize/server layers when a challenge transitions to
// PROCESSING.
package validator

import (
	"context"
	"fmt"
	"net"

	"github.com/sapid/acmetk/acme"
)

// CouldNotValidate is returned by a Validator when the challenge did not
// pass, as opposed to an infrastructure error (spec §4.3: "a validator
// failing raises CouldNotValidate; the caller transitions the challenge to
// INVALID. Any other exception also transitions to INVALID and is logged").
type CouldNotValidate struct {
	ChallengeID string
	Reason      string
}

func (e *CouldNotValidate) Error() string {
	return fmt.Sprintf("could not validate challenge %s: %s", e.ChallengeID, e.Reason)
}

// Request carries the request-scoped context a Validator needs: the
// identifier being validated and the address the validation request
// actually originated from, already resolved per spec §4.2's
// use_forwarded_header rule.
type Request struct {
	Identifier string
	ActualIP   net.IP
}

// Validator validates a single challenge. Implementations must be safe for
// concurrent use; the registry does not serialize calls.
type Validator interface {
	SupportedChallenges() []acme.ChallengeType
	Validate(ctx context.Context, challenge *acme.ChallengeType, req Request) error
}

// Registry maps challenge types to the Validator that handles them.
type Registry struct {
	byType map[acme.ChallengeType]Validator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[acme.ChallengeType]Validator)}
}

// Register binds v for each of its supported challenge types. It fails if
// any of those types is already bound, matching spec §4.3's contract.
func (r *Registry) Register(v Validator) error {
	for _, ct := range v.SupportedChallenges() {
		if _, exists := r.byType[ct]; exists {
			return fmt.Errorf("validator registry: challenge type %q already bound", ct)
		}
	}
	for _, ct := range v.SupportedChallenges() {
		r.byType[ct] = v
	}
	return nil
}

// Validate dispatches to the validator bound to challengeType. Absence of a
// bound validator is a server configuration error (spec §4.3: "500-class"),
// reported as an acme.Error so handlers can surface it without a type
// assertion.
func (r *Registry) Validate(ctx context.Context, challengeType acme.ChallengeType, identifier string, actualIP net.IP) error {
	v, ok := r.byType[challengeType]
	if !ok {
		return acme.NewError(acme.ErrServerInternal, fmt.Sprintf("no validator registered for challenge type %q", challengeType))
	}
	ct := challengeType
	return v.Validate(ctx, &ct, Request{Identifier: identifier, ActualIP: actualIP})
}
