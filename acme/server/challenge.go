package server

import (
	"context"
	"log"
	"net"
	"net/http"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/statemachine"
	"github.com/sapid/acmetk/acme/validator"
)

// handleChallenge implements the challenge endpoint (RFC 8555 §7.5.1). Any
// accepted POST to a PENDING challenge, whether its payload is empty
// (POST-as-GET) or {}, triggers validation; on a challenge in any other
// status it only returns the current state.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	challengeID := chiURLParam(r, "id")

	body, err := readBody(r)
	if err != nil {
		return err
	}

	sess, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback(ctx)

	result, err := s.Auth.Authenticate(ctx, body, s.challengeURL(challengeID), sess, false)
	if err != nil {
		return err
	}
	if result.Account == nil {
		return acme.NewError(acme.ErrUnauthorized, "challenge requires kid-mode authentication")
	}

	challenge, err := sess.GetChallenge(ctx, result.Account.Kid, challengeID)
	if err != nil {
		return acme.NewError(acme.ErrMalformed, "no such challenge")
	}

	authz, err := sess.GetAuthorization(ctx, result.Account.Kid, challenge.AuthorizationID)
	if err != nil {
		return acme.NewError(acme.ErrMalformed, "no such authorization")
	}

	ident, err := sess.GetIdentifier(ctx, authz.IdentifierID)
	if err != nil {
		return err
	}

	if len(result.Payload) > 0 && string(result.Payload) != "{}" {
		return acme.NewError(acme.ErrMalformed, "challenge accepts only an empty triggering payload")
	}

	// Trigger validation synchronously the first time: PENDING -> PROCESSING,
	// then hand off to the background validator task (spec §4.3/§5).
	if challenge.Status == acme.ChallengePending {
		newStatus, err := statemachine.StartProcessing(challenge.Status)
		if err != nil {
			return acme.NewError(acme.ErrMalformed, err.Error())
		}
		challenge.Status = newStatus
		sess.Add(challenge)
		if err := sess.Commit(ctx); err != nil {
			return err
		}

		actualIP, err := s.clientIP(r)
		if err != nil {
			return err
		}
		kid, identValue := result.Account.Kid, ident.Value
		s.Tasks.Enqueue(kid, challengeID, func(ctx context.Context) {
			s.runValidation(ctx, kid, challengeID, identValue, actualIP, challenge.Type)
		})

		return writeJSON(w, http.StatusOK, challenge.Serialize(s.challengeURL(challengeID)))
	}

	return writeJSON(w, http.StatusOK, challenge.Serialize(s.challengeURL(challengeID)))
}

// runValidation is the background task body driving a challenge from
// PROCESSING to its terminal status, cascading to the parent authorization.
func (s *Server) runValidation(ctx context.Context, kid, challengeID, identValue string, actualIP net.IP, challengeType acme.ChallengeType) {
	err := s.Validators.Validate(ctx, challengeType, identValue, actualIP)

	sess, beginErr := s.Store.Begin(ctx)
	if beginErr != nil {
		log.Printf("server: validation task: begin session for challenge %s: %v", challengeID, beginErr)
		return
	}
	defer sess.Rollback(ctx)

	challenge, loadErr := sess.GetChallenge(ctx, kid, challengeID)
	if loadErr != nil {
		log.Printf("server: validation task: reload challenge %s: %v", challengeID, loadErr)
		return
	}

	valid := err == nil
	challenge.Status = statemachine.Finalize(challenge.Status, valid)
	if !valid {
		if cnv, ok := err.(*validator.CouldNotValidate); ok {
			challenge.Error = acme.NewError(acme.ErrMalformed, cnv.Reason)
		} else {
			log.Printf("server: validation task: challenge %s: %v", challengeID, err)
			challenge.Error = acme.NewError(acme.ErrServerInternal, "validation failed")
		}
	}

	authz, loadErr := sess.GetAuthorization(ctx, kid, challenge.AuthorizationID)
	if loadErr != nil {
		log.Printf("server: validation task: reload authorization for challenge %s: %v", challengeID, loadErr)
		sess.Add(challenge)
		_ = sess.Commit(ctx)
		return
	}

	if valid {
		prevStatus := authz.Status
		authz.Status = statemachine.FinalizeFromChallenge(authz.Status, true)
		if authz.Status == acme.AuthorizationValid && prevStatus != acme.AuthorizationValid {
			siblings, sibErr := sess.GetChallengesByAuthorization(ctx, authz.AuthorizationID)
			if sibErr != nil {
				log.Printf("server: validation task: load siblings for authorization %s: %v", authz.AuthorizationID, sibErr)
			}
			for _, sibling := range siblings {
				if sibling.Status == acme.ChallengeValid {
					continue
				}
				if err := sess.DeleteChallenge(ctx, sibling.ChallengeID); err != nil {
					log.Printf("server: validation task: delete sibling challenge %s: %v", sibling.ChallengeID, err)
				}
			}
		}
	}

	sess.Add(challenge, authz)
	if commitErr := sess.Commit(ctx); commitErr != nil {
		log.Printf("server: validation task: commit challenge %s: %v", challengeID, commitErr)
	}
}

