package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/models"
	"github.com/sapid/acmetk/acme/statemachine"
)

type authzUpdatePayload struct {
	Status acme.AuthorizationStatus `json:"status"`
}

// handleAuthz implements the authorization endpoint (RFC 8555 §7.5):
// POST-as-GET to fetch, or a deactivation request.
func (s *Server) handleAuthz(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	authzID := chiURLParam(r, "id")

	body, err := readBody(r)
	if err != nil {
		return err
	}

	sess, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback(ctx)

	// postAsGet is false here: the endpoint accepts either an empty
	// (GET-style) payload or a deactivation request, so the authenticator
	// must not reject a non-empty one outright.
	result, err := s.Auth.Authenticate(ctx, body, s.authzURL(authzID), sess, false)
	if err != nil {
		return err
	}
	if result.Account == nil {
		return acme.NewError(acme.ErrUnauthorized, "authz requires kid-mode authentication")
	}

	authz, err := sess.GetAuthorization(ctx, result.Account.Kid, authzID)
	if err != nil {
		return acme.NewError(acme.ErrMalformed, "no such authorization")
	}

	if len(result.Payload) > 0 {
		var payload authzUpdatePayload
		if err := json.Unmarshal(result.Payload, &payload); err != nil {
			return acme.NewError(acme.ErrMalformed, "could not parse authorization update payload")
		}
		if payload.Status == acme.AuthorizationDeactivated {
			newStatus, err := statemachine.Deactivate(authz.Status)
			if err != nil {
				return acme.NewError(acme.ErrMalformed, err.Error())
			}
			authz.Status = newStatus
			sess.Add(authz)
			if err := sess.Commit(ctx); err != nil {
				return err
			}
		}
	}

	body2, err := s.serializeAuthorization(ctx, sess, authz)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, body2)
}

// serializeAuthorization loads an authorization's identifier and child
// challenges to build its wire representation.
func (s *Server) serializeAuthorization(ctx context.Context, sess models.Session, authz *models.Authorization) (map[string]any, error) {
	ident, err := sess.GetIdentifier(ctx, authz.IdentifierID)
	if err != nil {
		return nil, err
	}
	challenges, err := sess.GetChallengesByAuthorization(ctx, authz.AuthorizationID)
	if err != nil {
		return nil, err
	}
	challengeDicts := make([]map[string]any, len(challenges))
	for i, c := range challenges {
		challengeDicts[i] = c.Serialize(s.challengeURL(c.ChallengeID))
	}
	return authz.Serialize(*ident, challengeDicts), nil
}
