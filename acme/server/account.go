package server

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/cryptoutil"
	"github.com/sapid/acmetk/acme/models"
)

type newAccountPayload struct {
	Contact              []string `json:"contact"`
	TermsOfServiceAgreed bool     `json:"termsOfServiceAgreed"`
	OnlyReturnExisting   bool     `json:"onlyReturnExisting"`
}

type accountUpdatePayload struct {
	Contact *[]string          `json:"contact"`
	Status  acme.AccountStatus `json:"status"`
}

// handleNewAccount implements RFC 8555 §7.3: create-or-lookup an account.
func (s *Server) handleNewAccount(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	body, err := readBody(r)
	if err != nil {
		return err
	}

	sess, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback(ctx)

	result, err := s.Auth.Authenticate(ctx, body, s.url("/new-account"), sess, false)
	if err != nil {
		return err
	}
	if result.JWK == nil {
		return acme.NewError(acme.ErrMalformed, "new-account requires an embedded JWK, not a kid")
	}

	var payload newAccountPayload
	if len(result.Payload) > 0 {
		if err := json.Unmarshal(result.Payload, &payload); err != nil {
			return acme.NewError(acme.ErrMalformed, "could not parse new-account payload")
		}
	}

	if payload.OnlyReturnExisting {
		if result.Account == nil {
			return acme.NewError(acme.ErrAccountDoesNotExist, "no account exists for this key")
		}
		w.Header().Set("Location", s.accountURL(result.Account.Kid))
		return writeJSON(w, http.StatusOK, result.Account.Serialize())
	}

	if result.Account != nil {
		w.Header().Set("Location", s.accountURL(result.Account.Kid))
		return writeJSON(w, http.StatusOK, result.Account.Serialize())
	}

	if s.Config.TosURL != "" && !payload.TermsOfServiceAgreed {
		return acme.NewError(acme.ErrTermsOfServiceNotAgreed, "terms of service must be agreed to")
	}

	if err := s.validateContacts(payload.Contact); err != nil {
		return err
	}

	keyJSON, err := json.Marshal(result.JWK)
	if err != nil {
		return err
	}
	kid, err := cryptoutil.KidForPublicKey(result.JWK.Key)
	if err != nil {
		return err
	}

	account := &models.Account{
		Kid:       kid,
		KeyJSON:   keyJSON,
		Status:    acme.AccountValid,
		Contacts:  payload.Contact,
		ToSAgreed: payload.TermsOfServiceAgreed,
		CreatedAt: time.Now(),
	}
	sess.Add(account)
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	w.Header().Set("Location", s.accountURL(kid))
	return writeJSON(w, http.StatusCreated, account.Serialize())
}

// handleAccountUpdate implements the account-update endpoint (spec §6.1):
// contacts and deactivation.
func (s *Server) handleAccountUpdate(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	routeKid := chiURLParam(r, "kid")

	body, err := readBody(r)
	if err != nil {
		return err
	}

	sess, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback(ctx)

	result, err := s.Auth.Authenticate(ctx, body, s.accountURL(routeKid), sess, false)
	if err != nil {
		return err
	}
	if result.Account == nil || result.Account.Kid != routeKid {
		return acme.NewError(acme.ErrUnauthorized, "signature does not authorize this account")
	}
	account := result.Account

	if len(result.Payload) > 0 {
		var payload accountUpdatePayload
		if err := json.Unmarshal(result.Payload, &payload); err != nil {
			return acme.NewError(acme.ErrMalformed, "could not parse account update payload")
		}
		if payload.Contact != nil {
			if err := s.validateContacts(*payload.Contact); err != nil {
				return err
			}
			account.Contacts = *payload.Contact
		}
		if payload.Status == acme.AccountDeactivated {
			account.Status = acme.AccountDeactivated
		}
	}

	sess.Add(account)
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, account.Serialize())
}

// validateContacts enforces the mail_suffixes allow-list (spec §6.5): empty
// disables the check.
func (s *Server) validateContacts(contacts []string) error {
	if len(s.Config.MailSuffixes) == 0 {
		return nil
	}
	for _, c := range contacts {
		addr := strings.TrimPrefix(c, "mailto:")
		parsed, err := mail.ParseAddress(addr)
		if err != nil {
			return acme.NewError(acme.ErrInvalidContact, "contact is not a valid email address: "+c)
		}
		ok := false
		for _, suffix := range s.Config.MailSuffixes {
			if strings.HasSuffix(parsed.Address, suffix) {
				ok = true
				break
			}
		}
		if !ok {
			return acme.NewError(acme.ErrInvalidContact, "contact domain is not permitted: "+c)
		}
	}
	return nil
}
