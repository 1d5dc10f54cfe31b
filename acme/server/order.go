package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/sapid/acmetk/acme"
	"github.com/sapid/acmetk/acme/models"
	"github.com/sapid/acmetk/acme/statemachine"
)

type newOrderPayload struct {
	Identifiers []identifierPayload `json:"identifiers"`
}

type identifierPayload struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// handleNewOrder implements RFC 8555 §7.4: create an order plus its child
// identifiers, authorizations and challenges.
func (s *Server) handleNewOrder(w http.ResponseWriter, r *http.Request) error {
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

	result, err := s.Auth.Authenticate(ctx, body, s.url("/new-order"), sess, false)
	if err != nil {
		return err
	}
	if result.Account == nil {
		return acme.NewError(acme.ErrUnauthorized, "new-order requires kid-mode authentication")
	}

	var payload newOrderPayload
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return acme.NewError(acme.ErrMalformed, "could not parse new-order payload")
	}
	if len(payload.Identifiers) == 0 {
		return acme.NewError(acme.ErrMalformed, "order must include at least one identifier")
	}

	orderID := uuid.NewString()
	names := make([]string, 0, len(payload.Identifiers))
	identifiers := make([]*models.Identifier, 0, len(payload.Identifiers))
	authzs := make([]*models.Authorization, 0, len(payload.Identifiers))
	challenges := make([]*models.Challenge, 0)

	for _, ip := range payload.Identifiers {
		if ip.Type != string(acme.IdentifierDNS) {
			return acme.NewError(acme.ErrMalformed, fmt.Sprintf("unsupported identifier type %q", ip.Type))
		}
		idID, err := sess.NextIdentifierID(ctx)
		if err != nil {
			return err
		}
		ident := &models.Identifier{IdentifierID: idID, OrderID: orderID, Type: acme.IdentifierDNS, Value: ip.Value}
		identifiers = append(identifiers, ident)
		names = append(names, ip.Value)

		authzID := uuid.NewString()
		authz := models.NewPending(authzID, *ident, s.Config.AuthzTTL)
		authzs = append(authzs, authz)

		for _, ct := range s.challengeTypesFor(*ident) {
			challenges = append(challenges, &models.Challenge{
				ChallengeID:     uuid.NewString(),
				AuthorizationID: authzID,
				Type:            ct,
				Status:          acme.ChallengePending,
				Token:           uuid.NewString(),
			})
		}
	}

	order := &models.Order{
		OrderID: orderID,
		Kid:     result.Account.Kid,
		Status:  acme.OrderPending,
		Expires: authzs[0].Expires,
	}

	if s.RelayProxy != nil {
		proxiedURL, err := s.RelayProxy.NewOrder(ctx, order.Kid, order.OrderID, names)
		if err != nil {
			return fmt.Errorf("server: relay new-order: %w", err)
		}
		order.ProxiedURL = proxiedURL
	}

	toAdd := make([]any, 0, 2+len(identifiers)+len(authzs)+len(challenges))
	toAdd = append(toAdd, order)
	for _, v := range identifiers {
		toAdd = append(toAdd, v)
	}
	for _, v := range authzs {
		toAdd = append(toAdd, v)
	}
	for _, v := range challenges {
		toAdd = append(toAdd, v)
	}
	sess.Add(toAdd...)
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	w.Header().Set("Location", s.orderURL(orderID))
	return writeJSON(w, http.StatusCreated, s.serializeOrder(order, identifiers, authzsToIDs(authzs)))
}

// challengeTypesFor returns the challenge types offered for an identifier:
// wildcard names may only be validated with dns-01 (RFC 8555 §7.1.4).
func (s *Server) challengeTypesFor(ident models.Identifier) []acme.ChallengeType {
	if ident.IsWildcard() {
		return []acme.ChallengeType{acme.ChallengeDNS01}
	}
	return []acme.ChallengeType{acme.ChallengeHTTP01, acme.ChallengeDNS01, acme.ChallengeTLSALPN01}
}

func authzsToIDs(authzs []*models.Authorization) []string {
	ids := make([]string, len(authzs))
	for i, a := range authzs {
		ids[i] = a.AuthorizationID
	}
	return ids
}

func (s *Server) serializeOrder(order *models.Order, identifiers []*models.Identifier, authzIDs []string) map[string]any {
	identDicts := make([]map[string]any, len(identifiers))
	for i, ident := range identifiers {
		identDicts[i] = ident.Serialize()
	}
	authzURLs := make([]string, len(authzIDs))
	for i, id := range authzIDs {
		authzURLs[i] = s.authzURL(id)
	}
	certURL := ""
	if order.CertificateID != "" {
		certURL = s.certificateURL(order.CertificateID)
	}
	return order.Serialize(identDicts, authzURLs, s.orderURL(order.OrderID)+"/finalize", certURL)
}

// loadOrderView reloads an order plus its identifiers and authorization ids,
// recomputing status per spec §4.4's order.validate().
func (s *Server) loadOrderView(ctx context.Context, sess models.Session, kid, orderID string) (*models.Order, []*models.Identifier, []string, error) {
	order, err := sess.GetOrder(ctx, kid, orderID)
	if err != nil {
		return nil, nil, nil, acme.NewError(acme.ErrMalformed, "no such order")
	}

	idents, err := sess.GetIdentifiersByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}

	var authzStatuses []acme.AuthorizationStatus
	var authzIDs []string
	for _, ident := range idents {
		authzs, err := sess.GetAuthorizationsByIdentifier(ctx, ident.IdentifierID)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, a := range authzs {
			authzStatuses = append(authzStatuses, a.Status)
			authzIDs = append(authzIDs, a.AuthorizationID)
		}
	}

	order.Status = statemachine.Validate(order.Status, authzStatuses)
	return order, idents, authzIDs, nil
}

// handleGetOrder implements order (POST-as-GET), RFC 8555 §7.1.3.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	orderID := chiURLParam(r, "id")

	body, err := readBody(r)
	if err != nil {
		return err
	}

	sess, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback(ctx)

	result, err := s.Auth.Authenticate(ctx, body, s.orderURL(orderID), sess, true)
	if err != nil {
		return err
	}
	if result.Account == nil {
		return acme.NewError(acme.ErrUnauthorized, "order requires kid-mode authentication")
	}

	order, idents, authzIDs, err := s.loadOrderView(ctx, sess, result.Account.Kid, orderID)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, s.serializeOrder(order, idents, authzIDs))
}

// handleOrdersList implements the orders-list endpoint (spec §6.1). It
// returns every order URL owned by the account in one response; there is no
// paging.
func (s *Server) handleOrdersList(w http.ResponseWriter, r *http.Request) error {
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

	result, err := s.Auth.Authenticate(ctx, body, s.url("/orders/"+chiURLParam(r, "id")), sess, true)
	if err != nil {
		return err
	}
	if result.Account == nil {
		return acme.NewError(acme.ErrUnauthorized, "orders list requires kid-mode authentication")
	}

	orders, err := sess.GetOrdersByKid(ctx, result.Account.Kid)
	if err != nil {
		return err
	}
	urls := make([]string, len(orders))
	for i, o := range orders {
		urls[i] = s.orderURL(o.OrderID)
	}

	return writeJSON(w, http.StatusOK, map[string]any{"orders": urls})
}
