package statemachine

import "github.com/sapid/acmetk/acme"

// orderTransitions is the exhaustive table for spec §4.4's Order state
// machine: PENDING -> READY -> PROCESSING -> {VALID, INVALID}, plus the
// PENDING -> INVALID short-circuit triggered by a failed authorization.
var orderTransitions = map[acme.OrderStatus]map[acme.OrderStatus]bool{
	acme.OrderPending: {
		acme.OrderReady:   true,
		acme.OrderInvalid: true,
	},
	acme.OrderReady: {
		acme.OrderProcessing: true,
		acme.OrderInvalid:    true,
	},
	acme.OrderProcessing: {
		acme.OrderValid:   true,
		acme.OrderInvalid: true,
	},
}

func transition(status, target acme.OrderStatus) (acme.OrderStatus, error) {
	if allowed, ok := orderTransitions[status]; ok && allowed[target] {
		return target, nil
	}
	return status, &ErrInvalidTransition{Entity: "Order", From: string(status), To: string(target)}
}

// StartFinalizing applies the client-requested READY -> PROCESSING
// transition triggered by the finalize request.
func StartFinalizing(status acme.OrderStatus) (acme.OrderStatus, error) {
	return transition(status, acme.OrderProcessing)
}

// CompleteFinalizing applies the PROCESSING -> VALID transition once a
// certificate has been issued and stored.
func CompleteFinalizing(status acme.OrderStatus) (acme.OrderStatus, error) {
	return transition(status, acme.OrderValid)
}

// FailFinalizing applies the PROCESSING -> INVALID transition when issuance
// fails (upstream error in Broker/Proxy mode, CSR rejected at sign time).
func FailFinalizing(status acme.OrderStatus) (acme.OrderStatus, error) {
	return transition(status, acme.OrderInvalid)
}

// Invalidate applies the -> INVALID transition from any of PENDING, READY or
// PROCESSING, used when a relay's background challenge-completion fails
// before finalize was ever requested (spec §4.6: "Proxy new-order ... on
// challenge failure sets local order INVALID").
func Invalidate(status acme.OrderStatus) (acme.OrderStatus, error) {
	return transition(status, acme.OrderInvalid)
}

// Validate recomputes the Order status from its authorizations' statuses,
// mirroring the recompute performed on every read in
// acme_broker/models/order.py: Order.status. It is idempotent and never
// regresses a terminal status (VALID, INVALID). Only a PENDING order is
// recomputed: it becomes INVALID when any authorization has failed, READY
// when every authorization is VALID, and stays PENDING otherwise; every
// other status is returned unchanged.
func Validate(status acme.OrderStatus, authzStatuses []acme.AuthorizationStatus) acme.OrderStatus {
	if status != acme.OrderPending {
		return status
	}
	allValid := len(authzStatuses) > 0
	for _, s := range authzStatuses {
		if IsFailed(s) {
			return acme.OrderInvalid
		}
		if s != acme.AuthorizationValid {
			allValid = false
		}
	}
	if allValid {
		return acme.OrderReady
	}
	return acme.OrderPending
}
