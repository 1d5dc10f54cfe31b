package statemachine

import "github.com/sapid/acmetk/acme"

// Revoke applies the terminal VALID -> REVOKED transition (spec §4.4:
// revoke-cert). REVOKED has no outgoing edges; a second revocation request
// against an already-REVOKED certificate is rejected by the caller with
// alreadyRevoked before this function is ever reached.
func Revoke(status acme.CertificateStatus) (acme.CertificateStatus, error) {
	if status == acme.CertificateValid {
		return acme.CertificateRevoked, nil
	}
	return status, &ErrInvalidTransition{Entity: "Certificate", From: string(status), To: string(acme.CertificateRevoked)}
}
