// Package acme provides ACME (RFC 8555) protocol constants and the shared
// problem-document error type used across the server.
package acme

// Directory endpoint keys, as they appear in the ACME directory resource.
// See https://tools.ietf.org/html/rfc8555#section-7.1.1
const (
	NewNonceEndpoint   = "newNonce"
	NewAccountEndpoint = "newAccount"
	NewOrderEndpoint   = "newOrder"
	RevokeCertEndpoint = "revokeCert"
	KeyChangeEndpoint  = "keyChange"
)

// ReplayNonceHeader is the HTTP response header ACME uses to communicate
// a fresh nonce. See https://tools.ietf.org/html/rfc8555#section-6.5.1
const ReplayNonceHeader = "Replay-Nonce"

// IdentifierType enumerates supported ACME identifier types.
type IdentifierType string

const IdentifierDNS IdentifierType = "dns"

// ChallengeType enumerates supported ACME challenge types.
type ChallengeType string

const (
	ChallengeHTTP01    ChallengeType = "http-01"
	ChallengeDNS01     ChallengeType = "dns-01"
	ChallengeTLSALPN01 ChallengeType = "tls-alpn-01"
)

// AccountStatus enumerates the Account resource's status values.
type AccountStatus string

const (
	AccountValid       AccountStatus = "valid"
	AccountDeactivated AccountStatus = "deactivated"
	AccountRevoked     AccountStatus = "revoked"
)

// OrderStatus enumerates the Order resource's status values.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderReady      OrderStatus = "ready"
	OrderProcessing OrderStatus = "processing"
	OrderValid      OrderStatus = "valid"
	OrderInvalid    OrderStatus = "invalid"
)

// AuthorizationStatus enumerates the Authorization resource's status values.
type AuthorizationStatus string

const (
	AuthorizationPending     AuthorizationStatus = "pending"
	AuthorizationValid       AuthorizationStatus = "valid"
	AuthorizationInvalid     AuthorizationStatus = "invalid"
	AuthorizationDeactivated AuthorizationStatus = "deactivated"
	AuthorizationExpired     AuthorizationStatus = "expired"
	AuthorizationRevoked     AuthorizationStatus = "revoked"
)

// ChallengeStatus enumerates the Challenge resource's status values.
type ChallengeStatus string

const (
	ChallengePending    ChallengeStatus = "pending"
	ChallengeProcessing ChallengeStatus = "processing"
	ChallengeValid      ChallengeStatus = "valid"
	ChallengeInvalid    ChallengeStatus = "invalid"
)

// CertificateStatus enumerates the Certificate resource's status values.
type CertificateStatus string

const (
	CertificateValid   CertificateStatus = "valid"
	CertificateRevoked CertificateStatus = "revoked"
)

// RevocationReason mirrors the CRL reasonCode values accepted by
// RFC 8555 §7.6.
type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = 0
	ReasonKeyCompromise        RevocationReason = 1
	ReasonAffiliationChanged   RevocationReason = 3
	ReasonSuperseded           RevocationReason = 4
	ReasonCessationOfOperation RevocationReason = 5
)

// AllowedRevocationReasons is the set of reason codes this server accepts.
// RFC 8555 does not mandate every CRL reason be supported; acmetk follows
// Let's Encrypt/Boulder practice of restricting to the commonly used subset.
var AllowedRevocationReasons = map[RevocationReason]bool{
	ReasonUnspecified:          true,
	ReasonKeyCompromise:        true,
	ReasonAffiliationChanged:   true,
	ReasonSuperseded:           true,
	ReasonCessationOfOperation: true,
}
