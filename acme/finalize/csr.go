package finalize

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/sapid/acmetk/acme"
)

// ParseCSR decodes and signature-checks a DER-encoded PKCS#10 request,
// grounded on the inverse of (*client.Client).CSR in
// acme/client/csr.go — that method builds the request this one consumes.
// A signature failure maps to badCSR per spec §4.5 step 3.
func ParseCSR(der []byte) (*x509.CertificateRequest, error) {
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, acme.NewError(acme.ErrBadCSR, fmt.Sprintf("parse CSR: %v", err))
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, acme.NewError(acme.ErrBadCSR, fmt.Sprintf("invalid CSR signature: %v", err))
	}
	return csr, nil
}

// MinKeyBitsOK enforces the configured minimum key size (spec §4.5 step 3:
// "reject if key size < configured minimum -> badPublicKey").
func MinKeyBitsOK(csr *x509.CertificateRequest, minRSABits, minECDSABits int) error {
	switch pub := csr.PublicKey.(type) {
	case *rsa.PublicKey:
		if pub.N.BitLen() < minRSABits {
			return acme.NewError(acme.ErrBadPublicKey, fmt.Sprintf("RSA key too small: %d bits < %d", pub.N.BitLen(), minRSABits))
		}
	case *ecdsa.PublicKey:
		if pub.Curve.Params().BitSize < minECDSABits {
			return acme.NewError(acme.ErrBadPublicKey, fmt.Sprintf("ECDSA key too small: %d bits < %d", pub.Curve.Params().BitSize, minECDSABits))
		}
	default:
		return acme.NewError(acme.ErrBadPublicKey, fmt.Sprintf("unsupported public key type %T", pub))
	}
	return nil
}

// IdentifierClosure returns the case-folded, deduplicated set of DNS names
// a CSR asserts: its CommonName (if non-empty) plus all SANs, per spec §3's
// "Order identifier closure" invariant.
func IdentifierClosure(csr *x509.CertificateRequest) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	add(csr.Subject.CommonName)
	for _, san := range csr.DNSNames {
		add(san)
	}
	return names
}

// MatchesOrderIdentifiers reports whether csrNames is exactly the set of
// orderNames, with wildcard identifiers (a leading "*." label) matching
// only the corresponding wildcard CSR name — not its base name or any other
// subdomain, per spec §3: "wildcard identifiers match only a leading `*.`
// label".
func MatchesOrderIdentifiers(csrNames, orderNames []string) bool {
	if len(csrNames) != len(orderNames) {
		return false
	}
	want := make(map[string]bool, len(orderNames))
	for _, n := range orderNames {
		want[strings.ToLower(n)] = true
	}
	for _, n := range csrNames {
		if !want[strings.ToLower(n)] {
			return false
		}
	}
	return true
}
