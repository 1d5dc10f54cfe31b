// Package standalone implements the Standalone CA mode of the Order
// Finalization Engine's Issuer contract (spec §4.5): it signs a submitted
// CSR locally against a self-signed issuing certificate, rather than relaying
// to an upstream CA. Certificate generation itself (CSR parsing, X.509
// signing) is the out-of-scope "signer capability" collaborator (spec §1);
// this package is a minimal implementation of that collaborator, grounded on
// caddytls/selfsigned.go's self-signed certificate construction.
package standalone

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/sapid/acmetk/acme/models"
)

// leafLifetime is the validity window granted to every issued leaf
// certificate.
const leafLifetime = 90 * 24 * time.Hour

// CA is a minimal self-signed issuing authority: it holds one issuing key
// pair and certificate, generated at startup, and signs leaf certificates
// against it for every finalize request.
type CA struct {
	key    *ecdsa.PrivateKey
	cert   *x509.Certificate
	certPEM []byte
}

// NewSelfSignedCA generates a fresh issuing key pair and self-signed
// certificate. It is meant for reference deployments and tests; a
// production deployment would load a pre-provisioned issuing key instead.
func NewSelfSignedCA() (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("standalone: generate CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("standalone: generate CA serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"acmetk Standalone CA"}, CommonName: "acmetk Standalone CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("standalone: self-sign CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("standalone: parse CA certificate: %w", err)
	}

	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return nil, fmt.Errorf("standalone: encode CA certificate: %w", err)
	}

	return &CA{key: key, cert: cert, certPEM: buf.Bytes()}, nil
}

// ChainPEM returns the issuing certificate in PEM form, served at /ca-chain.
func (ca *CA) ChainPEM() []byte {
	return ca.certPEM
}

// Finalize implements finalize.Issuer: it signs the CSR's public key and
// identifier set against the CA's issuing key, valid for leafLifetime.
func (ca *CA) Finalize(ctx context.Context, order *models.Order, names []string, csrDER []byte) (der []byte, fullChainPEM []byte, err error) {
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, nil, fmt.Errorf("standalone: parse CSR: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, nil, fmt.Errorf("standalone: invalid CSR signature: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("standalone: generate leaf serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: leafCommonName(names)},
		DNSNames:     names,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(leafLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	leafDER, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, csr.PublicKey, ca.key)
	if err != nil {
		return nil, nil, fmt.Errorf("standalone: sign leaf certificate: %w", err)
	}

	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: leafDER}); err != nil {
		return nil, nil, fmt.Errorf("standalone: encode leaf certificate: %w", err)
	}
	buf.Write(ca.certPEM)

	return leafDER, buf.Bytes(), nil
}

func leafCommonName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
