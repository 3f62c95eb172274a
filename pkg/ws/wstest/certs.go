package wstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/pinning"
)

// PKI содержит тестовый CA и пул корней, которому доверяет клиент.
type PKI struct {
	CACert  *x509.Certificate
	RootCAs *x509.CertPool

	caKey *ecdsa.PrivateKey
}

func NewPKI(t testing.TB) *PKI {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate CA key: %v", err)
	}

	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test CA"},
			CommonName:   "Test CA",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("failed to create CA certificate: %v", err)
	}

	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		t.Fatalf("failed to parse CA certificate: %v", err)
	}

	rootCAs := x509.NewCertPool()
	rootCAs.AddCert(caCert)

	return &PKI{CACert: caCert, RootCAs: rootCAs, caKey: caKey}
}

// Issue выпускает серверный сертификат для 127.0.0.1 и localhost.
// Цепочка содержит лист и CA.
func (p *PKI) Issue(t testing.TB) tls.Certificate {
	t.Helper()

	key, template := leafTemplate(t)

	der, err := x509.CreateCertificate(rand.Reader, template, p.CACert, &key.PublicKey, p.caKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	return keyPair(t, key, der, p.CACert.Raw)
}

// SelfSigned выпускает самоподписанный сертификат для 127.0.0.1 и localhost.
func SelfSigned(t testing.TB) tls.Certificate {
	t.Helper()

	key, template := leafTemplate(t)

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	return keyPair(t, key, der)
}

// Pin возвращает SPKI хеш листа.
func Pin(cert tls.Certificate) string {
	return pinning.SPKIHash(cert.Leaf)
}

func leafTemplate(t testing.TB) (*ecdsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	return key, &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "localhost",
		},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().Add(time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
	}
}

func keyPair(t testing.TB, key *ecdsa.PrivateKey, leafDER []byte, chain ...[]byte) tls.Certificate {
	t.Helper()

	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	return tls.Certificate{
		Certificate: append([][]byte{leafDER}, chain...),
		PrivateKey:  key,
		Leaf:        leaf,
	}
}
