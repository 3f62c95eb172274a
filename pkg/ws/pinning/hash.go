package pinning

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

var ErrInvalidCert = errors.New("invalid certificate")

// SPKIHash возвращает base64(SHA-256(SubjectPublicKeyInfo)) сертификата.
func SPKIHash(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ChainHashes считает хеши для всей цепочки, сохраняя порядок (лист первым).
func ChainHashes(chain []*x509.Certificate) []string {
	hashes := make([]string, 0, len(chain))
	for _, cert := range chain {
		hashes = append(hashes, SPKIHash(cert))
	}

	return hashes
}

// HashFromPEM считает pin для первого сертификата в PEM.
func HashFromPEM(certPEM []byte) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", ErrInvalidCert
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCert, err)
	}

	return SPKIHash(cert), nil
}
