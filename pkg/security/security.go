package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	// Server certificate validity: 2 years, regenerated when less than 30
	// days remain
	serverCertValidity    = 2 * 365 * 24 * time.Hour
	certRotationThreshold = 30 * 24 * time.Hour

	serverKeySize = 2048

	certFile = "server.crt"
	keyFile  = "server.key"
)

// EnsureServerCert returns the controller's TLS certificate, generating a
// self-signed one under dir when none exists or the stored one is close to
// expiry. host is the address the controller listens on and ends up in the
// certificate's SANs alongside the loopback addresses.
func EnsureServerCert(dir, host string) (*tls.Certificate, error) {
	if CertExists(dir) {
		cert, err := LoadCert(dir)
		if err == nil && !CertNeedsRotation(cert.Leaf) {
			return cert, nil
		}
		// Unreadable or nearly expired, fall through and regenerate.
	}

	cert, err := GenerateServerCert(host)
	if err != nil {
		return nil, err
	}
	if err := SaveCert(cert, dir); err != nil {
		return nil, err
	}
	return cert, nil
}

// GenerateServerCert creates a self-signed server certificate
func GenerateServerCert(host string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, serverKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"ChallengeCtl"},
			CommonName:   "ChallengeCtl Controller",
		},
		// Backdated an hour so runners with slightly behind clocks accept it
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(serverCertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	if host != "" {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// SaveCert writes the certificate and key as PEM files
func SaveCert(cert *tls.Certificate, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Certificate[0],
	})
	if err := os.WriteFile(filepath.Join(dir, certFile), certPEM, 0600); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("private key is not RSA")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(filepath.Join(dir, keyFile), keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

// LoadCert loads the certificate and key from dir
func LoadCert(dir string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, certFile), filepath.Join(dir, keyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}

// CertExists checks whether both PEM files are present
func CertExists(dir string) bool {
	_, err1 := os.Stat(filepath.Join(dir, certFile))
	_, err2 := os.Stat(filepath.Join(dir, keyFile))
	return err1 == nil && err2 == nil
}

// CertNeedsRotation returns true when less than 30 days remain until expiry
func CertNeedsRotation(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}
	return time.Until(cert.NotAfter) < certRotationThreshold
}

// Fingerprint returns the SHA-256 fingerprint of the certificate, the value
// operators pin on the runner side when using a self-signed controller
func Fingerprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}
