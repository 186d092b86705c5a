// Package certstore manages the self-signed X.509 identity that
// authenticates a valent device over TLS, and the trust-on-first-use
// store of peer certificates accumulated through pairing.
package certstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// keyBits is the RSA key size used for device identities, per the wire
// protocol's certificate requirements.
const keyBits = 4096

// certValidity is how long a generated self-signed certificate is valid.
// There is no renewal: the device id is the certificate's CN, so renewing
// invalidates every peer's trust-on-first-use pin, and valent devices are
// expected to stay paired far longer than this window.
const certValidity = 20 * 365 * 24 * time.Hour

const (
	certFileName = "certificate.pem"
	keyFileName  = "private.pem"
)

// Identity is a device's certificate and private key, used as both the
// TLS server and client credential on every channel.
type Identity struct {
	DeviceID   string
	Cert       *x509.Certificate
	PrivateKey *rsa.PrivateKey
	tlsCert    tls.Certificate
}

// TLSCertificate returns the tls.Certificate for use in a tls.Config.
func (id *Identity) TLSCertificate() tls.Certificate {
	return id.tlsCert
}

// Fingerprint returns the SHA-256 fingerprint of the identity's own
// certificate, hex-encoded with colon separators (the conventional
// display form).
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.Cert)
}

// Fingerprint computes the SHA-256 of a certificate's DER bytes, the
// device-identity scheme this module uses in place of the teacher's
// Curve25519 public key.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// IsSame reports whether two certificates are the same identity: their
// DER-encoded bytes compare equal byte-for-byte.
func IsSame(a, b *x509.Certificate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return string(a.Raw) == string(b.Raw)
}

// newDeviceID generates a device id in the 32-lowercase-hex-character
// form KDE Connect peers expect, derived from a random UUIDv4 with its
// dashes stripped.
func newDeviceID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GenerateIdentity creates a fresh self-signed certificate and RSA key
// pair with CN set to a freshly generated device id.
func GenerateIdentity() (*Identity, error) {
	deviceID := newDeviceID()

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating certificate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: deviceID},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating self-signed certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing generated certificate: %w", err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        cert,
	}

	return &Identity{
		DeviceID:   deviceID,
		Cert:       cert,
		PrivateKey: key,
		tlsCert:    tlsCert,
	}, nil
}

// LoadOrGenerateIdentity loads certificate.pem and private.pem from dir,
// generating and persisting a new identity on first use. The certificate
// is written world-readable (0664); the private key is written
// owner-only (0600), matching the split public/secret permission split
// the rest of this module's configuration uses.
func LoadOrGenerateIdentity(dir string) (*Identity, error) {
	certPath := filepath.Join(dir, certFileName)
	keyPath := filepath.Join(dir, keyFileName)

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		return parseIdentity(certPEM, keyPEM)
	}

	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := saveIdentity(dir, id); err != nil {
		return nil, err
	}
	return id, nil
}

func parseIdentity(certPEM, keyPEM []byte) (*Identity, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("%s: no PEM block found", certFileName)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", certFileName, err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("%s: no PEM block found", keyFileName)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", keyFileName, err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certBlock.Bytes},
		PrivateKey:  key,
		Leaf:        cert,
	}

	return &Identity{
		DeviceID:   cert.Subject.CommonName,
		Cert:       cert,
		PrivateKey: key,
		tlsCert:    tlsCert,
	}, nil
}

func saveIdentity(dir string, id *Identity) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating identity directory %s: %w", dir, err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Cert.Raw})
	if err := os.WriteFile(filepath.Join(dir, certFileName), certPEM, 0664); err != nil {
		return fmt.Errorf("writing %s: %w", certFileName, err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(id.PrivateKey)})
	if err := os.WriteFile(filepath.Join(dir, keyFileName), keyPEM, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", keyFileName, err)
	}

	return nil
}
