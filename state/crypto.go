package state

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/encodeous/dvpn/lsa"
	"go.step.sm/crypto/keyutil"
	"go.step.sm/crypto/pemutil"
)

const FingerprintLen = 20

// Fingerprint is the leading part of a key id, used to pin peers in configuration.
type Fingerprint [FingerprintLen]byte

// Identity is the node's key, its key id and the self-signed certificate presented in handshakes.
type Identity struct {
	Key  crypto.Signer
	ID   lsa.NodeID
	Cert tls.Certificate
}

// KeyID is the SHA-256 of the DER encoded SubjectPublicKeyInfo.
func KeyID(pub crypto.PublicKey) (lsa.NodeID, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return lsa.NodeID{}, fmt.Errorf("marshal public key: %w", err)
	}
	return sha256.Sum256(der), nil
}

// CertKeyID derives the key id of a presented certificate.
func CertKeyID(cert *x509.Certificate) lsa.NodeID {
	return sha256.Sum256(cert.RawSubjectPublicKeyInfo)
}

func FingerprintOf(id lsa.NodeID) Fingerprint {
	return Fingerprint(id[:FingerprintLen])
}

// Matches reports whether id starts with the fingerprint.
func (f Fingerprint) Matches(id lsa.NodeID) bool {
	return FingerprintOf(id) == f
}

func NewIdentity(key crypto.Signer) (*Identity, error) {
	id, err := KeyID(key.Public())
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: id.Short()},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Key: key,
		ID:  id,
		Cert: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		},
	}, nil
}

// LoadIdentity reads a PEM encoded private key.
func LoadIdentity(path string) (*Identity, error) {
	k, err := pemutil.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	signer, ok := k.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key %s: %T is not a private key", path, k)
	}
	return NewIdentity(signer)
}

// GenerateKey creates a new Ed25519 private key.
func GenerateKey() (crypto.Signer, error) {
	_, priv, err := keyutil.GenerateKeyPair("OKP", "Ed25519", 0)
	if err != nil {
		return nil, err
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("generated key %T is not a signer", priv)
	}
	return signer, nil
}

// EncodeKey returns the PKCS#8 PEM encoding of key.
func EncodeKey(key crypto.Signer) ([]byte, error) {
	block, err := pemutil.Serialize(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(block), nil
}

func ParseKey(data []byte) (*Identity, error) {
	k, err := pemutil.ParseKey(data)
	if err != nil {
		return nil, err
	}
	signer, ok := k.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%T is not a private key", k)
	}
	return NewIdentity(signer)
}
