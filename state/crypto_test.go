package state

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	_, ok := key.(ed25519.PrivateKey)
	assert.True(t, ok)

	id, err := NewIdentity(key)
	require.NoError(t, err)
	assert.Equal(t, CertKeyID(id.Cert.Leaf), id.ID)
}

func TestKeyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	pemBytes, err := EncodeKey(key)
	require.NoError(t, err)
	assert.Contains(t, string(pemBytes), "PRIVATE KEY")

	p := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(p, pemBytes, 0600))

	loaded, err := LoadIdentity(p)
	require.NoError(t, err)
	expected, err := KeyID(key.Public())
	require.NoError(t, err)
	assert.Equal(t, expected, loaded.ID)

	parsed, err := ParseKey(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, expected, parsed.ID)
}

func TestFingerprint(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	id, err := KeyID(key.Public())
	require.NoError(t, err)

	f := FingerprintOf(id)
	assert.True(t, f.Matches(id))
	assert.Equal(t, id[:FingerprintLen], f[:])

	text, err := f.MarshalText()
	require.NoError(t, err)
	var parsed Fingerprint
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, f, parsed)

	var colon Fingerprint
	require.NoError(t, colon.UnmarshalText([]byte(f.String())))
	assert.Equal(t, f, colon)

	other := id
	other[0] ^= 1
	assert.False(t, f.Matches(other))

	assert.Error(t, parsed.UnmarshalText([]byte("0102")))
	assert.Error(t, parsed.UnmarshalText([]byte("zz")))
}
