package state

import (
	"encoding/hex"
	"fmt"
	"strings"
)

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(f[:])), nil
}

// UnmarshalText accepts plain or colon separated hex.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	data, err := hex.DecodeString(strings.ReplaceAll(string(text), ":", ""))
	if err != nil {
		return err
	}
	if len(data) != FingerprintLen {
		return fmt.Errorf("fingerprint must be %d bytes, got %d", FingerprintLen, len(data))
	}
	*f = Fingerprint(data)
	return nil
}

func (f Fingerprint) String() string {
	parts := make([]string, len(f))
	for i, b := range f {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}
