package state

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameValidator_Valid(t *testing.T) {
	assert.NoError(t, NameValidator("1"))
	assert.NoError(t, NameValidator("ab_cd"))
	assert.NoError(t, NameValidator("abcd-a.com"))
}

func TestNameValidator_Invalid(t *testing.T) {
	assert.Error(t, NameValidator("1A"))
	assert.Error(t, NameValidator("node name"))
	assert.Error(t, NameValidator(""))
	assert.Error(t, NameValidator("\t"))
	assert.Error(t, NameValidator("abcd-a.com\\hi"))
	assert.Error(t, NameValidator(strings.Repeat("a", 200)))
}

func TestInterfaceValidator(t *testing.T) {
	assert.NoError(t, InterfaceValidator("dvpn-beta"))
	assert.Error(t, InterfaceValidator(""))
	assert.Error(t, InterfaceValidator("this-name-is-too-long"))
	assert.Error(t, InterfaceValidator("a b"))
}

func fp(b byte) Fingerprint {
	var f Fingerprint
	for i := range f {
		f[i] = b
	}
	return f
}

func validConfig() *LocalCfg {
	return &LocalCfg{
		Name: "alpha",
		Key:  "/etc/dvpn/key.pem",
		Connect: []ConnectCfg{
			{Name: "beta", Host: "beta.example.net", Port: 19275, Fingerprint: fp(1), Tun: "dvpn-beta"},
		},
		Listen: []ListenCfg{{
			Address: netip.MustParseAddrPort("[::]:19275"),
			Peers: []ListenPeerCfg{
				{Name: "gamma", Fingerprint: fp(2), Tun: "dvpn-gamma"},
			},
		}},
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	assert.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfig_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Name = "Alpha"
	cfg.Connect = append(cfg.Connect, ConnectCfg{Name: "gamma", Host: "", Port: 0, Fingerprint: fp(2), Tun: "dvpn-beta"})
	cfg.Listen[0].Address = netip.AddrPort{}

	err := ValidateConfig(cfg)
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)

	msg := err.Error()
	assert.Contains(t, msg, "Alpha is not a valid name")
	assert.Contains(t, msg, "peer gamma: host is required")
	assert.Contains(t, msg, "peer gamma: port is required")
	assert.Contains(t, msg, "interface dvpn-beta is already used")
	assert.Contains(t, msg, "duplicate peer name gamma")
	assert.Contains(t, msg, "is already used by gamma")
	assert.Contains(t, msg, "listen[0]: invalid address")
}

func TestValidateConfig_MissingFingerprint(t *testing.T) {
	cfg := validConfig()
	cfg.Connect[0].Fingerprint = Fingerprint{}
	assert.ErrorContains(t, ValidateConfig(cfg), "peer beta: fingerprint is required")
}
