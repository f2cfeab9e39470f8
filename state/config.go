package state

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/goccy/go-yaml"
)

// ConnectCfg describes an outbound peer: where to reach it and which tunnel it serves.
type ConnectCfg struct {
	Name        string
	Host        string
	Port        uint16
	Fingerprint Fingerprint
	Tun         string // tunnel interface carrying this peer's traffic
}

// ListenPeerCfg is an allow-listed inbound peer.
type ListenPeerCfg struct {
	Name        string
	Fingerprint Fingerprint
	Tun         string
}

type ListenCfg struct {
	Address netip.AddrPort
	Peers   []ListenPeerCfg
}

// LocalCfg represents local node-level configuration
type LocalCfg struct {
	Name         string
	Key          string         // path to the PEM encoded private key
	LogPath      string         `yaml:"log_path,omitempty"`      // if not empty, dvpn will also write to this file
	DnsResolvers []string       `yaml:"dns_resolvers,omitempty"` // host:port of resolvers used instead of the system ones
	QueryPort    uint16         `yaml:"query_port,omitempty"`    // port of the local LSA responder
	NoQuery      bool           `yaml:"no_query,omitempty"`      // do not poll the local LSA responder
	AdjListen    netip.AddrPort `yaml:"adj_listen,omitempty"`    // where adjacency sessions are accepted, its port is dialed on peers
	Socket       string         `yaml:"socket,omitempty"`        // inspect socket
	Metrics      string         `yaml:"metrics,omitempty"`       // if not empty, serve /debug/metrics on this address
	Connect      []ConnectCfg   `yaml:"connect,omitempty"`
	Listen       []ListenCfg    `yaml:"listen,omitempty"`
}

func (c *LocalCfg) ApplyDefaults() {
	if c.QueryPort == 0 {
		c.QueryPort = DefaultQueryPort
	}
	if !c.AdjListen.IsValid() {
		c.AdjListen = netip.AddrPortFrom(netip.IPv6Unspecified(), DefaultAdjPort)
	}
	if c.Socket == "" {
		c.Socket = DefaultSocketPath
	}
}

func ParseConfig(data []byte) (*LocalCfg, error) {
	var cfg LocalCfg
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func ReadConfig(path string) (*LocalCfg, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *LocalCfg) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
