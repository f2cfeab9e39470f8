package state

import "time"

var (
	// outbound session
	ResolveTimeout          = time.Second * 10
	ConnectTimeout          = time.Second * 10
	ConnectHandshakeTimeout = time.Second * 10
	RetryWaitTime           = time.Second * 10

	// inbound session
	ListenHandshakeTimeout = time.Second * 30

	KeepaliveInterval = time.Second * 30
	// RxTimeout is 1.5x the keepalive interval
	RxTimeout = KeepaliveInterval * 3 / 2

	// tunnel MTU derived from the TCP MSS, minus the TLS record and framing overhead
	TunOverhead = 5 + 8 + 3 + 16
	MinTunMTU   = 576
	MaxTunMTU   = 1500

	MaxRecordSize = 16384
	SendQueueLen  = 256

	// local LSA query
	QueryInterval    = time.Millisecond * 100
	DefaultQueryPort = uint16(19275)
	DefaultAdjPort   = uint16(19276)

	DefaultSocketPath     = "/var/run/dvpn.sock"
	SlowDispatchThreshold = time.Millisecond * 4
	TraceBufferLen        = 1024

	// refresh dns
	DnsRefreshDelay = time.Minute * 1
)
