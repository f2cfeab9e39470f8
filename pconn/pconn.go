// Package pconn runs TLS over an established stream socket and exchanges whole records,
// reporting handshake completion, received records and connection loss on a reactor.
package pconn

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/encodeous/dvpn/lsa"
	"github.com/encodeous/dvpn/state"
)

type Role uint8

const (
	Client Role = iota
	Server
)

func (r Role) String() string {
	if r == Client {
		return "client"
	}
	return "server"
}

var (
	ErrClosed         = errors.New("pconn: connection destroyed")
	ErrNotEstablished = errors.New("pconn: handshake not complete")
	ErrQueueFull      = errors.New("pconn: send queue full")
	ErrRecordTooLarge = errors.New("pconn: record too large")
	ErrRejected       = errors.New("pconn: peer identity rejected")
)

// Events are invoked on the reactor. Verify is asked exactly once during the handshake with the
// key id of the certificate the peer presented.
type Events struct {
	Verify         func(id lsa.NodeID) bool
	HandshakeDone  func()
	Record         func(rec []byte)
	ConnectionLost func(err error)
}

// Transport is the record interface sessions use.
type Transport interface {
	SendRecord(rec []byte) error
	Destroy()
}

type Conn struct {
	r      state.Reactor
	raw    net.Conn
	tls    *tls.Conn
	ev     Events
	ctx    context.Context
	cancel context.CancelFunc
	sendq  chan []byte

	destroyed atomic.Bool
	// loop only
	established bool
	lost        bool
}

// Start begins the handshake in the background. conn is owned by the returned Conn from now on.
func Start(r state.Reactor, conn net.Conn, role Role, cert *tls.Certificate, ev Events) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		r:      r,
		raw:    conn,
		ev:     ev,
		ctx:    ctx,
		cancel: cancel,
		sendq:  make(chan []byte, state.SendQueueLen),
	}

	cfg := &tls.Config{
		Certificates:                []tls.Certificate{*cert},
		MinVersion:                  tls.VersionTLS13,
		DynamicRecordSizingDisabled: true,
		InsecureSkipVerify:          true,
		VerifyPeerCertificate:       c.verify,
	}
	if role == Server {
		cfg.ClientAuth = tls.RequireAnyClientCert
		c.tls = tls.Server(conn, cfg)
	} else {
		c.tls = tls.Client(conn, cfg)
	}

	go c.run()
	return c
}

// post runs fun on the reactor unless the connection was destroyed in the meantime.
func (c *Conn) post(fun func()) {
	c.r.Post(func() {
		if c.destroyed.Load() {
			return
		}
		fun()
	})
}

func (c *Conn) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("%w: no certificate", ErrRejected)
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return err
	}
	id := state.CertKeyID(cert)

	res := make(chan bool, 1)
	c.r.Post(func() {
		if c.destroyed.Load() {
			res <- false
			return
		}
		res <- c.ev.Verify(id)
	})
	select {
	case ok := <-res:
		if !ok {
			return fmt.Errorf("%w: %s", ErrRejected, id.Short())
		}
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Conn) connectionLost(err error) {
	c.post(func() {
		if c.lost {
			return
		}
		c.lost = true
		c.ev.ConnectionLost(err)
	})
}

func (c *Conn) run() {
	if err := c.tls.HandshakeContext(c.ctx); err != nil {
		c.connectionLost(fmt.Errorf("handshake: %w", err))
		return
	}
	c.post(func() {
		c.established = true
		c.ev.HandshakeDone()
	})

	go c.writer()

	buf := make([]byte, state.MaxRecordSize)
	for {
		n, err := c.tls.Read(buf)
		if err != nil {
			c.connectionLost(err)
			return
		}
		rec := bytes.Clone(buf[:n])
		c.post(func() {
			c.ev.Record(rec)
		})
	}
}

func (c *Conn) writer() {
	for {
		select {
		case rec := <-c.sendq:
			if _, err := c.tls.Write(rec); err != nil {
				c.connectionLost(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// SendRecord queues rec to be sent as a single TLS record. It never blocks.
func (c *Conn) SendRecord(rec []byte) error {
	if c.destroyed.Load() {
		return ErrClosed
	}
	if !c.established {
		return ErrNotEstablished
	}
	if len(rec) > state.MaxRecordSize {
		return ErrRecordTooLarge
	}
	select {
	case c.sendq <- bytes.Clone(rec):
		return nil
	default:
		return ErrQueueFull
	}
}

// Destroy closes the socket. No events are delivered afterwards.
func (c *Conn) Destroy() {
	if c.destroyed.Swap(true) {
		return
	}
	c.cancel()
	_ = c.raw.Close()
}
