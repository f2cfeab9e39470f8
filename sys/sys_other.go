//go:build !linux

package sys

import (
	"errors"
	"net"
)

var errUnsupported = errors.New("not supported on this platform")

func VerifyIPv6() error {
	return nil
}

func TCPMaxSeg(conn net.Conn) (int, error) {
	return 0, errUnsupported
}
