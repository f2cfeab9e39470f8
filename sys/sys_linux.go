package sys

import (
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// VerifyIPv6 checks that the kernel has IPv6 enabled, tunnel addressing is IPv6 only.
func VerifyIPv6() error {
	disabled, err := os.ReadFile("/proc/sys/net/ipv6/conf/all/disable_ipv6")
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(disabled)) != "0" {
		return fmt.Errorf("IPv6 is disabled. Please enable IPv6 to use dvpn")
	}
	return nil
}

// TCPMaxSeg returns the negotiated TCP maximum segment size of conn.
func TCPMaxSeg(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("%T does not expose its socket", conn)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var mss int
	var serr error
	err = rc.Control(func(fd uintptr) {
		mss, serr = unix.GetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_MAXSEG)
	})
	if err != nil {
		return 0, err
	}
	return mss, serr
}
