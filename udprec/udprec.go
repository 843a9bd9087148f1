// Package udprec is the parent package of the udprec record transport.
// It contains child packages protocol (record framing), sender (one datagram per record), receiver (listener loop),
// and the supporting store, status, and config packages.
// Child packages are mostly self-contained, the parent package provides the few shared utilities.
package udprec

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// MaxFrameSize is the largest datagram udprec will produce or accept.
// 508B is the largest UDP payload that survives the minimum IPv4 reassembly buffer (576B) minus the maximum IP
// header (60B) and the UDP header (8B), so frames are never fragmented or dropped for size on a commodity path.
const MaxFrameSize = 508

// IDLen is the width (in bytes) of the big-endian record identifier that leads every frame.
const IDLen = 4

// MaxTextSize is the largest UTF-8 payload (in bytes) a single frame can carry.
const MaxTextSize = MaxFrameSize - IDLen

var ErrNilCtx = errors.New("do not pass nil contexts; use context.TODO or context.Background instead")

// ErrBadAddr returns an error to indicate that the given netip.AddrPort was invalid.
func ErrBadAddr(ap netip.AddrPort) error {
	return fmt.Errorf("address %v is not a valid ip:port", ap)
}

// BindError indicates that a UDP socket could not be bound to the requested address.
// Binds are never retried.
type BindError struct {
	Addr netip.AddrPort
	Err  error
}

func (e *BindError) Error() string {
	return "failed to bind " + e.Addr.String() + ": " + e.Err.Error()
}

func (e *BindError) Unwrap() error { return e.Err }

// TransportError wraps a socket-level failure.
// It is reported verbatim; nothing in udprec retries on it.
type TransportError struct {
	Op   string         // "write" or "read"
	Addr netip.AddrPort // remote address, if known
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr.IsValid() {
		return e.Op + " " + e.Addr.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// AddrPortFromNet converts a net.Addr (as returned by ReadFrom/LocalAddr) into a netip.AddrPort.
// Returns the zero AddrPort if addr is not a UDP address.
func AddrPortFromNet(addr net.Addr) netip.AddrPort {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.AddrPort()
	case nil:
		return netip.AddrPort{}
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}
	}
	return ap
}
