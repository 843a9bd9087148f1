// Package sender transmits records as single UDP datagrams.
// A Sender owns one unconnected socket and may be shared by any number of goroutines; each Send is one atomic
// datagram write. There is no retry, splitting, ordering, or delivery confirmation.
package sender

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"sync"

	"github.com/rflandau/udprec/udprec"
	"github.com/rflandau/udprec/udprec/protocol"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("sender is closed")

// A Sender writes framed records to arbitrary destinations from a single local socket.
type Sender struct {
	log       *zerolog.Logger
	localAddr netip.AddrPort // requested bind address; the zero value binds an ephemeral port on all interfaces

	pconn     net.PacketConn
	closeOnce sync.Once
	closeErr  error
}

// New binds a socket for sending, optionally modified with opts.
// A bind failure is returned as a *udprec.BindError and is never retried.
func New(opts ...Option) (*Sender, error) {
	s := &Sender{}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}).With().
			Str("component", "sender").
			Timestamp().
			Caller().
			Logger().Level(zerolog.WarnLevel)
		s.log = &l
	}

	bindTo := ":0"
	if s.localAddr.IsValid() {
		bindTo = s.localAddr.String()
	}
	pconn, err := (&net.ListenConfig{}).ListenPacket(context.Background(), "udp", bindTo)
	if err != nil {
		return nil, &udprec.BindError{Addr: s.localAddr, Err: err}
	}
	s.pconn = pconn

	s.log.Debug().Str("local address", pconn.LocalAddr().String()).Msg("sender bound")
	return s, nil
}

// LocalAddr returns the address the sender's socket is bound to.
func (s *Sender) LocalAddr() netip.AddrPort {
	return udprec.AddrPortFromNet(s.pconn.LocalAddr())
}

// Send encodes rec and writes it to dest as exactly one datagram.
//
// Encoding failures (*protocol.PayloadTooLargeError, protocol.ErrInvalidUTF8) are returned as-is and nothing is
// written. Socket failures are returned as *udprec.TransportError.
// ctx is checked before the write; UDP writes do not wait on the peer, so there is nothing further to cancel.
func (s *Sender) Send(ctx context.Context, dest netip.AddrPort, rec protocol.Record) error {
	if ctx == nil {
		return udprec.ErrNilCtx
	} else if !dest.IsValid() {
		return udprec.ErrBadAddr(dest)
	}

	frame, err := protocol.Encode(rec)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := s.pconn.WriteTo(frame, net.UDPAddrFromAddrPort(dest))
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			err = errors.Join(ErrClosed, err)
		}
		s.log.Warn().Err(err).Str("target address", dest.String()).Uint32("id", rec.ID).Msg("failed to send record")
		return &udprec.TransportError{Op: "write", Addr: dest, Err: err}
	} else if n != len(frame) {
		// datagram writes are all-or-nothing; a short count means the stack misbehaved
		return &udprec.TransportError{Op: "write", Addr: dest, Err: errors.New("short datagram write")}
	}
	s.log.Debug().Str("target address", dest.String()).Int("frame size (bytes)", n).Func(rec.Zerolog).Msg("record sent")
	return nil
}

// Close releases the socket.
// Idempotent; subsequent Sends fail with a TransportError wrapping ErrClosed.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pconn.Close()
		s.log.Debug().AnErr("conn close error", s.closeErr).Msg("sender closed")
	})
	return s.closeErr
}

// SendTo is a one-shot helper that binds an ephemeral socket, sends rec to dest, and releases the socket.
func SendTo(ctx context.Context, dest netip.AddrPort, rec protocol.Record, opts ...Option) error {
	s, err := New(opts...)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Send(ctx, dest, rec)
}
