// Package receiver implements a UDP listener that turns datagrams into records.
// A receiver can be spun up with New + Start (or Listen) and shut down with Stop.
//
// Every datagram is decoded and handed to the receiver's Consumer, successful or not, in arrival order.
// A malformed datagram never ends the loop; only a socket that can no longer be read from does.
package receiver

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rflandau/udprec/udprec"
	"github.com/rflandau/udprec/udprec/protocol"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is how long a single read waits before the receiver re-checks for a stop request.
const DefaultPollInterval = 100 * time.Millisecond

// A Receiver owns one UDP socket and the goroutine reading from it.
// Receivers share no state with one another; any number may run in the same process.
type Receiver struct {
	log          *zerolog.Logger
	addr         netip.AddrPort // requested bind address
	consumer     Consumer
	pollInterval time.Duration
	metrics      *Metrics

	mu    sync.Mutex // held across state transitions
	state atomic.Uint32
	net   struct {
		pconn    net.PacketConn // nil until Start
		stopping atomic.Bool    // set by Stop, observed by dispatch after each read
		done     chan struct{}  // closed once the socket has been released
		err      error          // fatal error that ended dispatch; nil on a requested stop
	}
}

// New generates a new, Idle receiver that will deliver to consumer once it is Start()'d.
func New(addr netip.AddrPort, consumer Consumer, opts ...Option) (*Receiver, error) {
	if !addr.IsValid() {
		return nil, udprec.ErrBadAddr(addr)
	} else if consumer == nil {
		return nil, ErrNilConsumer
	}

	r := &Receiver{
		addr:         addr,
		consumer:     consumer,
		pollInterval: DefaultPollInterval,
	}
	r.net.done = make(chan struct{})
	r.state.Store(uint32(Idle))

	for _, opt := range opts {
		opt(r)
	}

	if r.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:         os.Stdout,
			FieldsOrder: []string{"bind"},
			TimeFormat:  "15:04:05",
		}).With().
			Str("bind", addr.String()).
			Timestamp().
			Caller().
			Logger().Level(zerolog.WarnLevel)
		r.log = &l
	}

	r.log.Debug().Func(r.Zerolog).Msg("receiver created")
	return r, nil
}

// Listen is shorthand for New followed by Start.
func Listen(addr netip.AddrPort, consumer Consumer, opts ...Option) (*Receiver, error) {
	r, err := New(addr, consumer, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Start(); err != nil {
		return nil, err
	}
	return r, nil
}

//#region getters

// State returns the receiver's current lifecycle state.
func (r *Receiver) State() State {
	return State(r.state.Load())
}

// Addr returns the address the socket is bound to.
// Prior to Start (or if the bind failed), returns the requested address.
func (r *Receiver) Addr() netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.net.pconn == nil {
		return r.addr
	}
	return udprec.AddrPortFromNet(r.net.pconn.LocalAddr())
}

// Done returns a channel that is closed once the receive loop has exited and its socket has been released.
func (r *Receiver) Done() <-chan struct{} {
	return r.net.done
}

// Err returns the error that terminated the receiver.
// Nil while running and after a requested Stop.
func (r *Receiver) Err() error {
	select {
	case <-r.net.done:
		return r.net.err
	default:
		return nil
	}
}

//#endregion getters

// Start binds the socket and begins listening.
// A bind failure is returned as a *udprec.BindError and moves the receiver directly to Stopped; binds are never retried.
// Returns ErrNotIdle if the receiver has already been started or stopped.
func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() != Idle {
		return ErrNotIdle
	}

	pconn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(r.addr))
	if err != nil {
		r.net.err = &udprec.BindError{Addr: r.addr, Err: err}
		r.state.Store(uint32(Stopped))
		close(r.net.done)
		r.log.Error().Err(err).Msg("failed to bind")
		return r.net.err
	}
	r.net.pconn = pconn
	r.state.Store(uint32(Listening))

	r.log.Info().Str("local address", pconn.LocalAddr().String()).Msg("accepting incoming packets")
	go r.dispatch(pconn)
	return nil
}

// Stop requests that the receive loop exit and waits until it has released the socket.
// The loop observes the request within one poll interval.
// Idempotent and safe to call from any goroutine, except from within the Consumer (which runs on the loop itself and
// would wait on itself); a consumer that wants to stop its receiver should call go r.Stop().
func (r *Receiver) Stop() {
	r.mu.Lock()
	switch r.State() {
	case Idle:
		r.state.Store(uint32(Stopped))
		close(r.net.done)
		r.mu.Unlock()
		return
	case Listening:
		if r.net.stopping.CompareAndSwap(false, true) {
			r.log.Info().Msg("initializing graceful shutdown")
		}
	}
	r.mu.Unlock()
	<-r.net.done
}

// dispatch reads datagrams until a stop is requested or the socket fails.
// Spun up by .Start(); owns pconn and closes it on every exit path.
func (r *Receiver) dispatch(pconn net.PacketConn) {
	var fatal error
	defer func() {
		closeErr := pconn.Close()
		r.mu.Lock()
		r.net.err = fatal
		r.state.Store(uint32(Stopped))
		r.mu.Unlock()
		close(r.net.done)
		if fatal != nil {
			r.log.Error().Err(fatal).Msg("receiver terminated")
		} else {
			r.log.Info().AnErr("conn close error", closeErr).Msg("completed graceful shutdown")
		}
	}()

	// one spare byte so an oversized datagram reads as MaxFrameSize+1 instead of being silently cut to size
	var pktbuf = make([]byte, udprec.MaxFrameSize+1)
	for {
		if r.net.stopping.Load() {
			return
		}
		if err := pconn.SetReadDeadline(time.Now().Add(r.pollInterval)); err != nil {
			fatal = &udprec.TransportError{Op: "read", Err: err}
			return
		}
		n, senderAddr, err := pconn.ReadFrom(pktbuf)
		if r.net.stopping.Load() {
			return
		}
		if err != nil {
			if isTimeout(err) {
				continue
			} else if isTransient(err) {
				r.metrics.readError()
				r.log.Warn().Err(err).Msg("transient read error")
				continue
			}
			fatal = &udprec.TransportError{Op: "read", Err: err}
			return
		}
		r.handle(pktbuf[:n], udprec.AddrPortFromNet(senderAddr))
	}
}

// handle decodes a single datagram and passes the result to the consumer.
func (r *Receiver) handle(frame []byte, from netip.AddrPort) {
	r.metrics.datagram(len(frame))
	rec, err := protocol.Decode(frame)
	d := Delivery{Record: rec, From: from, Err: err}
	if err != nil {
		r.metrics.decodeError(err)
		r.log.Debug().Str("sender address", from.String()).Int("message size (bytes)", len(frame)).Err(err).Msg("corrupted packet")
	} else {
		r.metrics.record()
		r.log.Debug().Str("sender address", from.String()).Int("message size (bytes)", len(frame)).Func(rec.Zerolog).Msg("record received")
	}
	r.consumer(d)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isTransient reports whether a read error leaves the socket usable.
// ICMP errors for earlier writes (refused, reset, unreachable) surface on the next read; oversized or interrupted reads
// affect only the one datagram.
func isTransient(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.EMSGSIZE,
		syscall.ENOBUFS,
		syscall.EINTR,
		syscall.EAGAIN,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// Zerolog pretty prints the state of the receiver into the given zerolog event.
// Intended to be given to *zerolog.Event.Func().
func (r *Receiver) Zerolog(e *zerolog.Event) {
	e.Str("address", r.addr.String()).
		Str("state", r.State().String()).
		Dur("poll interval", r.pollInterval)
}
