package receiver

// File consumer.go defines what a receiver hands its consumer and the receiver's lifecycle states.

import (
	"net/netip"

	"github.com/rflandau/udprec/udprec/protocol"
	"github.com/rs/zerolog"
)

// State is a receiver's position in its lifecycle.
// Idle -> Listening on Start; Listening -> Stopped on Stop or a fatal socket error. Stopped is terminal.
type State uint32

const (
	Idle State = iota
	Listening
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Listening:
		return "LISTENING"
	case Stopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// A Delivery is the outcome of a single datagram.
// Exactly one of Record or Err is meaningful: if Err is non-nil the datagram was malformed and Record is the zero value.
type Delivery struct {
	Record protocol.Record
	From   netip.AddrPort // originating address of the datagram
	Err    error          // one of protocol.ErrFrameTooShort, ErrFrameTooLong, ErrInvalidUTF8
}

// Zerolog attaches the delivery's fields to the given log event.
// Intended to be given to *zerolog.Event.Func().
func (d Delivery) Zerolog(ev *zerolog.Event) {
	ev.Str("from", d.From.String())
	if d.Err != nil {
		ev.AnErr("decode error", d.Err)
		return
	}
	d.Record.Zerolog(ev)
}

// A Consumer is invoked once per received datagram, sequentially and in arrival order, on the receiver's loop.
// A slow consumer delays subsequent reads (the socket's buffer absorbs the backlog).
type Consumer func(Delivery)

// ChannelConsumer returns a Consumer that pushes each delivery onto ch.
// If ch is unbuffered or full, the receive loop blocks until there is room.
func ChannelConsumer(ch chan<- Delivery) Consumer {
	return func(d Delivery) { ch <- d }
}

// Tee returns a Consumer that hands each delivery to every given consumer in order.
// Nil consumers are skipped.
func Tee(consumers ...Consumer) Consumer {
	return func(d Delivery) {
		for _, c := range consumers {
			if c != nil {
				c(d)
			}
		}
	}
}

// LogConsumer returns a Consumer that logs records at info level and malformed datagrams at warn level.
func LogConsumer(l *zerolog.Logger) Consumer {
	return func(d Delivery) {
		if d.Err != nil {
			l.Warn().Str("from", d.From.String()).Err(d.Err).Msg("Got corrupted packet")
			return
		}
		l.Info().Str("from", d.From.String()).Msg("Got record " + d.Record.String())
	}
}
