package sender

import (
	"net/netip"

	"github.com/rs/zerolog"
)

// File options.go provides options that can be passed to the sender constructor to configure it.

// Option function to set various options on the sender.
// Uses defaults if an option is not set.
type Option func(*Sender)

// WithLogger replaces the sender's default logger with the given logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Sender) {
		s.log = l
	}
}

// WithLocalAddr binds the sender's socket to the given address instead of an ephemeral port on all interfaces.
func WithLocalAddr(ap netip.AddrPort) Option {
	return func(s *Sender) { s.localAddr = ap }
}
