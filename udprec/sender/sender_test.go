package sender_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/rflandau/udprec/internal/testsupport"
	"github.com/rflandau/udprec/udprec"
	"github.com/rflandau/udprec/udprec/protocol"
	"github.com/rflandau/udprec/udprec/sender"
	"github.com/rs/zerolog"
)

// listen spins up a raw UDP socket on loopback for the sender to hit.
func listen(t *testing.T) (*net.UDPConn, netip.AddrPort) {
	t.Helper()
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(netip.MustParseAddrPort("127.0.0.1:0")))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func newSender(t *testing.T, opts ...sender.Option) *sender.Sender {
	t.Helper()
	l := zerolog.Nop()
	s, err := sender.New(append([]sender.Option{sender.WithLogger(&l)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Tests that each Send results in exactly one datagram carrying the encoded frame.
func TestSender_Send(t *testing.T) {
	rx, rxAddr := listen(t)
	s := newSender(t)

	records := []protocol.Record{
		{},
		{ID: 42, Text: "hello"},
		{ID: 1732454, Text: "HTML tags lea͠ki̧n͘g fr̶ǫm ̡yo​͟ur eye͢s̸"},
		{ID: 9, Text: strings.Repeat("z", udprec.MaxTextSize)},
		{ID: 10, Text: RandomText(200)},
	}
	for _, rec := range records {
		if err := s.Send(t.Context(), rxAddr, rec); err != nil {
			t.Fatal(err)
		}
		want, err := protocol.Encode(rec)
		if err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, udprec.MaxFrameSize+1)
		rx.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := rx.ReadFromUDP(buf)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(want, buf[:n]) {
			t.Fatal("bad datagram", ExpectedActual(want, buf[:n]))
		}
		if from.AddrPort().Port() != s.LocalAddr().Port() {
			t.Error("datagram did not originate from the sender's socket", ExpectedActual(s.LocalAddr().Port(), from.AddrPort().Port()))
		}
	}
}

// An oversized record must fail with the excess count and must not touch the network.
func TestSender_SendTooLarge(t *testing.T) {
	rx, rxAddr := listen(t)
	s := newSender(t)

	err := s.Send(t.Context(), rxAddr, protocol.Record{ID: 1, Text: strings.Repeat("a", udprec.MaxTextSize+10)})
	var ptl *protocol.PayloadTooLargeError
	if !errors.As(err, &ptl) {
		t.Fatal("bad error", ExpectedActual[error](&protocol.PayloadTooLargeError{}, err))
	} else if ptl.Excess != 10 {
		t.Fatal("bad excess", ExpectedActual(10, ptl.Excess))
	}

	rx.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if n, _, err := rx.ReadFromUDP(make([]byte, 1024)); err == nil {
		t.Fatalf("a %d byte datagram was sent for a rejected record", n)
	} else if !isTimeout(err) {
		t.Fatal(err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func TestSender_BadArguments(t *testing.T) {
	s := newSender(t)
	if err := s.Send(nil, netip.MustParseAddrPort("127.0.0.1:9"), protocol.Record{}); !errors.Is(err, udprec.ErrNilCtx) {
		t.Error("bad error", ExpectedActual(udprec.ErrNilCtx, err))
	}
	if err := s.Send(t.Context(), netip.AddrPort{}, protocol.Record{}); err == nil {
		t.Error("expected an error for an invalid destination")
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := s.Send(ctx, netip.MustParseAddrPort("127.0.0.1:9"), protocol.Record{}); !errors.Is(err, context.Canceled) {
		t.Error("bad error", ExpectedActual(context.Canceled, err))
	}
}

// Sends on a closed sender surface as TransportErrors; Close is idempotent.
func TestSender_Closed(t *testing.T) {
	_, rxAddr := listen(t)
	s := newSender(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal("second close errored", err)
	}
	err := s.Send(t.Context(), rxAddr, protocol.Record{ID: 1})
	var te *udprec.TransportError
	if !errors.As(err, &te) {
		t.Fatal("bad error", ExpectedActual[error](&udprec.TransportError{}, err))
	} else if !errors.Is(err, sender.ErrClosed) {
		t.Fatal("transport error does not wrap ErrClosed", err)
	} else if te.Addr != rxAddr {
		t.Error("bad destination in error", ExpectedActual(rxAddr, te.Addr))
	}
}

// Binding to an occupied address is a BindError.
func TestSender_BindError(t *testing.T) {
	_, taken := listen(t)
	_, err := sender.New(sender.WithLocalAddr(taken))
	var be *udprec.BindError
	if !errors.As(err, &be) {
		t.Fatal("bad error", ExpectedActual[error](&udprec.BindError{}, err))
	} else if be.Addr != taken {
		t.Error("bad address in error", ExpectedActual(taken, be.Addr))
	}
}

// Many goroutines sharing a single sender each get their own, intact datagram.
func TestSender_Concurrent(t *testing.T) {
	const workers, perWorker = 8, 16
	rx, rxAddr := listen(t)
	rx.SetReadBuffer(1 << 20)
	s := newSender(t)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWorker {
				rec := protocol.Record{ID: uint32(w*perWorker + i), Text: strings.Repeat(string(rune('a'+w)), 100+i)}
				if err := s.Send(context.Background(), rxAddr, rec); err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	seen := make([]uint32, 0, workers*perWorker)
	buf := make([]byte, udprec.MaxFrameSize+1)
	for range workers * perWorker {
		rx.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := rx.ReadFromUDP(buf)
		if err != nil {
			t.Fatal(err)
		}
		rec, err := protocol.Decode(buf[:n])
		if err != nil {
			t.Fatal("torn or corrupted datagram:", err)
		}
		w, i := int(rec.ID)/perWorker, int(rec.ID)%perWorker
		if want := strings.Repeat(string(rune('a'+w)), 100+i); rec.Text != want {
			t.Fatal("datagram body does not match its id", ExpectedActual(want, rec.Text))
		}
		seen = append(seen, rec.ID)
	}
	want := make([]uint32, 0, workers*perWorker)
	for id := range uint32(workers * perWorker) {
		want = append(want, id)
	}
	if !SlicesUnorderedEqual(want, seen) {
		t.Fatal("missing or duplicated datagrams", ExpectedActual(want, seen))
	}
}

func TestSendTo(t *testing.T) {
	rx, rxAddr := listen(t)
	l := zerolog.Nop()
	if err := sender.SendTo(t.Context(), rxAddr, protocol.Record{ID: 5, Text: "one-shot"}, sender.WithLogger(&l)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, udprec.MaxFrameSize+1)
	rx.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := rx.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	if rec, err := protocol.Decode(buf[:n]); err != nil {
		t.Fatal(err)
	} else if rec != (protocol.Record{ID: 5, Text: "one-shot"}) {
		t.Fatal(ExpectedActual(protocol.Record{ID: 5, Text: "one-shot"}, rec))
	}
}
