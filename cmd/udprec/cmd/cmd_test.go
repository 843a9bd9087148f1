package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/rflandau/udprec/internal/testsupport"
	"github.com/rflandau/udprec/udprec"
	"github.com/rflandau/udprec/udprec/config"
	"github.com/rflandau/udprec/udprec/protocol"
	"github.com/rflandau/udprec/udprec/receiver"
	"github.com/rflandau/udprec/udprec/sender"
	"github.com/rflandau/udprec/udprec/status"
	"github.com/rflandau/udprec/udprec/store"
	"github.com/rs/zerolog"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a running listener.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// run executes the command tree with args, returning its combined output.
func run(ctx context.Context, args ...string) (string, error) {
	out := &syncBuffer{}
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func spawnReceiver(t *testing.T) (*receiver.Receiver, chan receiver.Delivery) {
	t.Helper()
	ch := make(chan receiver.Delivery, 16)
	nop := zerolog.Nop()
	r, err := receiver.Listen(netip.MustParseAddrPort("127.0.0.1:0"), receiver.ChannelConsumer(ch),
		receiver.WithLogger(&nop), receiver.WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Stop)
	return r, ch
}

func collect(t *testing.T, ch <-chan receiver.Delivery, n int) []protocol.Record {
	t.Helper()
	var out []protocol.Record
	for range n {
		select {
		case d := <-ch:
			if d.Err != nil {
				t.Fatal("unexpected malformed delivery:", d.Err)
			}
			out = append(out, d.Record)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for records", ExpectedActual(n, len(out)))
		}
	}
	return out
}

func TestSend_SingleRecord(t *testing.T) {
	r, ch := spawnReceiver(t)
	if out, err := run(t.Context(), "send", "--dest", r.Addr().String(), "--id", "5", "--text", "hi", "--log-level", "warn"); err != nil {
		t.Fatal(err, out)
	}
	got := collect(t, ch, 1)
	if got[0] != (protocol.Record{ID: 5, Text: "hi"}) {
		t.Fatal("bad record", ExpectedActual(protocol.Record{ID: 5, Text: "hi"}, got[0]))
	}
}

func TestSend_Database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.sqlite")
	s, err := store.Open(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	long := strings.Repeat("é", udprec.MaxTextSize) // twice MaxTextSize, in bytes
	if err := s.Save(t.Context(),
		protocol.Record{ID: 1, Text: "first"},
		protocol.Record{ID: 2, Text: long},
		protocol.Record{ID: 3, Text: "third"},
	); err != nil {
		t.Fatal(err)
	}
	s.Close()

	t.Run("oversized record fails", func(t *testing.T) {
		r, ch := spawnReceiver(t)
		out, err := run(t.Context(), "send", "--db", path, "--dest", r.Addr().String())
		if err == nil || !strings.Contains(err.Error(), "1 of 3") {
			t.Fatal("expected one failed record", ExpectedActual("1 of 3 records failed to send", fmt.Sprint(err)))
		}
		if !strings.Contains(out, "record text too long to send") {
			t.Error("oversized record was not reported:\n", out)
		}
		got := collect(t, ch, 2)
		if got[0].ID != 1 || got[1].ID != 3 {
			t.Fatal("bad records", ExpectedActual([]uint32{1, 3}, []uint32{got[0].ID, got[1].ID}))
		}
	})

	t.Run("fit", func(t *testing.T) {
		r, ch := spawnReceiver(t)
		if out, err := run(t.Context(), "send", "--db", path, "--dest", r.Addr().String(), "--fit"); err != nil {
			t.Fatal(err, out)
		}
		got := collect(t, ch, 3)
		if got[1].ID != 2 || got[1].Text != long[:udprec.MaxTextSize] {
			t.Fatal("oversized record was not fit to a frame", ExpectedActual(udprec.MaxTextSize, len(got[1].Text)))
		}
	})
}

func TestSend_BadArguments(t *testing.T) {
	if _, err := run(t.Context(), "send", "--id", "1"); err == nil {
		t.Error("expected an error with no destination")
	}
	if _, err := run(t.Context(), "send", "--dest", "127.0.0.1:9", "--db", filepath.Join(t.TempDir(), "none.sqlite")); err == nil {
		t.Error("expected an error loading from a database without a records table")
	}
	if _, err := run(t.Context(), "send", "--dest", "127.0.0.1:9", "--id", "1", "--log-format", "xml"); err == nil {
		t.Error("expected an error for a bad log format")
	}
}

func TestListen(t *testing.T) {
	bind, statusAddr := RandomLocalhostAddrPort(), RandomLocalhostAddrPort()
	db := filepath.Join(t.TempDir(), "journal.sqlite")
	cfgPath := filepath.Join(t.TempDir(), "udprec.yaml")
	cfg := config.DefaultConfig()
	cfg.PollInterval = 20 * time.Millisecond
	if err := config.SaveConfig(cfg, cfgPath); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() {
		root := NewRootCmd()
		root.SetArgs([]string{"listen", "--config", cfgPath,
			"--bind", bind.String(), "--status", statusAddr.String(), "--journal", "--db", db})
		root.SetOut(out)
		root.SetErr(out)
		errCh <- root.ExecuteContext(ctx)
	}()

	// wait for the status surface to come up
	cli := status.NewClient(statusAddr.String())
	defer cli.Close()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := cli.Status(t.Context()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener never came up:\n", out.String())
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := sender.SendTo(t.Context(), bind, protocol.Record{ID: 7, Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	SendRaw(t, bind, []byte{1})

	deadline = time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "Got corrupted packet") {
		if time.Now().After(deadline) {
			t.Fatal("listener did not log the corrupted packet:\n", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(out.String(), "Got record [7 : hi]") {
		t.Error("listener did not log the record:\n", out.String())
	}

	statusOut, err := run(t.Context(), "status", "--addr", statusAddr.String())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"state: LISTENING", "records: 1, corrupted: 1", "[7 : hi]", "corrupted packet"} {
		if !strings.Contains(statusOut, want) {
			t.Errorf("status output missing %q:\n%s", want, statusOut)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatal("listener exited with an error:", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop on cancellation")
	}

	s, err := store.Open(db, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	rows, err := s.Received(t.Context(), 0)
	if err != nil {
		t.Fatal(err)
	} else if len(rows) != 1 || rows[0].RecordID != 7 || rows[0].Data != "hi" {
		t.Fatalf("bad journal: %+v", rows)
	}
}

func TestStatus_NoAddr(t *testing.T) {
	if _, err := run(t.Context(), "status"); err == nil {
		t.Fatal("expected an error with no status address")
	}
}
