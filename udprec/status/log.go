package status

import (
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/rflandau/udprec/internal/expiring"
	"github.com/rflandau/udprec/udprec/receiver"
)

const (
	DefaultCapacity = 256
	DefaultPeerTTL  = time.Minute
)

// An Entry is one delivery as the status surface reports it.
type Entry struct {
	Seq   uint64    `json:"seq" example:"17" doc:"arrival sequence number, starting at 1"`
	ID    uint32    `json:"id" example:"42" doc:"record identifier; zero if the datagram was malformed"`
	Text  string    `json:"text" example:"hello" doc:"record text"`
	From  string    `json:"from" example:"127.0.0.1:50123" doc:"originating address"`
	Error string    `json:"error,omitempty" example:"frame shorter than the id field" doc:"set if the datagram was malformed"`
	At    time.Time `json:"at" doc:"arrival time"`
}

// Counters are the running totals of a Log.
type Counters struct {
	Datagrams    uint64 `json:"datagrams" doc:"datagrams delivered"`
	Records      uint64 `json:"records" doc:"datagrams that decoded into records"`
	DecodeErrors uint64 `json:"decode_errors" doc:"malformed datagrams"`
}

// A Peer is a sender heard from within the peer ttl.
type Peer struct {
	Addr      string `json:"addr" example:"127.0.0.1:50123"`
	Datagrams uint64 `json:"datagrams" doc:"datagrams received since the peer became active"`
}

// Log is a bounded ring of the most recent deliveries.
// Once full, each new delivery evicts the oldest.
type Log struct {
	mu      sync.Mutex
	entries []Entry // ring storage
	next    int     // index the next entry is written to
	count   Counters
	peerTTL time.Duration
	peers   *expiring.Table[netip.AddrPort, uint64]
}

// NewLog returns a log holding at most capacity deliveries.
// Non-positive arguments select the defaults.
func NewLog(capacity int, peerTTL time.Duration) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if peerTTL <= 0 {
		peerTTL = DefaultPeerTTL
	}
	return &Log{
		entries: make([]Entry, 0, capacity),
		peerTTL: peerTTL,
		peers:   expiring.New[netip.AddrPort, uint64](nil),
	}
}

// Consumer returns a receiver.Consumer that records every delivery into the log.
func (l *Log) Consumer() receiver.Consumer {
	return l.Add
}

// Add records a single delivery.
func (l *Log) Add(d receiver.Delivery) {
	l.peers.Update(d.From, l.peerTTL, func(n uint64) uint64 { return n + 1 })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.count.Datagrams++
	e := Entry{Seq: l.count.Datagrams, From: d.From.String(), At: time.Now()}
	if d.Err != nil {
		l.count.DecodeErrors++
		e.Error = d.Err.Error()
	} else {
		l.count.Records++
		e.ID, e.Text = d.Record.ID, d.Record.Text
	}

	if len(l.entries) < cap(l.entries) {
		l.entries = append(l.entries, e)
	} else {
		l.entries[l.next] = e
	}
	l.next = (l.next + 1) % cap(l.entries)
}

// Recent returns up to limit of the most recent entries, newest last.
// A limit <= 0 returns everything held.
func (l *Log) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	// the oldest held entry sits at next once the ring has wrapped, at 0 before then
	start := 0
	if n == cap(l.entries) {
		start = l.next
	}
	for i := n - limit; i < n; i++ {
		out = append(out, l.entries[(start+i)%n])
	}
	return out
}

// Counters returns the running totals.
func (l *Log) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Peers returns the senders heard from within the peer ttl, ordered by address.
func (l *Log) Peers() []Peer {
	snap := l.peers.Snapshot()
	addrs := make([]netip.AddrPort, 0, len(snap))
	for ap := range snap {
		addrs = append(addrs, ap)
	}
	slices.SortFunc(addrs, func(a, b netip.AddrPort) int { return a.Compare(b) })
	out := make([]Peer, len(addrs))
	for i, ap := range addrs {
		out[i] = Peer{Addr: ap.String(), Datagrams: snap[ap]}
	}
	return out
}
