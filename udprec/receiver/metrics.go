package receiver

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rflandau/udprec/udprec"
	"github.com/rflandau/udprec/udprec/protocol"
)

// Decode failure reasons, used as the "reason" label.
const (
	reasonTooShort    = "too_short"
	reasonTooLong     = "too_long"
	reasonInvalidUTF8 = "invalid_utf8"
	reasonOther       = "other"
)

// Metrics holds the prometheus collectors a receiver reports into.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	datagramsTotal    prometheus.Counter
	recordsTotal      prometheus.Counter
	decodeErrorsTotal *prometheus.CounterVec
	readErrorsTotal   prometheus.Counter
	datagramBytes     prometheus.Histogram
}

// NewMetrics creates the receiver collectors and registers them with reg.
// Each registry may only hold one set; receivers that should be counted together share a *Metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		datagramsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "udprec_datagrams_total",
			Help: "Total number of datagrams read from the socket",
		}),
		recordsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "udprec_records_total",
			Help: "Total number of datagrams successfully decoded into records",
		}),
		decodeErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "udprec_decode_errors_total",
			Help: "Total number of malformed datagrams, by reason",
		}, []string{"reason"}),
		readErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "udprec_read_errors_total",
			Help: "Total number of transient socket read errors",
		}),
		datagramBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "udprec_datagram_bytes",
			Help:    "Size of received datagrams in bytes",
			Buckets: []float64{4, 16, 64, 128, 256, 384, udprec.MaxFrameSize, udprec.MaxFrameSize + 1},
		}),
	}
	// pre-create the label values so they are exported as zero
	for _, reason := range []string{reasonTooShort, reasonTooLong, reasonInvalidUTF8, reasonOther} {
		m.decodeErrorsTotal.WithLabelValues(reason)
	}
	return m
}

func (m *Metrics) datagram(size int) {
	if m == nil {
		return
	}
	m.datagramsTotal.Inc()
	m.datagramBytes.Observe(float64(size))
}

func (m *Metrics) record() {
	if m == nil {
		return
	}
	m.recordsTotal.Inc()
}

func (m *Metrics) decodeError(err error) {
	if m == nil {
		return
	}
	m.decodeErrorsTotal.WithLabelValues(decodeReason(err)).Inc()
}

func (m *Metrics) readError() {
	if m == nil {
		return
	}
	m.readErrorsTotal.Inc()
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrFrameTooShort):
		return reasonTooShort
	case errors.Is(err, protocol.ErrFrameTooLong):
		return reasonTooLong
	case errors.Is(err, protocol.ErrInvalidUTF8):
		return reasonInvalidUTF8
	}
	return reasonOther
}
