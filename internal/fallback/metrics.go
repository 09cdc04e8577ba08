package fallback

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/ltc/internal/ir"
)

// Transfer directions for ltc_fallback_transfer_bytes_total.
const (
	DirectionExport = "export"
	DirectionImport = "import"
)

// Metrics holds the Prometheus collectors of the fallback gate.
type Metrics struct {
	calls    *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	transfer *prometheus.CounterVec
}

// NewMetrics creates the gate collectors and registers them on reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ltc_eager_fallback_total",
				Help: "Operator calls executed through the eager fallback path",
			},
			[]string{"op", "pinned"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ltc_eager_fallback_errors_total",
				Help: "Eager fallback calls that returned an error, by error code",
			},
			[]string{"op", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ltc_eager_fallback_duration_seconds",
				Help:    "Wall time of eager fallback calls, including handoff",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"op"},
		),
		transfer: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ltc_fallback_transfer_bytes_total",
				Help: "Bytes moved between the backend and host tensors by fallback",
			},
			[]string{"direction"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.calls, m.errors, m.duration, m.transfer)
	}
	return m
}

func (m *Metrics) observeCall(op ir.Symbol, pinned bool, elapsed time.Duration, err error) {
	name := op.String()
	m.calls.WithLabelValues(name, strconv.FormatBool(pinned)).Inc()
	m.duration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		code := string(ir.CodeOf(err))
		if code == "" {
			code = "UNKNOWN"
		}
		m.errors.WithLabelValues(name, code).Inc()
	}
}

func (m *Metrics) observeTransfer(direction string, bytes int) {
	m.transfer.WithLabelValues(direction).Add(float64(bytes))
}
