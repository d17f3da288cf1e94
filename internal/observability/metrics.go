package observability

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	registerOnce sync.Once

	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homelink",
			Subsystem: "client",
			Name:      "packets_total",
			Help:      "Packets exchanged with the HomeLink server.",
		},
		[]string{"direction", "type"},
	)
	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homelink",
			Subsystem: "client",
			Name:      "operations_total",
			Help:      "Session operations by outcome.",
		},
		[]string{"operation", "result"},
	)
	transportAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "homelink",
			Subsystem: "transport",
			Name:      "attempts",
			Help:      "I/O attempts used per reliable send or receive.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10},
		},
		[]string{"direction", "result"},
	)
	transportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homelink",
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Bytes moved by the reliable transport.",
		},
		[]string{"direction"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(packets, operations, transportAttempts, transportBytes)
	})
}

func RecordPacket(direction, packetType string) {
	RegisterMetrics()
	packets.WithLabelValues(direction, packetType).Inc()
}

func RecordOperation(operation, result string) {
	RegisterMetrics()
	operations.WithLabelValues(operation, result).Inc()
}

func RecordTransfer(direction string, attempts, n int, ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "failed"
	}
	transportAttempts.WithLabelValues(direction, result).Observe(float64(attempts))
	transportBytes.WithLabelValues(direction).Add(float64(n))
}

// WriteText dumps the homelink_* families from the default registry in the
// Prometheus text format.
func WriteText(w io.Writer) error {
	RegisterMetrics()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "homelink_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
