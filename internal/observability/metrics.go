package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	// registry holds only kdctl series so a textfile export stays small.
	registry = prometheus.NewRegistry()

	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kdctl",
			Subsystem: "kickstart",
			Name:      "handshakes_total",
			Help:      "Kickstart handshakes by outcome and last phase.",
		},
		[]string{"cdc", "outcome", "phase"},
	)
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kdctl",
			Subsystem: "kickstart",
			Name:      "handshake_duration_seconds",
			Help:      "Kickstart handshake duration in seconds, dial included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"cdc", "outcome"},
	)
	records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kdctl",
			Subsystem: "kickstart",
			Name:      "records_total",
			Help:      "Port records offered to the CDC, encoded or skipped.",
		},
		[]string{"cdc", "result"},
	)
	wireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kdctl",
			Subsystem: "kickstart",
			Name:      "bytes_total",
			Help:      "Bytes exchanged with the CDC.",
		},
		[]string{"cdc", "direction"},
	)
	enumerated = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kdctl",
			Subsystem: "nvmet",
			Name:      "ports",
			Help:      "Store ports seen by the last enumeration.",
		},
		[]string{"result"},
	)
	referralWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kdctl",
			Subsystem: "nvmet",
			Name:      "referral_attributes_total",
			Help:      "Referral attribute writes by port and result.",
		},
		[]string{"port", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		registry.MustRegister(handshakes, handshakeDuration, records, wireBytes, enumerated, referralWrites)
	})
}

// Registry returns the registry every recorder writes to.
func Registry() *prometheus.Registry {
	RegisterMetrics()
	return registry
}

func RecordHandshake(cdc, outcome, phase string, duration time.Duration) {
	RegisterMetrics()
	handshakes.WithLabelValues(cdc, outcome, phase).Inc()
	handshakeDuration.WithLabelValues(cdc, outcome).Observe(duration.Seconds())
}

func RecordRecords(cdc string, encoded, skipped int) {
	RegisterMetrics()
	records.WithLabelValues(cdc, "encoded").Add(float64(encoded))
	records.WithLabelValues(cdc, "skipped").Add(float64(skipped))
}

func RecordBytes(cdc string, sent, received int) {
	RegisterMetrics()
	wireBytes.WithLabelValues(cdc, "sent").Add(float64(sent))
	wireBytes.WithLabelValues(cdc, "received").Add(float64(received))
}

func RecordEnumeration(usable, skipped int) {
	RegisterMetrics()
	enumerated.WithLabelValues("usable").Set(float64(usable))
	enumerated.WithLabelValues("skipped").Set(float64(skipped))
}

func RecordReferral(port string, written, failed int, existed bool) {
	RegisterMetrics()
	referralWrites.WithLabelValues(port, "written").Add(float64(written))
	referralWrites.WithLabelValues(port, "failed").Add(float64(failed))
	if existed {
		referralWrites.WithLabelValues(port, "existed").Inc()
	}
}

// WriteTextfile exports every kdctl series in the text exposition format,
// for a node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry()); err != nil {
		return fmt.Errorf("observability: write %s: %w", path, err)
	}
	return nil
}
