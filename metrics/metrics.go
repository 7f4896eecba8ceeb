// Package metrics exposes Prometheus instrumentation for associations,
// PDUs and DIMSE messages. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caio-sobreiro/dcmstream/types"
)

// Metrics contains all Prometheus metrics for the network layer
type Metrics struct {
	registry *prometheus.Registry

	// Association metrics
	AssociationsTotal  *prometheus.CounterVec
	ActiveAssociations prometheus.Gauge
	AssociationTime    prometheus.Histogram
	Aborts             *prometheus.CounterVec

	// PDU metrics
	PDUs  *prometheus.CounterVec
	Bytes *prometheus.CounterVec

	// DIMSE metrics
	Messages        *prometheus.CounterVec
	MessageDuration *prometheus.HistogramVec
	Timeouts        *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers all metrics on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		AssociationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcmstream_associations_total",
			Help: "Total number of association attempts by role and outcome",
		}, []string{"role", "result"}),
		ActiveAssociations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dcmstream_active_associations",
			Help: "Current number of open connections",
		}),
		AssociationTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dcmstream_association_duration_seconds",
			Help:    "Lifetime of connections",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~43 minutes
		}),
		Aborts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcmstream_aborts_total",
			Help: "Total number of A-ABORTs by direction",
		}, []string{"direction"}),

		PDUs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcmstream_pdus_total",
			Help: "Total number of PDUs by direction and type",
		}, []string{"direction", "type"}),
		Bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcmstream_pdu_bytes_total",
			Help: "Total number of PDU bytes by direction",
		}, []string{"direction"}),

		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcmstream_dimse_messages_total",
			Help: "Total number of DIMSE messages by direction and command",
		}, []string{"direction", "command"}),
		MessageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcmstream_dimse_message_duration_seconds",
			Help:    "Time between the first and the last fragment of a DIMSE message",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10), // 0.5ms to ~2 minutes
		}, []string{"direction", "command"}),
		Timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcmstream_timeouts_total",
			Help: "Total number of timeouts by kind",
		}, []string{"kind"}),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Direction labels
const (
	Inbound  = "in"
	Outbound = "out"
)

// ConnectionOpened records a new transport connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveAssociations.Inc()
}

// ConnectionClosed records the end of a connection opened at started.
func (m *Metrics) ConnectionClosed(started time.Time) {
	if m == nil {
		return
	}
	m.ActiveAssociations.Dec()
	m.AssociationTime.Observe(time.Since(started).Seconds())
}

// RecordAssociation records a negotiation outcome; role is "requestor" or
// "acceptor", result "accepted", "rejected" or "failed".
func (m *Metrics) RecordAssociation(role, result string) {
	if m == nil {
		return
	}
	m.AssociationsTotal.WithLabelValues(role, result).Inc()
}

// RecordPDU records one PDU of n bytes including its header.
func (m *Metrics) RecordPDU(direction string, pduType byte, n int) {
	if m == nil {
		return
	}
	m.PDUs.WithLabelValues(direction, types.PDUTypeName(pduType)).Inc()
	m.Bytes.WithLabelValues(direction).Add(float64(n))
}

// RecordMessage records a complete DIMSE message.
func (m *Metrics) RecordMessage(direction string, commandField uint16, elapsed time.Duration) {
	if m == nil {
		return
	}
	name := types.CommandName(commandField)
	m.Messages.WithLabelValues(direction, name).Inc()
	m.MessageDuration.WithLabelValues(direction, name).Observe(elapsed.Seconds())
}

// RecordAbort records an A-ABORT sent or received.
func (m *Metrics) RecordAbort(direction string) {
	if m == nil {
		return
	}
	m.Aborts.WithLabelValues(direction).Inc()
}

// RecordTimeout records an expired timer; kind is "dimse" or "connect".
func (m *Metrics) RecordTimeout(kind string) {
	if m == nil {
		return
	}
	m.Timeouts.WithLabelValues(kind).Inc()
}
