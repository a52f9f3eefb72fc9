package monitoring

import (
	"strconv"
	"time"

	"voicerooms/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.Metrics.
type PrometheusCollector struct {
	roomsProvisioned   *prometheus.CounterVec
	provisionRejected  *prometheus.CounterVec
	provisionFailed    prometheus.Counter
	roomsDeleted       *prometheus.CounterVec
	ownershipChanges   *prometheus.CounterVec
	reconciledRooms    *prometheus.CounterVec
	managedRooms       prometheus.Gauge
	provisionDuration  prometheus.Histogram
	reconcileDuration  prometheus.Histogram
	gatewayConnections prometheus.Gauge
	gatewayUpdates     *prometheus.CounterVec
}

// NewPrometheusCollector registers the collectors on reg, or on the default
// registerer when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		roomsProvisioned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerooms_rooms_provisioned_total",
			Help: "Total number of rooms provisioned",
		}, []string{"guild_id"}),

		provisionRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerooms_provision_rejected_total",
			Help: "Provision attempts rejected before any platform change",
		}, []string{"reason"}),

		provisionFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicerooms_provision_failed_total",
			Help: "Provision attempts that failed after starting",
		}),

		roomsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerooms_rooms_deleted_total",
			Help: "Rooms released, by delete outcome",
		}, []string{"outcome"}),

		ownershipChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerooms_ownership_changes_total",
			Help: "Ownership claims and transfers",
		}, []string{"kind"}),

		reconciledRooms: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerooms_reconciled_rooms_total",
			Help: "Rooms handled by startup reconciliation",
		}, []string{"result"}),

		managedRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicerooms_managed_rooms",
			Help: "Rooms currently tracked in memory",
		}),

		provisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicerooms_provision_duration_seconds",
			Help:    "Duration of successful provisioning",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		reconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicerooms_reconcile_duration_seconds",
			Help:    "Duration of reconciliation runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		gatewayConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicerooms_gateway_connections",
			Help: "Open gateway websocket connections",
		}),

		gatewayUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicerooms_gateway_messages_total",
			Help: "Gateway frames received, by type",
		}, []string{"type"}),
	}
}

func (p *PrometheusCollector) RoomProvisioned(guildID domain.GuildID, took time.Duration) {
	p.roomsProvisioned.WithLabelValues(strconv.FormatUint(uint64(guildID), 10)).Inc()
	p.provisionDuration.Observe(took.Seconds())
}

func (p *PrometheusCollector) ProvisionRejected(reason domain.RejectReason) {
	p.provisionRejected.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusCollector) ProvisionFailed() {
	p.provisionFailed.Inc()
}

func (p *PrometheusCollector) RoomDeleted(outcome domain.DeleteOutcome) {
	p.roomsDeleted.WithLabelValues(outcome.String()).Inc()
}

func (p *PrometheusCollector) ManagedRooms(count int) {
	p.managedRooms.Set(float64(count))
}

func (p *PrometheusCollector) OwnershipChanged(kind string) {
	p.ownershipChanges.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) Reconciled(kept, cleaned, gone int, took time.Duration) {
	p.reconciledRooms.WithLabelValues("kept").Add(float64(kept))
	p.reconciledRooms.WithLabelValues("cleaned").Add(float64(cleaned))
	p.reconciledRooms.WithLabelValues("gone").Add(float64(gone))
	p.reconcileDuration.Observe(took.Seconds())
}

func (p *PrometheusCollector) GatewayConnected() {
	p.gatewayConnections.Inc()
}

func (p *PrometheusCollector) GatewayDisconnected() {
	p.gatewayConnections.Dec()
}

func (p *PrometheusCollector) GatewayMessage(kind string) {
	p.gatewayUpdates.WithLabelValues(kind).Inc()
}
