package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes the engine's operational counters. It
// implements ports.SessionMetrics for the session store and is shared with
// the relay for connection accounting.
type PrometheusCollector struct {
	roomsActive        prometheus.Gauge
	participantsActive prometheus.Gauge
	relayConnections   prometheus.Gauge

	correctionsTotal    prometheus.Counter
	chatMessagesTotal   prometheus.Counter
	signalsRelayedTotal prometheus.Counter

	driftSeconds prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watchsync_rooms_active",
			Help: "Number of active rooms",
		}),

		participantsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watchsync_participants_active",
			Help: "Number of participants across all rooms",
		}),

		relayConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "watchsync_relay_connections",
			Help: "Number of open relay WebSocket connections",
		}),

		correctionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watchsync_sync_corrections_total",
			Help: "Total number of targeted sync corrections sent",
		}),

		chatMessagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watchsync_chat_messages_total",
			Help: "Total number of chat messages appended",
		}),

		signalsRelayedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "watchsync_signals_relayed_total",
			Help: "Total number of peer signaling payloads relayed",
		}),

		driftSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchsync_playback_drift_seconds",
			Help:    "Reported drift between participant and authoritative position",
			Buckets: []float64{0.05, 0.1, 0.3, 0.5, 1, 1.5, 2, 5, 10},
		}),
	}
}

func (c *PrometheusCollector) RoomCreated() { c.roomsActive.Inc() }
func (c *PrometheusCollector) RoomDeleted() { c.roomsActive.Dec() }
func (c *PrometheusCollector) UserJoined()  { c.participantsActive.Inc() }
func (c *PrometheusCollector) UserLeft()    { c.participantsActive.Dec() }

func (c *PrometheusCollector) DriftObserved(seconds float64) { c.driftSeconds.Observe(seconds) }
func (c *PrometheusCollector) CorrectionSent()               { c.correctionsTotal.Inc() }
func (c *PrometheusCollector) ChatAppended()                 { c.chatMessagesTotal.Inc() }
func (c *PrometheusCollector) SignalRelayed()                { c.signalsRelayedTotal.Inc() }

func (c *PrometheusCollector) ConnectionOpened() { c.relayConnections.Inc() }
func (c *PrometheusCollector) ConnectionClosed() { c.relayConnections.Dec() }
