package p2pchat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records frame traffic and connection state.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	Connected      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2pchat",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the peer, by frame type.",
		}, []string{"type"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2pchat",
			Name:      "frames_sent_total",
			Help:      "Frames written to the peer, by frame type.",
		}, []string{"type"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2pchat",
			Name:      "decode_errors_total",
			Help:      "Read failures, by whether the frame was skipped or the connection dropped.",
		}, []string{"class"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2pchat",
			Name:      "connected",
			Help:      "1 while a peer connection is live.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.FramesReceived, m.FramesSent, m.DecodeErrors, m.Connected)
	}
	return m
}

func (m *Metrics) frameReceived(t FrameType) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) frameSent(t FrameType) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) decodeError(skipped bool) {
	if m == nil {
		return
	}
	class := "fatal"
	if skipped {
		class = "skipped"
	}
	m.DecodeErrors.WithLabelValues(class).Inc()
}

func (m *Metrics) setConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}
