package p2pchat

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatheredValue returns the value of the named metric with the given label
// pair, or of the unlabeled metric when label is empty.
func gatheredValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label != "" {
				matched := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == label && lp.GetValue() == value {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.frameReceived(FrameText)
		m.frameSent(FrameText)
		m.decodeError(true)
		m.setConnected(true)
	})
}

func TestNewMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.frameReceived(FrameText)
	m.frameReceived(FrameText)
	m.frameSent(FrameImage)
	m.decodeError(true)
	m.decodeError(false)
	m.setConnected(true)

	assert.Equal(t, 2.0, gatheredValue(t, reg, "p2pchat_frames_received_total", "type", "TEXT"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "p2pchat_frames_sent_total", "type", "IMAGE"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "p2pchat_decode_errors_total", "class", "skipped"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "p2pchat_decode_errors_total", "class", "fatal"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "p2pchat_connected", "", ""))

	m.setConnected(false)
	assert.Equal(t, 0.0, gatheredValue(t, reg, "p2pchat_connected", "", ""))
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	assert.Panics(t, func() { NewMetrics(reg) })
	assert.NotPanics(t, func() { NewMetrics(nil) })
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, rec := newTestManager(t, MetricsOption(NewMetrics(reg)))
	peer := attachPeer(t, m, rec, RoleAcceptor)

	assert.Equal(t, 1.0, gatheredValue(t, reg, "p2pchat_connected", "", ""))

	peer.Write(javaUTF("TYPING"))
	writeFrames(t, peer, &TextFrame{Payload: "counted"})
	msg := rec.expectMessage(t)

	// The receipt is written by the writer goroutine; reading it back
	// means it was counted.
	expectReceipt(t, peer, msg.ID)
	require.NoError(t, m.SendSeenReceipt(context.Background(), msg.ID))
	readFrame(t, peer)

	assert.Equal(t, 1.0, gatheredValue(t, reg, "p2pchat_frames_received_total", "type", "TEXT"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "p2pchat_decode_errors_total", "class", "skipped"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "p2pchat_frames_sent_total", "type", "DELIVERY_RECEIPT"))

	peer.Close()
	rec.expectStatus(t, false)
	assert.Equal(t, 0.0, gatheredValue(t, reg, "p2pchat_connected", "", ""))
}
