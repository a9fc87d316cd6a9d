package telemetry

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sleepywoodpecker/rp-goes-plot/internal/sample"
	"sleepywoodpecker/rp-goes-plot/internal/stream"
)

func TestFormatLine(t *testing.T) {
	line := FormatLine("plotvals", sample.Sample{Readings: []float64{1.5, -2}, X: 0.25}, time.Unix(0, 42))
	assert.Equal(t, "plotvals ch0=1.5000,ch1=-2.0000,x=0.2500 42", line)
}

func TestSamplerSendsNewestSampleOverUDP(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()

	conn, err := net.DialUDP("udp", nil, listener.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	bridge := stream.NewBridge()
	bridge.Activate()
	ch, err := bridge.Channel()
	require.NoError(t, err)

	s := NewSampler(time.Millisecond, conn, "", zap.NewNop())
	sub := ch.Subscribe(s.Observe)
	defer sub.Dispose()

	require.NoError(t, bridge.Emit(sample.Sample{Readings: []float64{1}, X: 0}))
	require.NoError(t, bridge.Emit(sample.Sample{Readings: []float64{2}, X: 1}))
	s.SampleAndLog()

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2 * time.Second)))
	buf := make([]byte, 512)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)

	got := string(buf[:n])
	assert.True(t, strings.HasPrefix(got, DEFAULT_MEASUREMENT + " ch0=2.0000,x=1.0000 "), got)
}

type countingWriter struct {
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return len(p), nil
}

func TestSamplerSkipsWhenNothingNew(t *testing.T) {
	w := &countingWriter{}
	s := NewSampler(time.Millisecond, w, "", zap.NewNop())

	s.SampleAndLog()
	assert.Equal(t, 0, w.writes)

	s.Observe(sample.Sample{Readings: []float64{1}})
	s.SampleAndLog()
	s.SampleAndLog()
	assert.Equal(t, 1, w.writes)
}
