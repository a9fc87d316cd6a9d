// Package telemetry forwards the live sample stream to an influx line
// protocol listener (telegraf) over UDP.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/rp-goes-plot/internal/sample"
)

const DEFAULT_MEASUREMENT = "plotvals"
const DEFAULT_SAMPLING_PERIOD = 100 * time.Millisecond

type sampler struct {
	samplingFrequency 	time.Duration
	conn 								io.Writer
	measurement					string
	logger 							*zap.Logger

	mu									sync.Mutex
	latest							sample.Sample
	pending							bool
}

func NewSampler(samplingFrequency time.Duration, conn io.Writer, measurement string, logger *zap.Logger) *sampler {
	if measurement == "" {
		measurement = DEFAULT_MEASUREMENT
	}
	return &sampler{
		samplingFrequency: samplingFrequency,
		conn: conn,
		measurement: measurement,
		logger: logger,
	}
}

// Observe records the newest sample. Meant to be subscribed to the bridge.
func (s *sampler) Observe(smp sample.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = sample.Sample{
		Readings: append([]float64(nil), smp.Readings...),
		X:        smp.X,
	}
	s.pending = true
}

// FormatLine renders a sample as one influx line: ch<i> fields for the
// readings followed by the x value.
func FormatLine(measurement string, smp sample.Sample, ts time.Time) string {
	fields := make([]string, 0, len(smp.Readings) + 1)
	for idx, reading := range smp.Readings {
		fields = append(fields, fmt.Sprintf("ch%d=%.4f", idx, reading))
	}
	fields = append(fields, fmt.Sprintf("x=%.4f", smp.X))

	return fmt.Sprintf("%s %s %d", measurement, strings.Join(fields, ","), ts.UnixNano())
}

// SampleAndLog sends the newest sample if one arrived since the last call.
func (s *sampler) SampleAndLog() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	smp := s.latest
	s.pending = false
	s.mu.Unlock()

	influxString := FormatLine(s.measurement, smp, time.Now())

	err := s.sendToConn(influxString)
	if err != nil {
		s.logger.Warn("[sampler] Error writing data to UDP connection", zap.Error(err))
	} else {
		s.logger.Debug("[sampler] collected sample", zap.String("influxString", influxString))
	}
}

func (s *sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.samplingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[sampler] exiting sampler loop")
			return
		case <-ticker.C:
			s.SampleAndLog()
		}
	}
}

func (s *sampler) sendToConn(formattedData string) error {
	totalWritten := 0
	for totalWritten < len(formattedData) {
		n, err := s.conn.Write([]byte(formattedData[totalWritten:]))
		if err != nil {
			return err
		}
		totalWritten += n
	}

	return nil
}
