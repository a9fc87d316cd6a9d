package source

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/rp-goes-plot/internal/sample"
)

var errNotConfigured = errors.New("source not configured")

// Generator is a synthetic source: each channel is a sine wave with its own
// phase plus uniform noise.
type Generator struct {
	Frequency	float64
	Noise			float64

	mu				sync.Mutex
	plotted		[]sample.Channel
	axis			*sample.Channel
	start			time.Time
	clock			func() time.Time
	rng				*rand.Rand
	logger		*zap.Logger
}

func NewGenerator(logger *zap.Logger) *Generator {
	return &Generator{
		Frequency: 0.5,
		Noise:     0.05,
		clock:     time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    logger,
	}
}

// WithClock swaps the time source; used to make ticks deterministic.
func (g *Generator) WithClock(clock func() time.Time) *Generator {
	g.clock = clock
	return g
}

func (g *Generator) WithSeed(seed int64) *Generator {
	g.rng = rand.New(rand.NewSource(seed))
	return g
}

func (g *Generator) Configure(channels []sample.Channel, mode sample.XAxisMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, ch := range channels {
		if ch.Index < 0 || ch.Index >= sample.NumChannels {
			return &DeviceConfigError{Channel: ch.Name, Err: errors.New("no such generator channel")}
		}
	}

	g.plotted, g.axis = Plan(channels, mode)
	g.start = g.clock()
	g.logger.Info("[generator] configured", zap.Int("channels", len(g.plotted)), zap.Stringer("xAxis", mode))
	return nil
}

func (g *Generator) ReadOneTick() (sample.Sample, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.plotted == nil && g.axis == nil {
		return sample.Sample{}, &AcquisitionError{Source: "generator", Err: errNotConfigured}
	}

	elapsed := g.clock().Sub(g.start).Seconds()
	s := sample.Sample{
		Readings: make([]float64, len(g.plotted)),
		X:        elapsed,
	}
	for i, ch := range g.plotted {
		s.Readings[i] = g.value(ch.Index, elapsed)
	}
	if g.axis != nil {
		s.X = g.value(g.axis.Index, elapsed)
	}
	return s, nil
}

func (g *Generator) value(channel int, t float64) float64 {
	phase := float64(channel) * math.Pi / 2
	return math.Sin(2 * math.Pi * g.Frequency * t + phase) + g.Noise * (2 * g.rng.Float64() - 1)
}

func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.plotted = nil
	g.axis = nil
}
