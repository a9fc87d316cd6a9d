package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/rp-goes-plot/internal/metrics"
	"sleepywoodpecker/rp-goes-plot/internal/sample"
	"sleepywoodpecker/rp-goes-plot/internal/stream"
)

const DEFAULT_SAMPLE_PERIOD = 250 * time.Millisecond

var errEpochEnded = errors.New("epoch ended")

// Pump keeps sampling while a session is plotting. Every tick is read and
// emitted inline, so a slow subscriber slows the sample rate instead of
// queueing samples.
//
// Start and Stop each open a new epoch. A tick remembers the epoch it read
// under and its sample carries it, so a read that straddles a Stop or a
// reconfigure is never delivered to the session that followed it.
type Pump struct {
	source 		Source
	bridge		*stream.Bridge
	period		time.Duration
	logger		*zap.Logger
	metrics		*metrics.Metrics

	mu				sync.Mutex
	running		bool
	epoch			uint64
	channels	[]sample.Channel
	mode			sample.XAxisMode
	onFailure	func(epoch uint64, err error)
}

func NewPump(src Source, bridge *stream.Bridge, period time.Duration, logger *zap.Logger, m *metrics.Metrics) *Pump {
	if period <= 0 {
		period = DEFAULT_SAMPLE_PERIOD
	}
	return &Pump{
		source:  src,
		bridge:  bridge,
		period:  period,
		logger:  logger,
		metrics: m,
	}
}

// OnFailure registers the handler called when a tick fails even after the
// retry. The pump has already stopped when it runs; epoch is the one the
// failed tick was read under.
func (p *Pump) OnFailure(fn func(epoch uint64, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onFailure = fn
}

// Start configures the source and begins collection. The returned epoch
// tags every sample emitted until the next Start or Stop.
func (p *Pump) Start(channels []sample.Channel, mode sample.XAxisMode) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.source.Configure(channels, mode); err != nil {
		return 0, err
	}
	p.epoch++
	p.channels = append([]sample.Channel(nil), channels...)
	p.mode = mode
	p.running = true
	p.logger.Info("[pump] collection started",
		zap.Int("channels", len(channels)),
		zap.Stringer("xAxis", mode),
		zap.Uint64("epoch", p.epoch),
	)
	return p.epoch, nil
}

func (p *Pump) Stop() {
	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.epoch++
	p.mu.Unlock()

	p.source.Stop()
	if wasRunning {
		p.logger.Info("[pump] collection stopped")
	}
}

func (p *Pump) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.running
}

// Epoch reports the current configuration epoch.
func (p *Pump) Epoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.epoch
}

// currentLocked reports whether a tick read under epoch may still act.
func (p *Pump) currentLocked(epoch uint64) bool {
	return p.running && p.epoch == epoch
}

func (p *Pump) current(epoch uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.currentLocked(epoch)
}

// Tick reads one sample and emits it. A failed read is retried exactly once
// after reconfiguring the source; a second failure stops the pump. A tick
// whose epoch ended while it was reading is dropped silently.
func (p *Pump) Tick() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	epoch, channels, mode := p.epoch, p.channels, p.mode
	p.mu.Unlock()

	s, err := p.source.ReadOneTick()
	if err != nil {
		if !p.current(epoch) {
			p.logger.Debug("[pump] dropped failed read from an ended epoch", zap.Error(err), zap.Uint64("epoch", epoch))
			return nil
		}
		p.logger.Warn("[pump] read failed, reconfiguring and retrying once", zap.Error(err))
		p.metrics.AcquisitionRetried()

		if err = p.reconfigure(epoch, channels, mode); err == nil {
			s, err = p.source.ReadOneTick()
		}
		if errors.Is(err, errEpochEnded) {
			return nil
		}
	}
	if err != nil {
		return p.fail(epoch, err)
	}

	if !p.current(epoch) {
		return nil
	}
	s.Epoch = epoch
	if err := p.bridge.Emit(s); err != nil {
		return err
	}
	p.metrics.SampleEmitted()
	return nil
}

// reconfigure re-applies the configuration of epoch under the lock, so a
// Stop either lands before it and wins or closes what it reopened.
func (p *Pump) reconfigure(epoch uint64, channels []sample.Channel, mode sample.XAxisMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.currentLocked(epoch) {
		return errEpochEnded
	}
	return p.source.Configure(channels, mode)
}

func (p *Pump) fail(epoch uint64, err error) error {
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		err = &AcquisitionError{Source: "pump", Err: err}
	}

	p.mu.Lock()
	if !p.currentLocked(epoch) {
		p.mu.Unlock()
		p.logger.Debug("[pump] dropped failure from an ended epoch", zap.Error(err), zap.Uint64("epoch", epoch))
		return nil
	}
	p.running = false
	p.epoch++
	onFailure := p.onFailure
	p.mu.Unlock()

	p.source.Stop()
	p.metrics.AcquisitionFailed()
	p.logger.Error("[pump] acquisition failed after retry", zap.Error(err))

	if onFailure != nil {
		onFailure(epoch, err)
	}
	return err
}

// Run ticks at the configured period until ctx is cancelled. Waiting on the
// ticker is the only point where other work gets to run between samples.
func (p *Pump) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("[pump] received shutdown signal")
			return nil
		case <-ticker.C:
			if err := p.Tick(); err != nil {
				p.logger.Debug("[pump] tick error", zap.Error(err))
			}
		}
	}
}
