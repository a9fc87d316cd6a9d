// Package session drives one plotting window: it owns the accumulated
// series and the traces drawn from them, and moves between Idle and
// Plotting in response to start, stop, clear and channel changes.
package session

import (
	"errors"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sleepywoodpecker/rp-goes-plot/internal/export"
	"sleepywoodpecker/rp-goes-plot/internal/metrics"
	"sleepywoodpecker/rp-goes-plot/internal/plot"
	"sleepywoodpecker/rp-goes-plot/internal/processing"
	"sleepywoodpecker/rp-goes-plot/internal/sample"
	"sleepywoodpecker/rp-goes-plot/internal/stream"
)

type State int

const (
	Idle State = iota
	Plotting
)

func (s State) String() string {
	if s == Plotting {
		return "plotting"
	}
	return "idle"
}

var (
	ErrNoChannelSelected    = errors.New("please select at least one channel")
	ErrAlreadyPlotting      = errors.New("already plotting")
	ErrNotPlotting          = errors.New("no data is being plotted")
	ErrStillSubscribed      = errors.New("stop plotting before you clear")
	ErrNothingToClear       = errors.New("no data has been plotted")
	ErrInvalidAxisSelection = errors.New("x-axis channel would leave no channels to plot")
	ErrInvalidRange         = errors.New("invalid axis range")
)

// Collector starts and stops sample production for a session. Start
// returns the epoch its samples will carry; a failure is reported with the
// epoch it happened under.
type Collector interface {
	Start(channels []sample.Channel, mode sample.XAxisMode) (uint64, error)
	Stop()
	OnFailure(fn func(epoch uint64, err error))
}

type Options struct {
	Channels  []sample.Channel
	Selection sample.Selection
	XAxis     sample.XAxisMode
	Window    processing.Window
	Style     plot.Style
	XLabel    string
	YLabel    string
}

type traceRef struct {
	channel int
	handle  plot.TraceHandle
}

type Controller struct {
	mu         sync.Mutex
	channels   [sample.NumChannels]sample.Channel
	colors     [sample.NumChannels]color.Color
	bridge     *stream.Bridge
	collector  Collector
	surface    plot.Surface
	store      *processing.DataSampleStore
	window     processing.Window
	style      plot.Style
	selection  sample.Selection
	previous   *sample.Selection
	mode       sample.XAxisMode
	state      State
	sub        *stream.Subscription
	generation uint64
	epoch      uint64
	traces     []traceRef
	sessionID  string
	lastErr    error
	xLabel     string
	yLabel     string
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewController(opts Options, bridge *stream.Bridge, collector Collector, surface plot.Surface, logger *zap.Logger, m *metrics.Metrics) (*Controller, error) {
	c := &Controller{
		bridge:    bridge,
		collector: collector,
		surface:   surface,
		store:     processing.NewDataSampleStore(nil),
		window:    opts.Window,
		style:     opts.Style,
		mode:      opts.XAxis,
		xLabel:    opts.XLabel,
		yLabel:    opts.YLabel,
		logger:    logger,
		metrics:   m,
	}
	if !c.mode.Valid() {
		return nil, fmt.Errorf("[session] invalid x-axis mode %d", int(c.mode))
	}
	if c.window.Range <= 0 {
		c.window = processing.NewWindow(c.window.Range).ForMode(c.mode)
	}

	for i := range c.channels {
		c.channels[i] = sample.Channel{Index: i, Name: fmt.Sprintf("Channel %d", i+1)}
		c.colors[i] = color.Black
	}
	for _, ch := range opts.Channels {
		if ch.Index < 0 || ch.Index >= sample.NumChannels {
			return nil, fmt.Errorf("[session] channel index %d out of range", ch.Index)
		}
		c.channels[ch.Index] = ch
		if ch.Color == "" {
			continue
		}
		col, err := plot.ParseColor(ch.Color)
		if err != nil {
			return nil, fmt.Errorf("[session] channel %s: %w", ch.Name, err)
		}
		c.colors[ch.Index] = col
	}
	c.selection = opts.Selection.Plotted(c.mode)

	collector.OnFailure(c.handleAcquisitionFailure)
	c.window.Apply(surface, c.mode)
	c.applyLabels()
	return c, nil
}

// Start begins a new plotting session, clearing any stopped session first.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.startLocked()
}

func (c *Controller) startLocked() error {
	plotted := c.selection.Plotted(c.mode)
	if plotted.Empty() {
		return ErrNoChannelSelected
	}
	if c.state == Plotting {
		return ErrAlreadyPlotting
	}
	if c.hasData() {
		if err := c.clearLocked(); err != nil {
			return err
		}
	}
	if err := c.store.SetChannels(plotted.Indices()); err != nil {
		return err
	}

	c.bridge.Activate()
	ch, err := c.bridge.Channel()
	if err != nil {
		return err
	}

	c.generation++
	gen := c.generation
	c.sub = ch.Subscribe(func(s sample.Sample) {
		c.handleSample(gen, s)
	})
	c.store.SetSubscribed(true)
	c.sessionID = uuid.NewString()
	c.lastErr = nil

	epoch, err := c.collector.Start(c.collectorChannels(plotted), c.mode)
	if err != nil {
		c.detachLocked()
		c.logger.Warn("[session] source refused configuration", zap.Error(err), zap.String("session", c.sessionID))
		return err
	}

	c.epoch = epoch
	c.state = Plotting
	c.metrics.SetPlotting(true)
	c.logger.Info("[session] plotting started",
		zap.String("session", c.sessionID),
		zap.Ints("channels", plotted.Indices()),
		zap.Stringer("xAxis", c.mode),
	)
	return nil
}

func (c *Controller) collectorChannels(plotted sample.Selection) []sample.Channel {
	channels := make([]sample.Channel, 0, sample.NumChannels)
	for _, idx := range plotted.Indices() {
		channels = append(channels, c.channels[idx])
	}
	if axis := c.mode.Channel(); axis >= 0 {
		channels = append(channels, c.channels[axis])
	}
	return channels
}

func (c *Controller) handleSample(gen uint64, s sample.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub == nil || gen != c.generation || s.Epoch != c.epoch {
		return
	}

	begin := time.Now()
	starting, err := c.store.Fold(s, c.mode)
	if err != nil {
		c.lastErr = err
		c.metrics.FoldRejected()
		c.logger.Error("[session] rejected sample", zap.Error(err), zap.String("session", c.sessionID))
		return
	}

	if starting {
		for _, idx := range c.store.Channels() {
			ch := c.channels[idx]
			h := c.surface.CreateTrace(idx, ch.Name, c.colors[idx], c.style)
			c.traces = append(c.traces, traceRef{channel: idx, handle: h})
		}
	}
	c.renderLocked()
	c.metrics.SampleFolded(c.store.Len(), time.Since(begin))
}

// renderLocked hands the current series to every trace and re-applies the
// trailing window.
func (c *Controller) renderLocked() {
	latest, ok := c.store.Latest()
	if !ok {
		return
	}
	offset := processing.Offset(c.window, c.mode, latest)
	for i, tr := range c.traces {
		c.surface.UpdateTrace(tr.handle, c.store.X(), c.store.Series(i))
		c.surface.SetTracePosition(tr.handle, offset)
	}
}

// Stop severs the subscription and stops the source. Series and traces
// are kept.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub == nil {
		return ErrNotPlotting
	}
	c.stopLocked()
	return nil
}

func (c *Controller) stopLocked() {
	c.detachLocked()

	previous := c.selection
	c.previous = &previous
	c.state = Idle
	c.metrics.SetPlotting(false)
	c.logger.Info("[session] plotting stopped", zap.String("session", c.sessionID), zap.Int("samples", c.store.Len()))
}

// detachLocked disposes the subscription and stops the source. Bumping the
// generation guarantees a callback already in flight folds nothing.
func (c *Controller) detachLocked() {
	if c.sub != nil {
		c.sub.Dispose()
		c.sub = nil
	}
	c.generation++
	c.store.SetSubscribed(false)
	c.collector.Stop()
}

func (c *Controller) handleAcquisitionFailure(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub == nil || epoch != c.epoch {
		c.logger.Debug("[session] ignored failure from an ended session", zap.Error(err), zap.Uint64("epoch", epoch))
		return
	}
	c.lastErr = err
	c.logger.Error("[session] acquisition failed, stopping session", zap.Error(err), zap.String("session", c.sessionID))
	c.stopLocked()
}

// Clear discards the stopped session's series and traces.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.clearLocked()
}

func (c *Controller) clearLocked() error {
	if c.sub != nil {
		return ErrStillSubscribed
	}
	if !c.hasData() {
		return ErrNothingToClear
	}

	for _, tr := range c.traces {
		c.surface.DestroyTrace(tr.handle)
	}
	c.traces = nil
	if err := c.store.Reset(); err != nil {
		return err
	}
	c.previous = nil
	c.metrics.SeriesCleared()
	c.logger.Info("[session] cleared", zap.String("session", c.sessionID))
	return nil
}

func (c *Controller) hasData() bool {
	return c.store.Len() > 0 || len(c.traces) > 0
}

// ReconfigureChannels changes the channel selection. While plotting this
// restarts the session; on a stopped session it only toggles which traces
// are shown.
func (c *Controller) ReconfigureChannels(sel sample.Selection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reconfigureLocked(sel)
}

func (c *Controller) reconfigureLocked(sel sample.Selection) error {
	c.selection = sel.Plotted(c.mode)

	switch {
	case c.state == Plotting:
		c.stopLocked()
		if err := c.clearLocked(); err != nil && !errors.Is(err, ErrNothingToClear) {
			return err
		}
		if c.selection.Empty() {
			c.logger.Info("[session] no channels selected, plotting has been stopped")
			return ErrNoChannelSelected
		}
		return c.startLocked()

	case c.hasData():
		for _, tr := range c.traces {
			c.surface.SetTraceVisible(tr.handle, c.selection.Has(tr.channel))
		}
	}
	return nil
}

// ChangeXAxisMode switches what the x axis shows. A channel chosen as the
// x axis is dropped from the plotted channels; if that would leave nothing
// to plot the change is rejected.
func (c *Controller) ChangeXAxisMode(mode sample.XAxisMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !mode.Valid() {
		return ErrInvalidAxisSelection
	}

	sel := c.selection
	if axis := mode.Channel(); sel.Has(axis) {
		sel = sel.Without(axis)
		if sel.Empty() {
			return ErrInvalidAxisSelection
		}
	}

	c.mode = mode
	c.window = c.window.ForMode(mode)
	c.window.Apply(c.surface, c.mode)
	c.applyLabels()
	c.logger.Info("[session] x-axis changed", zap.Stringer("xAxis", mode))
	return c.reconfigureLocked(sel)
}

// SetWindowRange changes the trailing window and re-applies it at once.
func (c *Controller) SetWindowRange(r float64) error {
	if r <= 0 {
		return ErrInvalidRange
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.window.Range = r
	c.applyWindowLocked()
	return nil
}

func (c *Controller) SetYBounds(lower, upper float64) error {
	if lower >= upper {
		return ErrInvalidRange
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.window = c.window.WithYBounds(lower, upper)
	c.applyWindowLocked()
	return nil
}

// SetXBounds fixes the x range; only meaningful when x is a channel.
func (c *Controller) SetXBounds(lower, upper float64) error {
	if lower >= upper {
		return ErrInvalidRange
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.window = c.window.WithXBounds(lower, upper)
	c.applyWindowLocked()
	return nil
}

func (c *Controller) SetAutoscale(axis processing.Axis, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window = c.window.WithAutoscale(axis, enabled)
	c.applyWindowLocked()
}

func (c *Controller) applyWindowLocked() {
	c.window.Apply(c.surface, c.mode)
	c.renderLocked()
}

// SetPlotStyle switches live traces between line and scatter drawing.
func (c *Controller) SetPlotStyle(style plot.Style) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.style = style
	for _, tr := range c.traces {
		c.surface.SetTraceStyle(tr.handle, style)
	}
}

func (c *Controller) SetLabels(xLabel, yLabel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.xLabel, c.yLabel = xLabel, yLabel
	c.applyLabels()
}

func (c *Controller) applyLabels() {
	c.surface.SetLabels(fmt.Sprintf("%s vs %s", c.yLabel, c.xLabel), c.xLabel, c.yLabel)
}

// Export writes the stopped session to <dir>/<name>.csv and .png.
func (c *Controller) Export(dir, name string, img export.PNGWriter) (csvPath, pngPath string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Plotting {
		return "", "", export.ErrPlotting
	}
	if c.store.Len() == 0 {
		return "", "", export.ErrNoData
	}

	snap := c.store.Snapshot()
	names := make([]string, len(snap.Channels))
	for i, idx := range snap.Channels {
		names[i] = c.channels[idx].Name
	}

	csvPath, pngPath, err = export.Files(dir, name, snap, c.xAxisName(), names, img)
	if err != nil {
		return "", "", err
	}
	c.logger.Info("[session] exported", zap.String("csv", csvPath), zap.String("png", pngPath), zap.String("session", c.sessionID))
	return csvPath, pngPath, nil
}

func (c *Controller) xAxisName() string {
	if axis := c.mode.Channel(); axis >= 0 {
		return c.channels[axis].Name
	}
	return "time"
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Controller) Selection() sample.Selection {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.selection
}

// PreviousChannels is the selection captured by the last Stop, until Clear.
func (c *Controller) PreviousChannels() (sample.Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.previous == nil {
		return sample.Selection{}, false
	}
	return *c.previous, true
}

func (c *Controller) XAxisMode() sample.XAxisMode {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mode
}

func (c *Controller) Window() processing.Window {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.window
}

func (c *Controller) Snapshot() processing.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.Snapshot()
}

func (c *Controller) TraceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.traces)
}

// LastError is the most recent rejected sample or acquisition failure of
// the current session.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessionID
}
