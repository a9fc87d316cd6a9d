package session

import (
	"errors"
	"image/color"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sleepywoodpecker/rp-goes-plot/internal/export"
	"sleepywoodpecker/rp-goes-plot/internal/plot"
	"sleepywoodpecker/rp-goes-plot/internal/processing"
	"sleepywoodpecker/rp-goes-plot/internal/sample"
	"sleepywoodpecker/rp-goes-plot/internal/stream"
)

type fakeCollector struct {
	starts    int
	stops     int
	channels  []sample.Channel
	mode      sample.XAxisMode
	startErr  error
	epoch     uint64
	onFailure func(epoch uint64, err error)
}

func (f *fakeCollector) Start(channels []sample.Channel, mode sample.XAxisMode) (uint64, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.starts++
	f.channels = channels
	f.mode = mode
	return f.epoch, nil
}

func (f *fakeCollector) Stop() {
	f.stops++
}

func (f *fakeCollector) OnFailure(fn func(epoch uint64, err error)) {
	f.onFailure = fn
}

type fakeTrace struct {
	channel int
	color   color.Color
	style   plot.Style
	x       []float64
	y       []float64
	offset  float64
	visible bool
}

type fakeSurface struct {
	next   plot.TraceHandle
	traces map[plot.TraceHandle]*fakeTrace
	ranges map[processing.Axis][2]float64
	auto   map[processing.Axis]bool
	title  string
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		traces: make(map[plot.TraceHandle]*fakeTrace),
		ranges: make(map[processing.Axis][2]float64),
		auto:   make(map[processing.Axis]bool),
	}
}

func (f *fakeSurface) CreateTrace(channel int, name string, c color.Color, style plot.Style) plot.TraceHandle {
	f.next++
	f.traces[f.next] = &fakeTrace{channel: channel, color: c, style: style, visible: true}
	return f.next
}

func (f *fakeSurface) UpdateTrace(h plot.TraceHandle, x, y []float64) {
	f.traces[h].x, f.traces[h].y = x, y
}

func (f *fakeSurface) SetTracePosition(h plot.TraceHandle, offset float64) {
	f.traces[h].offset = offset
}

func (f *fakeSurface) SetTraceVisible(h plot.TraceHandle, visible bool) {
	f.traces[h].visible = visible
}

func (f *fakeSurface) SetTraceStyle(h plot.TraceHandle, style plot.Style) {
	f.traces[h].style = style
}

func (f *fakeSurface) DestroyTrace(h plot.TraceHandle) {
	delete(f.traces, h)
}

func (f *fakeSurface) SetAxisRange(axis processing.Axis, lower, upper float64) {
	f.ranges[axis] = [2]float64{lower, upper}
}

func (f *fakeSurface) SetAutoscale(axis processing.Axis, enabled bool) {
	f.auto[axis] = enabled
}

func (f *fakeSurface) SetLabels(title, xLabel, yLabel string) {
	f.title = title
}

func (f *fakeSurface) byChannel(channel int) *fakeTrace {
	for _, tr := range f.traces {
		if tr.channel == channel {
			return tr
		}
	}
	return nil
}

type harness struct {
	ctrl      *Controller
	bridge    *stream.Bridge
	collector *fakeCollector
	surface   *fakeSurface
}

var testChannels = []sample.Channel{
	{Index: 0, Name: "Channel 1", Color: "m"},
	{Index: 1, Name: "Channel 2", Color: "b"},
	{Index: 2, Name: "Channel 3", Color: "g"},
	{Index: 3, Name: "Channel 4", Color: "r"},
}

func newHarness(t *testing.T, sel sample.Selection, mode sample.XAxisMode) *harness {
	t.Helper()
	h := &harness{
		bridge:    stream.NewBridge(),
		collector: &fakeCollector{},
		surface:   newFakeSurface(),
	}
	ctrl, err := NewController(Options{
		Channels:  testChannels,
		Selection: sel,
		XAxis:     mode,
		Window:    processing.NewWindow(5).ForMode(mode),
		Style:     plot.DefaultStyle,
		XLabel:    "time",
		YLabel:    "volts",
	}, h.bridge, h.collector, h.surface, zap.NewNop(), nil)
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func (h *harness) emit(t *testing.T, readings []float64, x float64) {
	t.Helper()
	require.NoError(t, h.bridge.Emit(sample.Sample{Readings: readings, X: x}))
}

func TestStartFoldsTimeModeSeries(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(1, 3), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	assert.Equal(t, Plotting, h.ctrl.State())
	assert.NotEmpty(t, h.ctrl.SessionID())

	h.emit(t, []float64{1.0, 2.0}, 10.0)
	h.emit(t, []float64{1.1, 2.1}, 10.25)
	h.emit(t, []float64{1.2, 2.2}, 10.5)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, []int{1, 3}, snap.Channels)
	assert.Equal(t, [][]float64{{1.0, 1.1, 1.2}, {2.0, 2.1, 2.2}}, snap.Series)
	assert.Equal(t, []float64{0, 0.25, 0.5}, snap.X)

	assert.Equal(t, 2, h.ctrl.TraceCount())
	tr := h.surface.byChannel(3)
	require.NotNil(t, tr)
	assert.Equal(t, []float64{2.0, 2.1, 2.2}, tr.y)
	col, _ := plot.ParseColor("r")
	assert.Equal(t, col, tr.color)

	assert.Equal(t, 1, h.collector.starts)
	assert.Len(t, h.collector.channels, 2)
}

func TestStartWithoutChannels(t *testing.T) {
	h := newHarness(t, sample.Selection{}, sample.XAxisTime)
	assert.ErrorIs(t, h.ctrl.Start(), ErrNoChannelSelected)
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Equal(t, 0, h.collector.starts)
}

func TestStopWithoutSubscriptionThenClear(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1}, 0)
	require.NoError(t, h.ctrl.Stop())

	assert.ErrorIs(t, h.ctrl.Stop(), ErrNotPlotting)
	assert.Equal(t, 1, h.ctrl.Snapshot().Len())

	require.NoError(t, h.ctrl.Clear())
	assert.Empty(t, h.ctrl.Snapshot().X)
	assert.Equal(t, 0, h.ctrl.TraceCount())
	assert.Empty(t, h.surface.traces)
	assert.ErrorIs(t, h.ctrl.Clear(), ErrNothingToClear)
}

func TestReconfigureToOnlyAxisChannel(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0, 1), sample.XAxisChannel1)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{5}, 1)
	h.emit(t, []float64{6}, 2)

	err := h.ctrl.ReconfigureChannels(sample.SelectionOf(0))
	assert.ErrorIs(t, err, ErrNoChannelSelected)
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Equal(t, 1, h.collector.starts, "start must not be invoked again")
	assert.Empty(t, h.ctrl.Snapshot().X, "data is cleared before the selection is checked")
	assert.Equal(t, 0, h.ctrl.TraceCount())
}

func TestShapeMismatchRejected(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0, 1), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1, 2}, 0)
	before := h.ctrl.Snapshot()

	h.emit(t, []float64{1, 2, 3}, 1)

	var mismatch *processing.ShapeMismatchError
	assert.ErrorAs(t, h.ctrl.LastError(), &mismatch)
	assert.Equal(t, before, h.ctrl.Snapshot())
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	assert.ErrorIs(t, h.ctrl.Start(), ErrAlreadyPlotting)
	assert.Equal(t, Plotting, h.ctrl.State())
}

func TestClearWhilePlotting(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1}, 0)

	assert.ErrorIs(t, h.ctrl.Clear(), ErrStillSubscribed)
	assert.Equal(t, 1, h.ctrl.Snapshot().Len())
}

func TestNoFoldAfterStop(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1}, 0)
	require.NoError(t, h.ctrl.Stop())

	h.emit(t, []float64{2}, 1)
	assert.Equal(t, 1, h.ctrl.Snapshot().Len())
	assert.Equal(t, 1, h.collector.stops)

	prev, ok := h.ctrl.PreviousChannels()
	require.True(t, ok)
	assert.Equal(t, sample.SelectionOf(0), prev)
}

func TestStartAfterStopClearsImplicitly(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1}, 0)
	h.emit(t, []float64{2}, 1)
	require.NoError(t, h.ctrl.Stop())

	require.NoError(t, h.ctrl.Start())
	assert.Empty(t, h.ctrl.Snapshot().X)
	assert.Empty(t, h.surface.traces)

	h.emit(t, []float64{3}, 50)
	assert.Equal(t, []float64{0}, h.ctrl.Snapshot().X)
	_, ok := h.ctrl.PreviousChannels()
	assert.False(t, ok)
}

func TestTrailingWindowOffset(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1}, 100)
	h.emit(t, []float64{1}, 103)
	tr := h.surface.byChannel(0)
	assert.Equal(t, 0.0, tr.offset)

	h.emit(t, []float64{1}, 107)
	assert.Equal(t, -2.0, tr.offset)

	require.NoError(t, h.ctrl.SetWindowRange(10))
	assert.Equal(t, 0.0, tr.offset, "range change re-applies immediately")
	assert.Equal(t, [2]float64{0, 10}, h.surface.ranges[processing.AxisX])
	assert.Equal(t, 3, h.ctrl.Snapshot().Len())

	h.ctrl.SetAutoscale(processing.AxisX, true)
	h.emit(t, []float64{1}, 130)
	assert.Equal(t, 0.0, tr.offset)
}

func TestYBoundsDisableAutoscale(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.SetYBounds(-1, 1))
	assert.False(t, h.ctrl.Window().AutoscaleY)
	assert.False(t, h.surface.auto[processing.AxisY])
	assert.Equal(t, [2]float64{-1, 1}, h.surface.ranges[processing.AxisY])

	assert.ErrorIs(t, h.ctrl.SetYBounds(2, 1), ErrInvalidRange)
	assert.ErrorIs(t, h.ctrl.SetWindowRange(0), ErrInvalidRange)

	h.ctrl.SetAutoscale(processing.AxisY, true)
	assert.True(t, h.surface.auto[processing.AxisY])
	assert.NotNil(t, h.ctrl.Window().YBounds)
}

func TestReconfigureWhilePlottingRestarts(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1}, 0)

	require.NoError(t, h.ctrl.ReconfigureChannels(sample.SelectionOf(0, 2)))
	assert.Equal(t, Plotting, h.ctrl.State())
	assert.Equal(t, 2, h.collector.starts)
	assert.Empty(t, h.ctrl.Snapshot().X)

	h.emit(t, []float64{1, 2}, 0)
	assert.Equal(t, 2, h.ctrl.TraceCount())
}

func TestReconfigureWhileStoppedTogglesVisibility(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0, 1), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1, 2}, 0)
	require.NoError(t, h.ctrl.Stop())

	require.NoError(t, h.ctrl.ReconfigureChannels(sample.SelectionOf(1)))
	assert.False(t, h.surface.byChannel(0).visible)
	assert.True(t, h.surface.byChannel(1).visible)
	assert.Equal(t, 1, h.ctrl.Snapshot().Len(), "visual-only path keeps data")
	assert.Equal(t, 1, h.collector.starts)

	require.NoError(t, h.ctrl.ReconfigureChannels(sample.SelectionOf(0, 1)))
	assert.True(t, h.surface.byChannel(0).visible)
}

func TestChangeXAxisDeselectsAxisChannel(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0, 1), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1, 2}, 0)

	require.NoError(t, h.ctrl.ChangeXAxisMode(sample.XAxisChannel2))
	assert.Equal(t, sample.SelectionOf(0), h.ctrl.Selection())
	assert.Equal(t, Plotting, h.ctrl.State())
	assert.Equal(t, sample.XAxisChannel2, h.collector.mode)
	assert.Len(t, h.collector.channels, 2, "plotted channel plus axis channel")
	assert.True(t, h.ctrl.Window().AutoscaleX)

	h.emit(t, []float64{4}, 9.5)
	assert.Equal(t, []float64{9.5}, h.ctrl.Snapshot().X)
	assert.Equal(t, 1, h.ctrl.TraceCount())
}

func TestChangeXAxisRejectedWhenNothingLeft(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(2), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())

	assert.ErrorIs(t, h.ctrl.ChangeXAxisMode(sample.XAxisChannel3), ErrInvalidAxisSelection)
	assert.Equal(t, sample.XAxisTime, h.ctrl.XAxisMode())
	assert.Equal(t, Plotting, h.ctrl.State())
	assert.ErrorIs(t, h.ctrl.ChangeXAxisMode(sample.XAxisMode(12)), ErrInvalidAxisSelection)
}

func TestAcquisitionFailureStopsSession(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1}, 0)

	failure := errors.New("device unplugged")
	h.collector.onFailure(0, failure)

	assert.Equal(t, Idle, h.ctrl.State())
	assert.ErrorIs(t, h.ctrl.LastError(), failure)
	assert.Equal(t, 1, h.ctrl.Snapshot().Len())
	assert.ErrorIs(t, h.ctrl.Stop(), ErrNotPlotting)
}

func TestFailureAfterStopLeavesNoError(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	require.NoError(t, h.ctrl.Stop())

	h.collector.onFailure(0, errors.New("port closed"))

	assert.NoError(t, h.ctrl.LastError())
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Equal(t, 1, h.collector.stops)
}

func TestSamplesFromOtherEpochsDropped(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	h.collector.epoch = 4
	require.NoError(t, h.ctrl.Start())

	require.NoError(t, h.bridge.Emit(sample.Sample{Readings: []float64{1, 2}, X: 0, Epoch: 3}))
	assert.Equal(t, 0, h.ctrl.Snapshot().Len())
	assert.NoError(t, h.ctrl.LastError())

	require.NoError(t, h.bridge.Emit(sample.Sample{Readings: []float64{1}, X: 0, Epoch: 4}))
	assert.Equal(t, 1, h.ctrl.Snapshot().Len())

	h.collector.onFailure(3, errors.New("late failure"))
	assert.Equal(t, Plotting, h.ctrl.State())
	assert.NoError(t, h.ctrl.LastError())
}

func TestCollectorStartFailureLeavesIdle(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	h.collector.startErr = errors.New("no such port")

	assert.Error(t, h.ctrl.Start())
	assert.Equal(t, Idle, h.ctrl.State())

	ch, err := h.bridge.Channel()
	require.NoError(t, err)
	assert.Equal(t, 0, ch.SubscriberCount())
}

func TestSetPlotStyleRestylesTraces(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1}, 0)

	h.ctrl.SetPlotStyle(plot.Style{Scatter: true})
	assert.Equal(t, plot.Style{Scatter: true}, h.surface.byChannel(0).style)
}

func TestSetLabels(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0), sample.XAxisTime)
	assert.Equal(t, "volts vs time", h.surface.title)

	h.ctrl.SetLabels("seconds", "pressure")
	assert.Equal(t, "pressure vs seconds", h.surface.title)
}

func TestExport(t *testing.T) {
	h := newHarness(t, sample.SelectionOf(0, 2), sample.XAxisTime)
	img := export.PNGFunc(func(w io.Writer) error {
		_, err := w.Write([]byte("png"))
		return err
	})

	_, _, err := h.ctrl.Export(t.TempDir(), "run", img)
	assert.ErrorIs(t, err, export.ErrNoData)

	require.NoError(t, h.ctrl.Start())
	h.emit(t, []float64{1, 2}, 0)
	_, _, err = h.ctrl.Export(t.TempDir(), "run", img)
	assert.ErrorIs(t, err, export.ErrPlotting)

	require.NoError(t, h.ctrl.Stop())
	csvPath, pngPath, err := h.ctrl.Export(t.TempDir(), "run", img)
	require.NoError(t, err)
	assert.NotEmpty(t, pngPath)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "time,Channel 1,Channel 3\n0,1,2\n", string(data))
}

func TestNewControllerRejectsBadColour(t *testing.T) {
	_, err := NewController(Options{
		Channels: []sample.Channel{{Index: 0, Name: "Channel 1", Color: "purple"}},
	}, stream.NewBridge(), &fakeCollector{}, newFakeSurface(), zap.NewNop(), nil)
	assert.Error(t, err)
}
