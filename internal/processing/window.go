package processing

import (
	"sleepywoodpecker/rp-goes-plot/internal/sample"
)

const DefaultWindowRange = 5.0

type Axis int

const (
	AxisX Axis = iota
	AxisY
)

func (a Axis) String() string {
	if a == AxisX {
		return "x"
	}
	return "y"
}

type Bounds struct {
	Lower	float64
	Upper	float64
}

// Window is the display state of the plot. Explicit bounds are remembered
// while autoscale is on but only enforced when it is off.
type Window struct {
	Range 			float64
	YBounds			*Bounds
	XBounds			*Bounds
	AutoscaleX	bool
	AutoscaleY	bool
}

func NewWindow(windowRange float64) Window {
	if windowRange <= 0 {
		windowRange = DefaultWindowRange
	}
	return Window{
		Range:      windowRange,
		AutoscaleY: true,
	}
}

// Offset is the horizontal shift applied to every trace so that the last
// Range units of a time series stay in view. All data stays in the series.
func Offset(w Window, mode sample.XAxisMode, latestX float64) float64 {
	if !mode.IsTime() || w.AutoscaleX {
		return 0
	}
	if latestX < w.Range {
		return 0
	}
	return w.Range - latestX
}

// AxisSurface is the part of a plot surface the window drives.
type AxisSurface interface {
	SetAxisRange(axis Axis, lower, upper float64)
	SetAutoscale(axis Axis, enabled bool)
}

// Apply pushes the window onto a surface. In Time mode without X autoscale
// the x axis is pinned to [0, Range] and traces scroll through it.
func (w Window) Apply(s AxisSurface, mode sample.XAxisMode) {
	s.SetAutoscale(AxisX, w.AutoscaleX)
	if !w.AutoscaleX {
		switch {
		case mode.IsTime():
			s.SetAxisRange(AxisX, 0, w.Range)
		case w.XBounds != nil:
			s.SetAxisRange(AxisX, w.XBounds.Lower, w.XBounds.Upper)
		}
	}

	s.SetAutoscale(AxisY, w.AutoscaleY)
	if !w.AutoscaleY && w.YBounds != nil {
		s.SetAxisRange(AxisY, w.YBounds.Lower, w.YBounds.Upper)
	}
}

// WithYBounds sets explicit y bounds, which turns Y autoscale off.
func (w Window) WithYBounds(lower, upper float64) Window {
	w.YBounds = &Bounds{Lower: lower, Upper: upper}
	w.AutoscaleY = false
	return w
}

// WithXBounds sets explicit x bounds for channel mode, turning X autoscale off.
func (w Window) WithXBounds(lower, upper float64) Window {
	w.XBounds = &Bounds{Lower: lower, Upper: upper}
	w.AutoscaleX = false
	return w
}

func (w Window) WithAutoscale(axis Axis, enabled bool) Window {
	if axis == AxisX {
		w.AutoscaleX = enabled
	} else {
		w.AutoscaleY = enabled
	}
	return w
}

// ForMode applies the default autoscale settings of an x-axis mode: a
// channel axis autoscales both directions, time scrolls through a fixed
// window with y autoscaled.
func (w Window) ForMode(mode sample.XAxisMode) Window {
	w.AutoscaleX = !mode.IsTime()
	w.AutoscaleY = true
	return w
}
