package plot

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"sync"

	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"sleepywoodpecker/rp-goes-plot/internal/processing"
)

const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 5 * vg.Inch
)

var glyphRadius = vg.Points(2.5)

type trace struct {
	channel int
	name    string
	color   color.Color
	style   Style
	x       []float64
	y       []float64
	offset  float64
	visible bool
}

// Canvas keeps traces in memory and renders them with gonum/plot.
type Canvas struct {
	mu     sync.Mutex
	traces map[TraceHandle]*trace
	order  []TraceHandle
	next   TraceHandle
	ranges [2]*processing.Bounds
	auto   [2]bool
	title  string
	xLabel string
	yLabel string
}

func NewCanvas() *Canvas {
	return &Canvas{
		traces: make(map[TraceHandle]*trace),
		auto:   [2]bool{true, true},
	}
}

func (c *Canvas) CreateTrace(channel int, name string, col color.Color, style Style) TraceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	h := c.next
	c.traces[h] = &trace{
		channel: channel,
		name:    name,
		color:   col,
		style:   style,
		visible: true,
	}
	c.order = append(c.order, h)
	return h
}

// UpdateTrace keeps references to x and y; the caller only ever appends.
func (c *Canvas) UpdateTrace(h TraceHandle, x, y []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.traces[h]; ok {
		t.x, t.y = x, y
	}
}

func (c *Canvas) SetTracePosition(h TraceHandle, offset float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.traces[h]; ok {
		t.offset = offset
	}
}

func (c *Canvas) SetTraceVisible(h TraceHandle, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.traces[h]; ok {
		t.visible = visible
	}
}

func (c *Canvas) SetTraceStyle(h TraceHandle, style Style) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.traces[h]; ok {
		t.style = style
	}
}

func (c *Canvas) DestroyTrace(h TraceHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.traces[h]; !ok {
		return
	}
	delete(c.traces, h)
	for i, other := range c.order {
		if other == h {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Canvas) SetAxisRange(axis processing.Axis, lower, upper float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ranges[axis] = &processing.Bounds{Lower: lower, Upper: upper}
}

func (c *Canvas) SetAutoscale(axis processing.Axis, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.auto[axis] = enabled
}

func (c *Canvas) SetLabels(title, xLabel, yLabel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.title, c.xLabel, c.yLabel = title, xLabel, yLabel
}

// TraceCount is the number of live traces.
func (c *Canvas) TraceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.traces)
}

// Plot builds a gonum plot of the current state.
func (c *Canvas) Plot() (*gplot.Plot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := gplot.New()
	p.Title.Text = c.title
	p.X.Label.Text = c.xLabel
	p.Y.Label.Text = c.yLabel
	p.Add(plotter.NewGrid())

	for _, h := range c.order {
		t := c.traces[h]
		if !t.visible || len(t.x) == 0 {
			continue
		}

		xys := make(plotter.XYs, 0, min(len(t.x), len(t.y)))
		for i := 0; i < cap(xys); i++ {
			x, y := t.x[i]+t.offset, t.y[i]
			if !finite(x) || !finite(y) {
				continue
			}
			xys = append(xys, plotter.XY{X: x, Y: y})
		}
		if len(xys) == 0 {
			continue
		}

		var thumbs []gplot.Thumbnailer
		if t.style.Line {
			line, err := plotter.NewLine(xys)
			if err != nil {
				return nil, fmt.Errorf("[plot] trace %s: %w", t.name, err)
			}
			line.LineStyle.Color = t.color
			line.LineStyle.Width = vg.Points(1)
			p.Add(line)
			thumbs = append(thumbs, line)
		}
		if t.style.Scatter {
			scatter, err := plotter.NewScatter(xys)
			if err != nil {
				return nil, fmt.Errorf("[plot] trace %s: %w", t.name, err)
			}
			scatter.GlyphStyle.Color = t.color
			scatter.GlyphStyle.Radius = glyphRadius
			scatter.GlyphStyle.Shape = draw.CircleGlyph{}
			p.Add(scatter)
			thumbs = append(thumbs, scatter)
		}
		if len(thumbs) > 0 {
			p.Legend.Add(t.name, thumbs...)
		}
	}

	if b := c.ranges[processing.AxisX]; !c.auto[processing.AxisX] && b != nil {
		p.X.Min, p.X.Max = b.Lower, b.Upper
	}
	if b := c.ranges[processing.AxisY]; !c.auto[processing.AxisY] && b != nil {
		p.Y.Min, p.Y.Max = b.Lower, b.Upper
	}
	return p, nil
}

// WritePNG renders the canvas as a PNG image.
func (c *Canvas) WritePNG(w io.Writer, width, height vg.Length) error {
	p, err := c.Plot()
	if err != nil {
		return err
	}

	img := vgimg.PngCanvas{Canvas: vgimg.New(width, height)}
	p.Draw(draw.New(img))
	_, err = img.WriteTo(w)
	return err
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
