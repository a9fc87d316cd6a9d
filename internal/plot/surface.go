// Package plot is the rendering target of a plotting session.
package plot

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"sleepywoodpecker/rp-goes-plot/internal/processing"
)

type TraceHandle int

// Style selects how a trace is drawn. Both false hides the trace's marks
// but keeps it in the legend.
type Style struct {
	Line    bool
	Scatter bool
}

var DefaultStyle = Style{Line: true}

// Surface is a passive rendering target: it stores what the session hands
// it and draws on request.
type Surface interface {
	CreateTrace(channel int, name string, c color.Color, style Style) TraceHandle
	UpdateTrace(h TraceHandle, x, y []float64)
	SetTracePosition(h TraceHandle, offset float64)
	SetTraceVisible(h TraceHandle, visible bool)
	SetTraceStyle(h TraceHandle, style Style)
	DestroyTrace(h TraceHandle)
	SetAxisRange(axis processing.Axis, lower, upper float64)
	SetAutoscale(axis processing.Axis, enabled bool)
	SetLabels(title, xLabel, yLabel string)
}

var namedColors = map[string]color.RGBA{
	"b": {R: 0x00, G: 0x00, B: 0xff, A: 0xff},
	"g": {R: 0x00, G: 0x80, B: 0x00, A: 0xff},
	"r": {R: 0xff, G: 0x00, B: 0x00, A: 0xff},
	"c": {R: 0x00, G: 0xbf, B: 0xbf, A: 0xff},
	"m": {R: 0xbf, G: 0x00, B: 0xbf, A: 0xff},
	"y": {R: 0xbf, G: 0xbf, B: 0x00, A: 0xff},
	"k": {R: 0x00, G: 0x00, B: 0x00, A: 0xff},
	"w": {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
}

// ParseColor accepts a single-letter colour code (b g r c m y k w) or a
// "#rrggbb" hex string.
func ParseColor(s string) (color.Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	if len(s) == 7 && s[0] == '#' {
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err == nil {
			return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
		}
	}
	return nil, fmt.Errorf("unknown colour %q", s)
}
