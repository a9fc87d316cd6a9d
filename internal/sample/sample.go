package sample

import (
	"fmt"
	"strings"
)

const NumChannels = 4

// Channel is one independent scalar feed. Channels are created once from
// config and never mutated afterwards.
type Channel struct {
	Index int
	Name  string
	Color string
	Port  string
}

// Sample is one acquisition tick: a reading per plotted channel, in
// ascending channel order, plus the x value for the active axis mode.
// Epoch is the collection epoch the sample was read under.
type Sample struct {
	Readings []float64
	X        float64
	Epoch    uint64
}

type XAxisMode int

const (
	XAxisTime XAxisMode = iota
	XAxisChannel1
	XAxisChannel2
	XAxisChannel3
	XAxisChannel4
)

// XAxisForChannel returns the channel mode that uses channel idx for x values.
func XAxisForChannel(idx int) XAxisMode {
	return XAxisMode(idx + 1)
}

func (m XAxisMode) IsTime() bool {
	return m == XAxisTime
}

// Channel returns the channel index backing the axis, or -1 in Time mode.
func (m XAxisMode) Channel() int {
	if m.IsTime() {
		return -1
	}
	return int(m) - 1
}

func (m XAxisMode) Valid() bool {
	return m >= XAxisTime && m <= XAxisChannel4
}

func (m XAxisMode) String() string {
	if m.IsTime() {
		return "time"
	}
	if !m.Valid() {
		return fmt.Sprintf("unknown(%d)", int(m))
	}
	return fmt.Sprintf("channel%d", m.Channel()+1)
}

// ParseXAxisMode accepts "time" or "channel1".."channel4".
func ParseXAxisMode(s string) (XAxisMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "time" {
		return XAxisTime, nil
	}
	for m := XAxisChannel1; m <= XAxisChannel4; m++ {
		if s == m.String() {
			return m, nil
		}
	}
	return XAxisTime, fmt.Errorf("unknown x-axis mode %q", s)
}

// Selection is the set of channels a user has toggled on.
type Selection [NumChannels]bool

func SelectionOf(indices ...int) Selection {
	var sel Selection
	for _, idx := range indices {
		if idx >= 0 && idx < NumChannels {
			sel[idx] = true
		}
	}
	return sel
}

func (s Selection) Indices() []int {
	indices := make([]int, 0, NumChannels)
	for idx, on := range s {
		if on {
			indices = append(indices, idx)
		}
	}
	return indices
}

func (s Selection) Count() int {
	count := 0
	for _, on := range s {
		if on {
			count++
		}
	}
	return count
}

func (s Selection) Empty() bool {
	return s.Count() == 0
}

func (s Selection) Has(idx int) bool {
	return idx >= 0 && idx < NumChannels && s[idx]
}

// Without returns a copy of s with idx cleared.
func (s Selection) Without(idx int) Selection {
	if idx >= 0 && idx < NumChannels {
		s[idx] = false
	}
	return s
}

// Plotted is the selection with the x-axis channel removed; a channel is
// never both the x source and a y trace.
func (s Selection) Plotted(mode XAxisMode) Selection {
	return s.Without(mode.Channel())
}
