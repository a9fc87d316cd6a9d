package processing

import (
	"fmt"

	"sleepywoodpecker/rp-goes-plot/internal/sample"
)

// DataSampleStore accumulates the per-channel series of one plotting
// session. After every successful Fold all series, including the x series,
// have the same length.
//
// The store is owned by the session controller and is not safe for
// concurrent use on its own.
type DataSampleStore struct {
	channels 		[]int
	series			[][]float64
	xSeries			[]float64
	origin			float64
	subscribed	bool
}

type PreconditionError struct {
	Op 			string
	Reason 	string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("[processing] %s rejected: %s", e.Op, e.Reason)
}

type ShapeMismatchError struct {
	Expected 	int
	Got				int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("[processing] sample has %d readings, %d channels selected", e.Got, e.Expected)
}

func NewDataSampleStore(channels []int) *DataSampleStore {
	d := &DataSampleStore{}
	d.channels = append([]int(nil), channels...)
	return d
}

// SetChannels replaces the plotted channel set. Only allowed on an empty,
// unsubscribed store.
func (d *DataSampleStore) SetChannels(channels []int) error {
	if d.subscribed {
		return &PreconditionError{Op: "set channels", Reason: "subscription active"}
	}
	if d.Len() > 0 {
		return &PreconditionError{Op: "set channels", Reason: "store holds data"}
	}

	d.channels = append(d.channels[:0], channels...)
	return nil
}

// SetSubscribed records whether a stream subscription feeds this store.
func (d *DataSampleStore) SetSubscribed(on bool) {
	d.subscribed = on
}

func (d *DataSampleStore) Reset() error {
	if d.subscribed {
		return &PreconditionError{Op: "reset", Reason: "subscription active"}
	}

	d.series = nil
	d.xSeries = nil
	d.origin = 0
	return nil
}

// Fold merges one sample into the series. starting reports whether this was
// the first sample since the last Reset.
func (d *DataSampleStore) Fold(s sample.Sample, mode sample.XAxisMode) (starting bool, err error) {
	if len(s.Readings) != len(d.channels) {
		return false, &ShapeMismatchError{Expected: len(d.channels), Got: len(s.Readings)}
	}

	if len(d.xSeries) == 0 {
		d.series = make([][]float64, len(d.channels))
		for i, reading := range s.Readings {
			d.series[i] = []float64{reading}
		}

		if mode.IsTime() {
			d.origin = s.X
			d.xSeries = []float64{0}
		} else {
			d.xSeries = []float64{s.X}
		}
		return true, nil
	}

	for i, reading := range s.Readings {
		d.series[i] = append(d.series[i], reading)
	}
	if mode.IsTime() {
		d.xSeries = append(d.xSeries, s.X - d.origin)
	} else {
		d.xSeries = append(d.xSeries, s.X)
	}

	return false, nil
}

func (d *DataSampleStore) Len() int {
	return len(d.xSeries)
}

func (d *DataSampleStore) Channels() []int {
	return append([]int(nil), d.channels...)
}

// Series returns the live series for the i-th plotted channel. Callers must
// treat it as read-only.
func (d *DataSampleStore) Series(i int) []float64 {
	if i < 0 || i >= len(d.series) {
		return nil
	}
	return d.series[i]
}

func (d *DataSampleStore) X() []float64 {
	return d.xSeries
}

// Latest is the most recent x value, false when the store is empty.
func (d *DataSampleStore) Latest() (float64, bool) {
	if len(d.xSeries) == 0 {
		return 0, false
	}
	return d.xSeries[len(d.xSeries) - 1], true
}

// Snapshot is a deep copy of the store's contents.
type Snapshot struct {
	Channels 	[]int
	X					[]float64
	Series		[][]float64
}

func (s Snapshot) Len() int {
	return len(s.X)
}

func (d *DataSampleStore) Snapshot() Snapshot {
	snap := Snapshot{
		Channels: d.Channels(),
		X:        append([]float64(nil), d.xSeries...),
		Series:   make([][]float64, len(d.series)),
	}
	for i, s := range d.series {
		snap.Series[i] = append([]float64(nil), s...)
	}
	return snap
}
