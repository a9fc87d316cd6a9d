// Package source holds the sample producers and the loop that drives them.
package source

import (
	"fmt"

	"sleepywoodpecker/rp-goes-plot/internal/sample"
)

// Source produces one Sample per acquisition tick for the configured
// channels. Readings cover the plotted channels only; in channel mode the
// axis channel is read into Sample.X.
type Source interface {
	Configure(channels []sample.Channel, mode sample.XAxisMode) error
	ReadOneTick() (sample.Sample, error)
	Stop()
}

type DeviceConfigError struct {
	Channel	string
	Err			error
}

func (e *DeviceConfigError) Error() string {
	return fmt.Sprintf("[source] channel %s unavailable: %v", e.Channel, e.Err)
}

func (e *DeviceConfigError) Unwrap() error {
	return e.Err
}

type AcquisitionError struct {
	Source	string
	Err			error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("[source] %s acquisition failed: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Plan splits a channel list into the plotted channels and the optional
// axis channel for the given mode.
func Plan(channels []sample.Channel, mode sample.XAxisMode) (plotted []sample.Channel, axis *sample.Channel) {
	axisIdx := mode.Channel()
	for i := range channels {
		if channels[i].Index == axisIdx {
			ch := channels[i]
			axis = &ch
			continue
		}
		plotted = append(plotted, channels[i])
	}
	return plotted, axis
}
