// Package ipa defines the boundary between the capture pipeline and the
// image tuning algorithms (auto exposure, auto gain and friends). The
// pipeline reports per-frame sensor status through a Controller and accepts
// numeric control adjustments back; the algorithms themselves live outside
// this repository.
package ipa

import "time"

// Control identifies a numeric sensor control.
type Control int

const (
	// ControlExposure is the shutter time in microseconds.
	ControlExposure Control = iota
	// ControlAnalogueGain is the sensor analogue gain multiplier.
	ControlAnalogueGain
)

func (c Control) String() string {
	switch c {
	case ControlExposure:
		return "exposure"
	case ControlAnalogueGain:
		return "analogue-gain"
	default:
		return "unknown"
	}
}

// DeviceStatus is the per-frame sensor state the pipeline reports for each
// completed capture.
type DeviceStatus struct {
	Sequence     uint32
	Timestamp    time.Time
	ExposureTime time.Duration
	AnalogueGain float64
}

// Controller is the calling contract of a tuning algorithm container. A
// channel identifies one camera's control loop; the pipeline assigns channel
// numbers when cameras are registered.
//
// Implementations run outside the pipeline core. ReportFrame may be called
// from the pipeline's completion path, so implementations must not call back
// into the pipeline synchronously.
type Controller interface {
	// ReportFrame delivers the sensor status of one completed frame.
	ReportFrame(channel uint, status DeviceStatus)

	// SetControl requests a control change on the given channel.
	SetControl(channel uint, ctrl Control, value float64) error

	// GetControl reads back the last requested value for a control.
	GetControl(channel uint, ctrl Control) (float64, error)

	// SetAutoEnabled enables or disables the automatic control loop for a
	// channel. While disabled, only explicit SetControl values apply.
	SetAutoEnabled(channel uint, enabled bool) error
}

// Noop is a Controller that accepts everything and does nothing. It is the
// default wired into a pipeline when no tuning algorithms are attached.
type Noop struct{}

func (Noop) ReportFrame(uint, DeviceStatus) {}

func (Noop) SetControl(uint, Control, float64) error { return nil }

func (Noop) GetControl(uint, Control) (float64, error) { return 0, nil }

func (Noop) SetAutoEnabled(uint, bool) error { return nil }

var _ Controller = Noop{}
