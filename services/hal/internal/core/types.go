// Package core defines the driver capability interfaces and the builder
// registry through which device packages plug into the HAL.
package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/types"
)

// ErrNotReady is returned by Collect when the conversion has not finished.
// The caller retries later.
var ErrNotReady = errors.New("not ready")

// PinClaim is one pin a driver needs and how it will use it.
type PinClaim struct {
	Pin  int
	Mode pins.Mode
}

// ---- Actuators ----

// ActuatorDriver is the capability set every output driver implements.
// Drivers never touch the Pin Ledger; they receive acquired handles.
type ActuatorDriver interface {
	// Init applies the configured default output.
	Init() error
	SetBinary(on bool) error
	SetPWM(duty uint8) error
	// SetValue takes a normalised 0..1 value.
	SetValue(v float64) error
	State() types.ActuatorState
	// EmergencyStop forces the safe output and refuses Set* until cleared.
	EmergencyStop(reason string)
	ClearEmergency()
	// Tick advances timed behaviour. An error is a safety violation.
	Tick(now time.Time) error
	// Shutdown drives the safe output. The registry releases pins after.
	Shutdown()
}

// ActuatorInput is handed to a builder once the pins are acquired.
type ActuatorInput struct {
	Config types.ActuatorConfig
	Pins   []platform.Pin // in Claims order
	Log    *zap.Logger
}

type ActuatorBuilder interface {
	// Claims validates cfg for this driver type and lists its pins.
	Claims(cfg types.ActuatorConfig) ([]PinClaim, error)
	Build(in ActuatorInput) (ActuatorDriver, error)
}

// ---- Sensors ----

// Sample is the outcome of one measurement.
type Sample struct {
	Values []types.Measurement
	Raw    int64
	// Fault marks a driver-specific sentinel: the value is known to be bad.
	Fault  bool
	Detail string
}

// SensorDriver performs split-phase measurements so the loop never blocks
// on conversion time.
type SensorDriver interface {
	Init(ctx context.Context) error
	// Trigger starts a conversion and reports when Collect may succeed.
	// ErrNotReady with a delay asks the caller to trigger again later.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	Collect(ctx context.Context) (Sample, error)
	Shutdown()
}

// SensorInput is handed to a builder once the pin is acquired.
type SensorInput struct {
	Config types.SensorConfig
	Pin    platform.Pin
	HW     platform.Backend
	Log    *zap.Logger
}

type SensorBuilder interface {
	Claims(cfg types.SensorConfig) (PinClaim, error)
	Build(in SensorInput) (SensorDriver, error)
}
