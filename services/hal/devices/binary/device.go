// Package binary drives on/off actuators (relays, pumps, contactors) on a
// single output pin.
package binary

import (
	"time"

	"go.uber.org/zap"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/types"
)

func init() {
	b := builder{}
	core.RegisterActuator(types.ActuatorBinary, b)
	core.RegisterActuator(types.ActuatorRelay, b)
	core.RegisterActuator(types.ActuatorPump, b)
}

type builder struct{}

func (builder) Claims(cfg types.ActuatorConfig) ([]core.PinClaim, error) {
	return []core.PinClaim{{Pin: cfg.Pin, Mode: pins.ModeOutput}}, nil
}

func (builder) Build(in core.ActuatorInput) (core.ActuatorDriver, error) {
	if len(in.Pins) != 1 {
		return nil, errcode.New(errcode.InvalidField, "binary", "needs exactly one pin")
	}
	return &Device{
		pin:       in.Pins[0],
		activeLow: in.Config.InvertedLogic,
		initial:   in.Config.DefaultState,
		log:       in.Log,
	}, nil
}

// Device is a single-pin on/off output. With activeLow the physical level
// is the inverse of the logical state.
type Device struct {
	pin       platform.Pin
	activeLow bool
	initial   bool
	on        bool
	stopped   bool
	log       *zap.Logger
}

func (d *Device) Init() error {
	if err := d.pin.ConfigureOutput(d.phys(d.initial)); err != nil {
		return errcode.Wrap(errcode.DriverInitFailed, "binary init", err)
	}
	d.on = d.initial
	return nil
}

func (d *Device) phys(on bool) bool { return on != d.activeLow }

func (d *Device) SetBinary(on bool) error {
	if d.stopped && on {
		return errcode.EmergencyActive
	}
	if err := d.pin.Set(d.phys(on)); err != nil {
		return errcode.Wrap(errcode.BusError, "binary set", err)
	}
	d.on = on
	return nil
}

func (d *Device) SetPWM(uint8) error {
	return errcode.New(errcode.Unsupported, "binary", "pwm not supported")
}

func (d *Device) SetValue(v float64) error { return d.SetBinary(v >= 0.5) }

func (d *Device) State() types.ActuatorState {
	st := types.ActuatorState{On: d.on, Emergency: d.stopped}
	if d.on {
		st.PWM, st.Value = 255, 1
	}
	return st
}

func (d *Device) EmergencyStop(reason string) {
	d.stopped = true
	if err := d.pin.Set(d.phys(false)); err != nil {
		d.log.Error("emergency stop output failed", zap.Int("pin", d.pin.Number()), zap.Error(err))
	}
	d.on = false
}

func (d *Device) ClearEmergency() { d.stopped = false }

func (d *Device) Tick(time.Time) error { return nil }

func (d *Device) Shutdown() {
	if d.on {
		_ = d.pin.Set(d.phys(false))
		d.on = false
	}
}
