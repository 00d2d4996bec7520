// Package valve drives dual-coil valves: one pin energises the open coil,
// the auxiliary pin the close coil. Transitions are timed pulses advanced
// by Tick; the coils are interlocked.
package valve

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/types"
)

func init() { core.RegisterActuator(types.ActuatorValve, builder{}) }

// DefaultPulse is the coil energise time when pulse_ms is unset.
const DefaultPulse = 500 * time.Millisecond

type builder struct{}

func (builder) Claims(cfg types.ActuatorConfig) ([]core.PinClaim, error) {
	if cfg.AuxPin < 0 {
		return nil, errcode.New(errcode.MissingField, "valve", "aux_gpio (close coil) required")
	}
	if cfg.AuxPin == cfg.Pin {
		return nil, errcode.New(errcode.InvalidField, "valve", "aux_gpio must differ from gpio")
	}
	return []core.PinClaim{
		{Pin: cfg.Pin, Mode: pins.ModeOutput},
		{Pin: cfg.AuxPin, Mode: pins.ModeOutput},
	}, nil
}

func (builder) Build(in core.ActuatorInput) (core.ActuatorDriver, error) {
	if len(in.Pins) != 2 {
		return nil, errcode.New(errcode.InvalidField, "valve", "needs open and close pins")
	}
	pulse := DefaultPulse
	if in.Config.PulseMs > 0 {
		pulse = time.Duration(in.Config.PulseMs) * time.Millisecond
	}
	return &Device{
		open:      in.Pins[0],
		close:     in.Pins[1],
		activeLow: in.Config.InvertedLogic,
		latching:  in.Config.Latching,
		pulse:     pulse,
		initial:   in.Config.DefaultState,
		position:  types.ValveClosed,
		log:       in.Log,
	}, nil
}

type Device struct {
	open, close platform.Pin
	activeLow   bool
	latching    bool
	pulse       time.Duration
	initial     bool
	position    string
	pulseEnd    time.Time // zero until the first Tick after a transition
	stopped     bool
	log         *zap.Logger
}

func (d *Device) phys(on bool) bool { return on != d.activeLow }

func (d *Device) Init() error {
	if err := d.open.ConfigureOutput(d.phys(false)); err != nil {
		return errcode.Wrap(errcode.DriverInitFailed, "valve open coil", err)
	}
	if err := d.close.ConfigureOutput(d.phys(false)); err != nil {
		return errcode.Wrap(errcode.DriverInitFailed, "valve close coil", err)
	}
	if d.initial {
		return d.SetBinary(true)
	}
	return nil
}

func (d *Device) coils(open, close bool) error {
	// De-energise before energising so both coils are never on together.
	if !open {
		if err := d.open.Set(d.phys(false)); err != nil {
			return err
		}
	}
	if !close {
		if err := d.close.Set(d.phys(false)); err != nil {
			return err
		}
	}
	if open {
		if err := d.open.Set(d.phys(true)); err != nil {
			return err
		}
	}
	if close {
		if err := d.close.Set(d.phys(true)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) SetBinary(on bool) error {
	if on {
		if d.stopped {
			return errcode.EmergencyActive
		}
		if d.position == types.ValveOpen || d.position == types.ValveOpening {
			return nil
		}
		if err := d.coils(true, false); err != nil {
			return errcode.Wrap(errcode.BusError, "valve open", err)
		}
		d.position = types.ValveOpening
		if !d.latching {
			// Held coil: open as soon as energised.
			d.position = types.ValveOpen
		}
	} else {
		if d.position == types.ValveClosed || d.position == types.ValveClosing {
			return nil
		}
		if err := d.coils(false, true); err != nil {
			return errcode.Wrap(errcode.BusError, "valve close", err)
		}
		d.position = types.ValveClosing
	}
	d.pulseEnd = time.Time{}
	return nil
}

func (d *Device) SetPWM(uint8) error {
	return errcode.New(errcode.Unsupported, "valve", "pwm not supported")
}

func (d *Device) SetValue(v float64) error { return d.SetBinary(v >= 0.5) }

func (d *Device) State() types.ActuatorState {
	on := d.position == types.ValveOpen || d.position == types.ValveOpening
	st := types.ActuatorState{On: on, Position: d.position, Emergency: d.stopped}
	if on {
		st.PWM, st.Value = 255, 1
	}
	return st
}

func (d *Device) EmergencyStop(reason string) {
	d.stopped = true
	if err := d.SetBinary(false); err != nil {
		d.log.Error("valve emergency close failed", zap.Int("pin", d.open.Number()), zap.Error(err))
	}
}

func (d *Device) ClearEmergency() { d.stopped = false }

// Tick ends pulses and enforces the coil interlock.
func (d *Device) Tick(now time.Time) error {
	if d.open.Get() == d.phys(true) && d.close.Get() == d.phys(true) {
		_ = d.coils(false, false)
		d.position = types.ValveClosed
		return errcode.New(errcode.EmergencyActive, "valve",
			fmt.Sprintf("both coils energised on GPIO%d/GPIO%d", d.open.Number(), d.close.Number()))
	}
	pulsing := d.position == types.ValveClosing || (d.position == types.ValveOpening && d.latching)
	if !pulsing {
		return nil
	}
	if d.pulseEnd.IsZero() {
		d.pulseEnd = now.Add(d.pulse)
		return nil
	}
	if now.Before(d.pulseEnd) {
		return nil
	}
	switch d.position {
	case types.ValveOpening:
		if err := d.open.Set(d.phys(false)); err != nil {
			return errcode.Wrap(errcode.BusError, "valve pulse end", err)
		}
		d.position = types.ValveOpen
	case types.ValveClosing:
		if err := d.close.Set(d.phys(false)); err != nil {
			return errcode.Wrap(errcode.BusError, "valve pulse end", err)
		}
		d.position = types.ValveClosed
	}
	d.pulseEnd = time.Time{}
	return nil
}

func (d *Device) Shutdown() {
	_ = d.coils(false, false)
	d.position = types.ValveClosed
}
