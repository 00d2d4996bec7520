// Package pwm_out drives variable-output actuators (fans, dimmers, pumps
// with speed control) with an 8-bit duty cycle.
package pwm_out

import (
	"math"
	"time"

	"go.uber.org/zap"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/types"
	"fieldnode-go/x/mathx"
)

type Device struct {
	pwm       platform.Pin
	freq      uint32
	activeLow bool
	initial   uint8 // logical
	duty      uint8 // logical
	stopped   bool
	log       *zap.Logger
}

// toPhys maps a logical duty to the pin, inverting for active-low loads.
func (d *Device) toPhys(logical uint8) uint8 {
	if d.activeLow {
		return 255 - logical
	}
	return logical
}

func (d *Device) Init() error {
	if err := d.pwm.ConfigurePWM(d.freq); err != nil {
		return errcode.Wrap(errcode.DriverInitFailed, "pwm init", err)
	}
	if err := d.pwm.SetDuty(d.toPhys(d.initial)); err != nil {
		return errcode.Wrap(errcode.DriverInitFailed, "pwm init", err)
	}
	d.duty = d.initial
	return nil
}

func (d *Device) SetPWM(duty uint8) error {
	if d.stopped && duty > 0 {
		return errcode.EmergencyActive
	}
	if err := d.pwm.SetDuty(d.toPhys(duty)); err != nil {
		return errcode.Wrap(errcode.BusError, "pwm set", err)
	}
	d.duty = duty
	return nil
}

func (d *Device) SetBinary(on bool) error {
	if on {
		return d.SetPWM(255)
	}
	return d.SetPWM(0)
}

func (d *Device) SetValue(v float64) error {
	v = mathx.Clamp(v, 0, 1)
	return d.SetPWM(uint8(math.Round(v * 255)))
}

func (d *Device) State() types.ActuatorState {
	return types.ActuatorState{
		On:        d.duty > 0,
		PWM:       d.duty,
		Value:     float64(d.duty) / 255,
		Emergency: d.stopped,
	}
}

func (d *Device) EmergencyStop(reason string) {
	d.stopped = true
	if err := d.pwm.SetDuty(d.toPhys(0)); err != nil {
		d.log.Error("emergency stop output failed", zap.Int("pin", d.pwm.Number()), zap.Error(err))
	}
	d.duty = 0
}

func (d *Device) ClearEmergency() { d.stopped = false }

func (d *Device) Tick(time.Time) error { return nil }

func (d *Device) Shutdown() {
	_ = d.pwm.SetDuty(d.toPhys(0))
	d.duty = 0
}
