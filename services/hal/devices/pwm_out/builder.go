package pwm_out

import (
	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/types"
)

func init() { core.RegisterActuator(types.ActuatorPWM, builder{}) }

// DefaultFrequency is used when the config leaves pwm_frequency unset.
const DefaultFrequency = 1000

type builder struct{}

func (builder) Claims(cfg types.ActuatorConfig) ([]core.PinClaim, error) {
	return []core.PinClaim{{Pin: cfg.Pin, Mode: pins.ModePWM}}, nil
}

func (builder) Build(in core.ActuatorInput) (core.ActuatorDriver, error) {
	if len(in.Pins) != 1 {
		return nil, errcode.New(errcode.InvalidField, "pwm", "needs exactly one pin")
	}
	freq := in.Config.PWMFrequency
	if freq == 0 {
		freq = DefaultFrequency
	}
	initial := in.Config.DefaultPWM
	if initial == 0 && in.Config.DefaultState {
		initial = 255
	}
	return &Device{
		pwm:       in.Pins[0],
		freq:      freq,
		activeLow: in.Config.InvertedLogic,
		initial:   initial,
		log:       in.Log,
	}, nil
}
