// Package digital reads a single input line with pull-up (float switches,
// door contacts, flow pulses sampled as levels).
package digital

import (
	"context"
	"time"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/types"
)

func init() { core.RegisterSensor(types.SensorDigital, builder{}) }

type builder struct{}

func (builder) Claims(cfg types.SensorConfig) (core.PinClaim, error) {
	return core.PinClaim{Pin: cfg.Pin, Mode: pins.ModeInput}, nil
}

func (builder) Build(in core.SensorInput) (core.SensorDriver, error) {
	return &Device{pin: in.Pin}, nil
}

type Device struct {
	pin platform.Pin
}

func (d *Device) Init(ctx context.Context) error {
	if err := d.pin.ConfigureInput(platform.PullUp); err != nil {
		return errcode.Wrap(errcode.DriverInitFailed, "digital init", err)
	}
	return nil
}

func (d *Device) Trigger(ctx context.Context) (time.Duration, error) { return 0, nil }

func (d *Device) Collect(ctx context.Context) (core.Sample, error) {
	var v int64
	if d.pin.Get() {
		v = 1
	}
	return core.Sample{
		Raw:    v,
		Values: []types.Measurement{{Quantity: types.QtyLevel, Value: float64(v), Unit: types.UnitBool}},
	}, nil
}

// Shutdown leaves the line as an input; the ledger restores safe state.
func (d *Device) Shutdown() {}
