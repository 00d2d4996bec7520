// Package shtc3dev wraps the tinygo SHTC3 driver. The measurement uses clock
// stretching, so Trigger only wakes the part and Collect does the transfer.
package shtc3dev

import (
	"context"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/drivers/shtc3"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/drvshim"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/types"
	"fieldnode-go/x/mathx"
)

func init() { core.RegisterSensor(types.SensorSHTC3, builder{}) }

const wakeTime = time.Millisecond

type builder struct{}

func (builder) Claims(cfg types.SensorConfig) (core.PinClaim, error) {
	if cfg.I2CAddress != 0 && cfg.I2CAddress != shtc3.SHTC3_ADDRESS {
		return core.PinClaim{}, errcode.New(errcode.InvalidField, "shtc3", "i2c_address must be 0x70")
	}
	return core.PinClaim{Pin: cfg.Pin, Mode: pins.ModePower}, nil
}

func (builder) Build(in core.SensorInput) (core.SensorDriver, error) {
	bus, err := in.HW.I2C()
	if err != nil {
		return nil, errcode.Wrap(errcode.DriverInitFailed, "shtc3 bus", err)
	}
	shim := drvshim.NewLatchI2C(bus)
	return &Device{power: in.Pin, shim: shim, drv: shtc3.New(shim), log: in.Log}, nil
}

type Device struct {
	power platform.Pin
	shim  *drvshim.LatchI2C
	drv   shtc3.Device
	log   *zap.Logger
}

func (d *Device) Init(ctx context.Context) error {
	if err := d.power.ConfigureOutput(true); err != nil {
		return errcode.Wrap(errcode.DriverInitFailed, "shtc3 power", err)
	}
	_ = d.drv.Sleep()
	if err := d.shim.Err(); err != nil {
		return errcode.Wrap(errcode.DriverInitFailed, "shtc3 probe", err)
	}
	return nil
}

func (d *Device) Trigger(ctx context.Context) (time.Duration, error) {
	_ = d.drv.WakeUp()
	if err := d.shim.Err(); err != nil {
		return 0, errcode.Wrap(errcode.BusError, "shtc3 wake", err)
	}
	return wakeTime, nil
}

func (d *Device) Collect(ctx context.Context) (core.Sample, error) {
	mc, rh, _ := d.drv.ReadTemperatureHumidity()
	_ = d.drv.Sleep()
	if err := d.shim.Err(); err != nil {
		return core.Sample{}, errcode.Wrap(errcode.BusError, "shtc3 read", err)
	}
	// An all-zero frame decodes to exactly -45 °C / 0 %RH.
	if mc == -45000 && rh == 0 {
		return core.Sample{Raw: int64(mc), Fault: true, Detail: "zero frame"}, nil
	}
	decic := mathx.Clamp(mc/100, -400, 1250)
	rhx100 := mathx.Clamp(rh, 0, 10000)
	return core.Sample{
		Raw: int64(mc),
		Values: []types.Measurement{
			{Quantity: types.QtyTemperature, Value: float64(decic) / 10, Unit: types.UnitCelsius},
			{Quantity: types.QtyHumidity, Value: float64(rhx100) / 100, Unit: types.UnitPercentRH},
		},
	}, nil
}

func (d *Device) Shutdown() {
	_ = d.drv.Sleep()
	d.shim.Err()
	_ = d.power.Set(false)
}
