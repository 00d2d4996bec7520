// Package aht20dev exposes the AHT20 temperature/humidity sensor as a
// split-phase measurement driver. The configured gpio is the sensor's power
// enable line; the I²C bus itself is shared and board-reserved.
package aht20dev

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fieldnode-go/drivers/aht20"
	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/types"
	"fieldnode-go/x/mathx"
)

func init() { core.RegisterSensor(types.SensorAHT20, builder{}) }

// powerUp is the settle time after enabling the sensor's supply.
const powerUp = 40 * time.Millisecond

type builder struct{}

func (builder) Claims(cfg types.SensorConfig) (core.PinClaim, error) {
	if cfg.I2CAddress != 0 && cfg.I2CAddress != aht20.Address {
		return core.PinClaim{}, errcode.New(errcode.InvalidField, "aht20", "i2c_address must be 0x38")
	}
	return core.PinClaim{Pin: cfg.Pin, Mode: pins.ModePower}, nil
}

func (builder) Build(in core.SensorInput) (core.SensorDriver, error) {
	bus, err := in.HW.I2C()
	if err != nil {
		return nil, errcode.Wrap(errcode.DriverInitFailed, "aht20 bus", err)
	}
	return &Device{
		power: in.Pin,
		drv:   aht20.New(bus, in.Config.I2CAddress),
		log:   in.Log,
	}, nil
}

type Device struct {
	power platform.Pin
	drv   *aht20.Device
	log   *zap.Logger
	ready time.Time
}

func (d *Device) Init(ctx context.Context) error {
	if err := d.power.ConfigureOutput(true); err != nil {
		return errcode.Wrap(errcode.DriverInitFailed, "aht20 power", err)
	}
	// Calibration is retried on the first Trigger if the part is still
	// powering up.
	if err := d.drv.Init(); err != nil {
		d.log.Debug("aht20 init deferred", zap.Error(err))
		d.ready = time.Now().Add(powerUp)
	}
	return nil
}

func (d *Device) Trigger(ctx context.Context) (time.Duration, error) {
	if !d.ready.IsZero() {
		if wait := time.Until(d.ready); wait > 0 {
			return wait, core.ErrNotReady
		}
		if err := d.drv.Init(); err != nil {
			return 0, errcode.Wrap(errcode.BusError, "aht20 init", err)
		}
		d.ready = time.Time{}
	}
	if err := d.drv.Trigger(); err != nil {
		return 0, errcode.Wrap(errcode.BusError, "aht20 trigger", err)
	}
	return aht20.ConversionTime, nil
}

func (d *Device) Collect(ctx context.Context) (core.Sample, error) {
	s, err := d.drv.Collect()
	switch {
	case errors.Is(err, aht20.ErrNotReady):
		return core.Sample{}, core.ErrNotReady
	case errors.Is(err, aht20.ErrUncalibrated):
		return core.Sample{Fault: true, Detail: "uncalibrated"}, nil
	case err != nil:
		return core.Sample{}, errcode.Wrap(errcode.BusError, "aht20 collect", err)
	}
	decic := mathx.Clamp(s.DeciCelsius(), -400, 850)
	rh := mathx.Clamp(s.DeciRelHumidity(), 0, 1000)
	return core.Sample{
		Raw: int64(s.RawTemp),
		Values: []types.Measurement{
			{Quantity: types.QtyTemperature, Value: float64(decic) / 10, Unit: types.UnitCelsius},
			{Quantity: types.QtyHumidity, Value: float64(rh) / 10, Unit: types.UnitPercentRH},
		},
	}, nil
}

func (d *Device) Shutdown() { _ = d.power.Set(false) }
