// Package ds18b20dev exposes a DS18B20 on its own 1-Wire data pin.
package ds18b20dev

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/onewire"

	"fieldnode-go/drivers/ds18b20"
	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/types"
)

func init() { core.RegisterSensor(types.SensorDS18B20, builder{}) }

type builder struct{}

func (builder) Claims(cfg types.SensorConfig) (core.PinClaim, error) {
	if cfg.OneWireAddress != "" {
		if _, err := ds18b20.ParseAddress(cfg.OneWireAddress); err != nil {
			return core.PinClaim{}, errcode.New(errcode.InvalidField, "ds18b20", err.Error())
		}
	}
	return core.PinClaim{Pin: cfg.Pin, Mode: pins.ModeOneWire}, nil
}

func (builder) Build(in core.SensorInput) (core.SensorDriver, error) {
	var addr onewire.Address
	if in.Config.OneWireAddress != "" {
		a, err := ds18b20.ParseAddress(in.Config.OneWireAddress)
		if err != nil {
			return nil, errcode.New(errcode.InvalidField, "ds18b20", err.Error())
		}
		addr = a
	}
	bus, err := in.HW.OneWire(in.Config.Pin)
	if err != nil {
		return nil, errcode.Wrap(errcode.DriverInitFailed, "ds18b20 bus", err)
	}
	return &Device{drv: ds18b20.New(bus, addr), log: in.Log}, nil
}

type Device struct {
	drv *ds18b20.Device
	log *zap.Logger
}

// Init is a no-op: presence is only known after the first conversion.
func (d *Device) Init(ctx context.Context) error { return nil }

func (d *Device) Trigger(ctx context.Context) (time.Duration, error) {
	if err := d.drv.Trigger(); err != nil {
		return 0, errcode.Wrap(errcode.BusError, "ds18b20 convert", err)
	}
	return d.drv.ConversionTime(), nil
}

func (d *Device) Collect(ctx context.Context) (core.Sample, error) {
	s, err := d.drv.Collect()
	switch {
	case errors.Is(err, ds18b20.ErrDisconnected):
		// reported as a fault reading, not an error
	case err != nil:
		return core.Sample{}, errcode.Wrap(errcode.BusError, "ds18b20 read", err)
	}
	out := core.Sample{
		Raw:    int64(s.Raw),
		Values: []types.Measurement{{Quantity: types.QtyTemperature, Value: s.Celsius(), Unit: types.UnitCelsius}},
	}
	switch {
	case s.Disconnected:
		out.Fault, out.Detail = true, "disconnected"
	case s.Fault():
		out.Fault, out.Detail = true, "power-on value"
	}
	return out, nil
}

func (d *Device) Shutdown() {}
