package configproto

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"fieldnode-go/errcode"
	"fieldnode-go/types"
)

// item is one decoded configuration object. Numbers are json.Number.
type item map[string]any

// lookup returns the first present key among names.
func (it item) lookup(names ...string) (string, any, bool) {
	for _, n := range names {
		if v, ok := it[n]; ok && v != nil {
			return n, v, true
		}
	}
	return names[0], nil, false
}

func (it item) str(required bool, names ...string) (string, error) {
	key, v, ok := it.lookup(names...)
	if !ok {
		if required {
			return "", errcode.New(errcode.MissingField, "config", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errcode.New(errcode.InvalidField, "config", key+" must be a string")
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", errcode.New(errcode.MissingField, "config", key)
	}
	return s, nil
}

func (it item) boolean(def bool, names ...string) (bool, error) {
	key, v, ok := it.lookup(names...)
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errcode.New(errcode.InvalidField, "config", key+" must be a boolean")
	}
	return b, nil
}

func (it item) number(names ...string) (string, float64, bool, error) {
	key, v, ok := it.lookup(names...)
	if !ok {
		return key, 0, false, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return key, 0, true, errcode.New(errcode.InvalidField, "config", key+" must be a number")
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return key, 0, true, errcode.New(errcode.InvalidField, "config", key+" must be a number")
	}
	return key, f, true, nil
}

// integer reads an integral number within [lo, hi].
func (it item) integer(required bool, def, lo, hi int64, names ...string) (int64, error) {
	key, f, ok, err := it.number(names...)
	switch {
	case err != nil:
		return 0, err
	case !ok && required:
		return 0, errcode.New(errcode.MissingField, "config", key)
	case !ok:
		return def, nil
	case f != math.Trunc(f):
		return 0, errcode.New(errcode.InvalidField, "config", key+" must be an integer")
	case f < float64(lo) || f > float64(hi):
		return 0, errcode.New(errcode.OutOfRange, "config", fmt.Sprintf("%s %v outside %d..%d", key, f, lo, hi))
	}
	return int64(f), nil
}

func (it item) pin() (int, error) {
	v, err := it.integer(true, 0, 0, 255, "gpio", "pin")
	return int(v), err
}

func parseActuator(it item) (types.ActuatorConfig, error) {
	var (
		cfg types.ActuatorConfig
		err error
		v   int64
	)
	if cfg.Pin, err = it.pin(); err != nil {
		return cfg, err
	}
	if cfg.Active, err = it.boolean(true, "active"); err != nil {
		return cfg, err
	}
	if v, err = it.integer(false, types.NoPin, types.NoPin, 255, "aux_gpio", "aux_pin"); err != nil {
		return cfg, err
	}
	cfg.AuxPin = int(v)
	if !cfg.Active {
		// Removal needs only the key.
		return cfg, nil
	}
	if cfg.Type, err = it.str(true, "actuator_type", "type"); err != nil {
		return cfg, err
	}
	cfg.Type = strings.ToLower(cfg.Type)
	if cfg.Name, err = it.str(true, "actuator_name", "name"); err != nil {
		return cfg, err
	}
	if cfg.Zone, err = it.str(false, "subzone_id", "zone"); err != nil {
		return cfg, err
	}
	for _, f := range []struct {
		dst  *bool
		name string
	}{
		{&cfg.Critical, "critical"},
		{&cfg.InvertedLogic, "inverted_logic"},
		{&cfg.DefaultState, "default_state"},
		{&cfg.Latching, "latching"},
	} {
		if *f.dst, err = it.boolean(false, f.name); err != nil {
			return cfg, err
		}
	}
	if v, err = it.integer(false, 0, 0, 255, "default_pwm"); err != nil {
		return cfg, err
	}
	cfg.DefaultPWM = uint8(v)
	if v, err = it.integer(false, 0, 0, 86_400_000, "max_runtime_ms"); err != nil {
		return cfg, err
	}
	cfg.MaxRuntimeMs = uint32(v)
	if v, err = it.integer(false, 0, 0, 60_000, "pulse_ms"); err != nil {
		return cfg, err
	}
	cfg.PulseMs = uint32(v)
	if v, err = it.integer(false, 0, 0, 100_000, "pwm_frequency"); err != nil {
		return cfg, err
	}
	cfg.PWMFrequency = uint32(v)
	return cfg, nil
}

func parseSensor(it item) (types.SensorConfig, error) {
	var (
		cfg types.SensorConfig
		err error
		v   int64
	)
	if cfg.Pin, err = it.pin(); err != nil {
		return cfg, err
	}
	if cfg.Active, err = it.boolean(true, "active"); err != nil {
		return cfg, err
	}
	if !cfg.Active {
		return cfg, nil
	}
	if cfg.Type, err = it.str(true, "sensor_type", "type"); err != nil {
		return cfg, err
	}
	cfg.Type = strings.ToLower(cfg.Type)
	if cfg.Name, err = it.str(true, "sensor_name", "name"); err != nil {
		return cfg, err
	}
	if cfg.Zone, err = it.str(false, "subzone_id", "zone"); err != nil {
		return cfg, err
	}
	if cfg.Mode, err = it.str(false, "operating_mode", "mode"); err != nil {
		return cfg, err
	}
	cfg.Mode = strings.ToLower(strings.ReplaceAll(cfg.Mode, "-", "_"))

	if v, err = it.integer(false, 0, 0, 86_400_000, "measurement_interval_ms", "interval_ms"); err != nil {
		return cfg, err
	}
	cfg.IntervalMs = uint32(v)
	if cfg.IntervalMs == 0 {
		key, secs, ok, err := it.number("measurement_interval")
		switch {
		case err != nil:
			return cfg, err
		case ok && (secs < 0 || secs > 86_400):
			return cfg, errcode.New(errcode.OutOfRange, "config", fmt.Sprintf("%s %v outside 0..86400", key, secs))
		case ok:
			cfg.IntervalMs = uint32(math.Round(secs * 1000))
		}
	}
	if v, err = it.integer(false, 0, 0, 0x7F, "i2c_address"); err != nil {
		return cfg, err
	}
	cfg.I2CAddress = uint16(v)
	if cfg.OneWireAddress, err = it.str(false, "onewire_address"); err != nil {
		return cfg, err
	}
	return cfg, nil
}
