package types

// NoPin marks an absent optional pin.
const NoPin = -1

// Actuator types. Relay and pump are aliases of binary.
const (
	ActuatorBinary = "binary"
	ActuatorRelay  = "relay"
	ActuatorPump   = "pump"
	ActuatorValve  = "valve"
	ActuatorPWM    = "pwm"
)

// ActuatorConfig is the remote configuration of one actuator, keyed by Pin.
type ActuatorConfig struct {
	Pin           int    `json:"gpio"`
	AuxPin        int    `json:"aux_gpio"`
	Type          string `json:"actuator_type"`
	Name          string `json:"actuator_name"`
	Zone          string `json:"subzone_id,omitempty"`
	Active        bool   `json:"active"`
	Critical      bool   `json:"critical,omitempty"`
	InvertedLogic bool   `json:"inverted_logic,omitempty"`
	DefaultState  bool   `json:"default_state,omitempty"`
	DefaultPWM    uint8  `json:"default_pwm,omitempty"`
	MaxRuntimeMs  uint32 `json:"max_runtime_ms,omitempty"`
	PulseMs       uint32 `json:"pulse_ms,omitempty"`
	Latching      bool   `json:"latching,omitempty"`
	PWMFrequency  uint32 `json:"pwm_frequency,omitempty"`
}

// Pins lists the pins the actuator occupies.
func (c ActuatorConfig) Pins() []int {
	if c.AuxPin >= 0 && c.AuxPin != c.Pin {
		return []int{c.Pin, c.AuxPin}
	}
	return []int{c.Pin}
}

// Sensor types.
const (
	SensorDS18B20 = "ds18b20"
	SensorAHT20   = "aht20"
	SensorSHTC3   = "shtc3"
	SensorDigital = "digital"
)

// Operating modes.
const (
	ModeContinuous = "continuous"
	ModeOnDemand   = "on_demand"
	ModePaused     = "paused"
	ModeScheduled  = "scheduled"
)

// SensorConfig is the remote configuration of one sensor, keyed by Pin.
type SensorConfig struct {
	Pin            int    `json:"gpio"`
	Type           string `json:"sensor_type"`
	Name           string `json:"sensor_name"`
	Zone           string `json:"subzone_id,omitempty"`
	Active         bool   `json:"active"`
	Mode           string `json:"operating_mode"`
	IntervalMs     uint32 `json:"measurement_interval_ms"`
	I2CAddress     uint16 `json:"i2c_address,omitempty"`
	OneWireAddress string `json:"onewire_address,omitempty"`
}

// Acknowledgement types.
const (
	AckActuator = "actuator"
	AckSensor   = "sensor"
	AckConfig   = "config" // batch-level structural failure
)

// ConfigFailure reports one rejected item of a batch.
type ConfigFailure struct {
	Index     int    `json:"index"`
	Pin       int    `json:"gpio"`
	ErrorCode string `json:"error_code"`
	Detail    string `json:"detail,omitempty"`
}

// ConfigAck aggregates the outcome of one configuration batch.
type ConfigAck struct {
	Type          string          `json:"type"`
	Success       bool            `json:"success"`
	SuccessCount  int             `json:"success_count"`
	FailCount     int             `json:"fail_count"`
	Failures      []ConfigFailure `json:"failures,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	TS            int64           `json:"ts_ms"`
}
