package types

// Reading quality.
const (
	QualityGood  = "good"
	QualityError = "error"
)

// Measurement is one engineering-unit value of a reading.
type Measurement struct {
	Quantity string  `json:"quantity"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
}

// SensorReading is published on sensor/{pin}/data.
type SensorReading struct {
	Pin       int           `json:"gpio"`
	Type      string        `json:"sensor_type"`
	Name      string        `json:"sensor_name"`
	Zone      string        `json:"subzone_id,omitempty"`
	Values    []Measurement `json:"values,omitempty"`
	Raw       int64         `json:"raw"`
	Quality   string        `json:"quality"`
	ErrorCode string        `json:"error_code,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	TS        int64         `json:"ts_ms"`
}

// Sensor commands.
const CmdMeasure = "measure"

// SensorCommand is received on sensor/{pin}/command.
type SensorCommand struct {
	Command string `json:"command"`
}

// Quantities and units carried in Measurement.
const (
	QtyTemperature = "temperature"
	QtyHumidity    = "humidity"
	QtyLevel       = "level"

	UnitCelsius   = "C"
	UnitPercentRH = "%RH"
	UnitBool      = "bool"
)

// SensorStatus describes one configured sensor.
type SensorStatus struct {
	Pin         int    `json:"gpio"`
	Type        string `json:"sensor_type"`
	Name        string `json:"sensor_name"`
	Zone        string `json:"subzone_id,omitempty"`
	Mode        string `json:"operating_mode"`
	IntervalMs  uint32 `json:"measurement_interval_ms"`
	LastQuality string `json:"last_quality,omitempty"`
	LastTS      int64  `json:"last_ts_ms,omitempty"`
}

// SensorResponse is published on sensor/{pin}/response after a command.
type SensorResponse struct {
	Pin       int    `json:"gpio"`
	Command   string `json:"command"`
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	TS        int64  `json:"ts_ms"`
}
