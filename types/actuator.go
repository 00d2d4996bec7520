package types

// Actuator commands.
const (
	CmdOn     = "ON"
	CmdOff    = "OFF"
	CmdPWM    = "PWM"
	CmdToggle = "TOGGLE"
)

// ActuatorCommand is received on actuator/{pin}/command. Value is 0..1;
// Duration is in seconds and schedules an automatic OFF.
type ActuatorCommand struct {
	Command  string   `json:"command"`
	Value    *float64 `json:"value,omitempty"`
	Duration float64  `json:"duration,omitempty"`
}

// Valve positions.
const (
	ValveClosed  = "closed"
	ValveOpen    = "open"
	ValveOpening = "opening"
	ValveClosing = "closing"
)

// ActuatorState is the driver-reported output state.
type ActuatorState struct {
	On        bool    `json:"on"`
	PWM       uint8   `json:"pwm"`
	Value     float64 `json:"value"`
	Position  string  `json:"position,omitempty"`
	Emergency bool    `json:"emergency"`
}

// ActuatorStatus is published on actuator/{pin}/status.
type ActuatorStatus struct {
	Pin       int           `json:"gpio"`
	Type      string        `json:"actuator_type"`
	Name      string        `json:"actuator_name"`
	Zone      string        `json:"subzone_id,omitempty"`
	Critical  bool          `json:"critical,omitempty"`
	State     ActuatorState `json:"state"`
	Emergency bool          `json:"emergency_stopped"`
	OnTimeMs  int64         `json:"on_time_ms"`
	Fault     string        `json:"fault,omitempty"`
	TS        int64         `json:"ts_ms"`
}

// ActuatorResponse is published on actuator/{pin}/response after a command.
type ActuatorResponse struct {
	Pin       int           `json:"gpio"`
	Command   string        `json:"command"`
	Success   bool          `json:"success"`
	ErrorCode string        `json:"error_code,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	State     ActuatorState `json:"state"`
	TS        int64         `json:"ts_ms"`
}

// Alert kinds.
const (
	AlertAutoShutoff     = "auto_shutoff"
	AlertEmergencyStop   = "emergency_stop"
	AlertSafetyViolation = "safety_violation"
	AlertEmergencyClear  = "emergency_cleared"
)

// ActuatorAlert is published on actuator/{pin}/alert.
type ActuatorAlert struct {
	Pin      int    `json:"gpio"`
	Alert    string `json:"alert"`
	Detail   string `json:"detail,omitempty"`
	Critical bool   `json:"critical,omitempty"`
	TS       int64  `json:"ts_ms"`
}

// System commands.
const (
	SysEmergencyStop  = "emergency_stop"
	SysClearEmergency = "clear_emergency"
	SysStatus         = "status"
)

// SystemCommand is received on system/command, actuator/emergency and the
// broadcast emergency topic. Pin, when set, narrows the command to one actuator.
type SystemCommand struct {
	Command string `json:"command"`
	Pin     *int   `json:"gpio,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
