package types

// ---- Common service state (retained on the internal bus) ----

// Level is a coarse service or link health indicator.
type Level string

const (
	LevelIdle     Level = "idle"
	LevelReady    Level = "ready"
	LevelHalted   Level = "halted"
	LevelStopped  Level = "stopped"
	LevelUp       Level = "up"
	LevelDown     Level = "down"
	LevelDegraded Level = "degraded"
)

// HALState is published retained on hal/state.
type HALState struct {
	Level     Level  `json:"level"`
	Status    string `json:"status"`
	Actuators int    `json:"actuators"`
	Sensors   int    `json:"sensors"`
	Emergency bool   `json:"emergency"`
	Error     string `json:"error,omitempty"`
	TS        int64  `json:"ts_ms"`
}

// LinkEndpoint describes one physical link and its breaker.
type LinkEndpoint struct {
	Connected bool   `json:"connected"`
	Breaker   string `json:"breaker"`
	Failures  int    `json:"failures"`
}

// LinkStatus is published retained on link/state.
type LinkStatus struct {
	Level   Level        `json:"level"`
	Status  string       `json:"status"`
	Uplink  LinkEndpoint `json:"uplink"`
	Broker  LinkEndpoint `json:"broker"`
	Dropped uint64       `json:"dropped"`
	Error   string       `json:"error,omitempty"`
	TS      int64        `json:"ts_ms"`
}

// Heartbeat is the single liveness and health payload.
type Heartbeat struct {
	BootID     string     `json:"boot_id"`
	UptimeS    int64      `json:"uptime_s"`
	HeapAlloc  uint64     `json:"heap_alloc"`
	Goroutines int        `json:"goroutines"`
	HAL        Level      `json:"hal"`
	Actuators  int        `json:"actuators"`
	Sensors    int        `json:"sensors"`
	Emergency  bool       `json:"emergency"`
	Link       LinkStatus `json:"link"`
	TS         int64      `json:"ts_ms"`
}

// NodeStatus is the retained online/offline marker (also the broker will).
type NodeStatus struct {
	State  string `json:"state"`
	BootID string `json:"boot_id,omitempty"`
	TS     int64  `json:"ts_ms,omitempty"`
}
