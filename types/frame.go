package types

import "encoding/json"

// Kind is the addressed entity class in a remote topic.
type Kind string

const (
	KindSensor    Kind = "sensor"
	KindActuator  Kind = "actuator"
	KindSystem    Kind = "system"
	KindBroadcast Kind = "broadcast"
)

// Actions used on remote topics.
const (
	ActData           = "data"
	ActCommand        = "command"
	ActStatus         = "status"
	ActResponse       = "response"
	ActAlert          = "alert"
	ActEmergency      = "emergency"
	ActConfig         = "config"
	ActConfigResponse = "config_response"
	ActHeartbeat      = "heartbeat"
)

// NoIndex marks an address without a pin index.
const NoIndex = -1

// Address is the decoded form of a remote topic. Group and Node are empty
// for broadcast addresses.
type Address struct {
	Group  string
	Node   string
	Kind   Kind
	Index  int
	Action string
}

// At addresses a pin-indexed entity on the local node.
func At(kind Kind, index int, action string) Address {
	return Address{Kind: kind, Index: index, Action: action}
}

// NodeAddr addresses a node-level (index-less) topic on the local node.
func NodeAddr(kind Kind, action string) Address {
	return Address{Kind: kind, Index: NoIndex, Action: action}
}

func (a Address) HasIndex() bool { return a.Index >= 0 }

// Frame carries one remote message across the internal bus between the
// link service and the HAL.
type Frame struct {
	Addr     Address
	Payload  []byte
	Retained bool
}

// NewFrame encodes v as the JSON payload of a frame. A nil v yields an
// empty payload, which clears a retained topic.
func NewFrame(addr Address, v any, retained bool) (Frame, error) {
	f := Frame{Addr: addr, Retained: retained}
	if v == nil {
		return f, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return f, err
	}
	f.Payload = b
	return f, nil
}
