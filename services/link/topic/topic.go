// Package topic maps remote topic strings to addresses and back.
//
// Node topics have the form
//
//	{root}/{group}/{node}/{kind}/{index}/{action}
//	{root}/{group}/{node}/{kind}/{action}
//
// and the fleet-wide emergency is {root}/broadcast/emergency.
package topic

import (
	"fmt"
	"strconv"
	"strings"

	"fieldnode-go/errcode"
	"fieldnode-go/types"
)

const broadcastGroup = "broadcast"

// Actions valid per kind; indexed reports whether the action carries a pin.
var actions = map[types.Kind]map[string]bool{
	types.KindSensor: {
		types.ActData:     true,
		types.ActCommand:  true,
		types.ActResponse: true,
	},
	types.KindActuator: {
		types.ActCommand:   true,
		types.ActStatus:    true,
		types.ActResponse:  true,
		types.ActAlert:     true,
		types.ActEmergency: true,
	},
	types.KindSystem: {
		types.ActConfig:         false,
		types.ActConfigResponse: false,
		types.ActCommand:        false,
		types.ActHeartbeat:      false,
		types.ActStatus:         false,
	},
}

// Codec binds the topic scheme to one node.
type Codec struct {
	Root  string
	Group string
	Node  string
}

func (c Codec) prefix() string { return c.Root + "/" + c.Group + "/" + c.Node }

// Validate checks that every segment is usable in a topic.
func (c Codec) Validate() error {
	for name, seg := range map[string]string{"root": c.Root, "group": c.Group, "node": c.Node} {
		if err := segment(seg); err != nil {
			return errcode.New(errcode.InvalidTopic, "topic", fmt.Sprintf("%s: %v", name, err))
		}
	}
	if c.Group == broadcastGroup {
		return errcode.New(errcode.InvalidTopic, "topic", "group may not be \"broadcast\"")
	}
	return nil
}

func segment(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("empty segment")
	case strings.ContainsAny(s, "/+#"):
		return fmt.Errorf("segment %q contains a reserved character", s)
	}
	return nil
}

// Encode renders a for this node. Group and Node in a are ignored.
func (c Codec) Encode(a types.Address) (string, error) {
	if a.Kind == types.KindBroadcast {
		return c.Broadcast(), nil
	}
	valid, ok := actions[a.Kind]
	if !ok {
		return "", errcode.New(errcode.InvalidTopic, "encode", fmt.Sprintf("unknown kind %q", a.Kind))
	}
	if _, ok := valid[a.Action]; !ok {
		return "", errcode.New(errcode.InvalidTopic, "encode", fmt.Sprintf("action %q not valid for %s", a.Action, a.Kind))
	}
	if !a.HasIndex() {
		return c.prefix() + "/" + string(a.Kind) + "/" + a.Action, nil
	}
	if a.Index > 255 {
		return "", errcode.New(errcode.InvalidTopic, "encode", fmt.Sprintf("index %d out of range", a.Index))
	}
	return c.prefix() + "/" + string(a.Kind) + "/" + strconv.Itoa(a.Index) + "/" + a.Action, nil
}

// MustEncode is Encode for addresses built from constants.
func (c Codec) MustEncode(a types.Address) string {
	s, err := c.Encode(a)
	if err != nil {
		panic(err)
	}
	return s
}

// Broadcast is the fleet-wide emergency topic.
func (c Codec) Broadcast() string { return c.Root + "/" + broadcastGroup + "/" + types.ActEmergency }

// Decode parses a topic addressed to this node or the broadcast topic.
func (c Codec) Decode(s string) (types.Address, error) {
	parts := strings.Split(s, "/")
	for _, p := range parts {
		if p == "" {
			return types.Address{}, errcode.New(errcode.InvalidTopic, "decode", fmt.Sprintf("empty segment in %q", s))
		}
	}
	if parts[0] != c.Root {
		return types.Address{}, errcode.New(errcode.InvalidTopic, "decode", fmt.Sprintf("root %q not %q", parts[0], c.Root))
	}
	if len(parts) == 3 && parts[1] == broadcastGroup && parts[2] == types.ActEmergency {
		return types.Address{Kind: types.KindBroadcast, Index: types.NoIndex, Action: types.ActEmergency}, nil
	}
	if len(parts) != 5 && len(parts) != 6 {
		return types.Address{}, errcode.New(errcode.InvalidTopic, "decode", fmt.Sprintf("%q has %d segments", s, len(parts)))
	}
	if parts[1] != c.Group || parts[2] != c.Node {
		return types.Address{}, errcode.New(errcode.InvalidTopic, "decode", fmt.Sprintf("%q not addressed to %s/%s", s, c.Group, c.Node))
	}

	a := types.Address{Group: parts[1], Node: parts[2], Kind: types.Kind(parts[3]), Index: types.NoIndex, Action: parts[len(parts)-1]}
	valid, ok := actions[a.Kind]
	if !ok {
		return types.Address{}, errcode.New(errcode.InvalidTopic, "decode", fmt.Sprintf("unknown kind %q", parts[3]))
	}
	indexed, ok := valid[a.Action]
	if !ok {
		return types.Address{}, errcode.New(errcode.InvalidTopic, "decode", fmt.Sprintf("action %q not valid for %s", a.Action, a.Kind))
	}
	if len(parts) == 6 {
		if !indexed {
			return types.Address{}, errcode.New(errcode.InvalidTopic, "decode", fmt.Sprintf("%s/%s takes no index", a.Kind, a.Action))
		}
		n, err := strconv.Atoi(parts[4])
		if err != nil || n < 0 || n > 255 {
			return types.Address{}, errcode.New(errcode.InvalidTopic, "decode", fmt.Sprintf("bad index %q", parts[4]))
		}
		a.Index = n
	} else if indexed && a.Action != types.ActEmergency {
		// Index-less form is only meaningful for the node-wide actuator emergency.
		return types.Address{}, errcode.New(errcode.InvalidTopic, "decode", fmt.Sprintf("%s/%s needs an index", a.Kind, a.Action))
	}
	return a, nil
}

// Filters lists the subscriptions the node needs for inbound traffic.
func (c Codec) Filters() []string {
	p := c.prefix()
	return []string{
		p + "/system/" + types.ActConfig,
		p + "/system/" + types.ActCommand,
		p + "/actuator/+/" + types.ActCommand,
		p + "/actuator/+/" + types.ActEmergency,
		p + "/actuator/" + types.ActEmergency,
		p + "/sensor/+/" + types.ActCommand,
		c.Broadcast(),
	}
}
