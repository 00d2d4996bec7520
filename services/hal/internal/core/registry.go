package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	regMu     sync.RWMutex
	actuators = map[string]ActuatorBuilder{}
	sensors   = map[string]SensorBuilder{}
)

// RegisterActuator binds a type string to a builder. Called from init().
func RegisterActuator(typ string, b ActuatorBuilder) {
	regMu.Lock()
	defer regMu.Unlock()
	typ = strings.ToLower(typ)
	if _, exists := actuators[typ]; exists {
		panic(fmt.Sprintf("duplicate actuator builder: %s", typ))
	}
	actuators[typ] = b
}

// RegisterSensor binds a type string to a builder. Called from init().
func RegisterSensor(typ string, b SensorBuilder) {
	regMu.Lock()
	defer regMu.Unlock()
	typ = strings.ToLower(typ)
	if _, exists := sensors[typ]; exists {
		panic(fmt.Sprintf("duplicate sensor builder: %s", typ))
	}
	sensors[typ] = b
}

func LookupActuator(typ string) (ActuatorBuilder, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	b, ok := actuators[strings.ToLower(typ)]
	return b, ok
}

func LookupSensor(typ string) (SensorBuilder, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	b, ok := sensors[strings.ToLower(typ)]
	return b, ok
}

// ActuatorTypes lists registered actuator types.
func ActuatorTypes() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(actuators))
	for k := range actuators {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SensorTypes lists registered sensor types.
func SensorTypes() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(sensors))
	for k := range sensors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
