package platform

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"fieldnode-go/errcode"
)

// Board describes what the hardware variant offers: the GPIO range, the pins
// the system keeps for itself, pin capabilities and registry capacities.
type Board struct {
	Name      string `yaml:"name"`
	GPIOMin   int    `yaml:"gpio_min"`
	GPIOMax   int    `yaml:"gpio_max"`
	Reserved  []int  `yaml:"reserved"`
	InputOnly []int  `yaml:"input_only"`
	// PWM lists PWM-capable pins. Empty means every output-capable pin.
	PWM []int `yaml:"pwm"`

	ActuatorSlots int `yaml:"actuator_slots"`
	SensorSlots   int `yaml:"sensor_slots"`
}

func (b Board) InRange(n int) bool    { return n >= b.GPIOMin && n <= b.GPIOMax }
func (b Board) IsReserved(n int) bool { return slices.Contains(b.Reserved, n) }
func (b Board) CanOutput(n int) bool  { return b.InRange(n) && !slices.Contains(b.InputOnly, n) }

func (b Board) CanPWM(n int) bool {
	if !b.CanOutput(n) {
		return false
	}
	return len(b.PWM) == 0 || slices.Contains(b.PWM, n)
}

// Validate checks internal consistency.
func (b Board) Validate() error {
	switch {
	case b.Name == "":
		return errcode.New(errcode.InvalidField, "board", "name is empty")
	case b.GPIOMax < b.GPIOMin || b.GPIOMin < 0:
		return errcode.New(errcode.OutOfRange, "board", fmt.Sprintf("gpio range %d..%d", b.GPIOMin, b.GPIOMax))
	case b.ActuatorSlots <= 0 || b.SensorSlots <= 0:
		return errcode.New(errcode.OutOfRange, "board", "slot counts must be positive")
	}
	for _, n := range b.Reserved {
		if !b.InRange(n) {
			return errcode.New(errcode.OutOfRange, "board", fmt.Sprintf("reserved pin %d outside range", n))
		}
	}
	return nil
}

// Raspberry Pi header numbering (BCM). 0/1 carry the HAT EEPROM, 2/3 the
// shared I²C bus, 14/15 the console UART.
var rpiReserved = []int{0, 1, 2, 3, 14, 15}

var builtin = map[string]Board{
	"rpi": {
		Name: "rpi", GPIOMin: 0, GPIOMax: 27,
		Reserved:      rpiReserved,
		PWM:           []int{12, 13, 18, 19},
		ActuatorSlots: 12, SensorSlots: 20,
	},
	"rpi-zero": {
		Name: "rpi-zero", GPIOMin: 0, GPIOMax: 27,
		Reserved:      rpiReserved,
		PWM:           []int{12, 13, 18, 19},
		ActuatorSlots: 8, SensorSlots: 10,
	},
	// Bench/simulation board shaped like a 40-pin module with flash pins
	// and input-only lines.
	"sim": {
		Name: "sim", GPIOMin: 0, GPIOMax: 39,
		Reserved:      []int{1, 3, 6, 7, 8, 9, 10, 11},
		InputOnly:     []int{34, 35, 36, 37, 38, 39},
		ActuatorSlots: 12, SensorSlots: 20,
	},
}

// LookupBoard returns a built-in board by name.
func LookupBoard(name string) (Board, error) {
	b, ok := builtin[name]
	if !ok {
		return Board{}, errcode.New(errcode.UnknownType, "board", name)
	}
	return b, nil
}

// LoadBoardFile reads a custom board definition from a YAML file.
func LoadBoardFile(path string) (Board, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Board{}, fmt.Errorf("read board file: %w", err)
	}
	var b Board
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return Board{}, errcode.Wrap(errcode.InvalidPayload, "board", err)
	}
	if err := b.Validate(); err != nil {
		return Board{}, err
	}
	return b, nil
}
