// Package platform abstracts the node's GPIO lines and buses. Two backends
// exist: periph.io on Linux hosts and an in-memory simulation used by tests
// and bench runs.
package platform

import (
	"periph.io/x/conn/v3/onewire"
	"tinygo.org/x/drivers"
)

// Pull selects the input bias.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Pin is a single hardware line. The Pin Ledger hands a Pin to the owner that
// acquired it; nothing else drives it.
type Pin interface {
	Number() int
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	// ConfigurePWM switches the line to PWM at freqHz with duty 0.
	ConfigurePWM(freqHz uint32) error
	Set(level bool) error
	Get() bool
	// SetDuty sets the PWM duty, 0..255.
	SetDuty(duty uint8) error
}

// Backend exposes the lines and buses of one board.
type Backend interface {
	Pin(n int) (Pin, error)
	// I2C returns the board's shared I²C bus.
	I2C() (drivers.I2C, error)
	// OneWire returns the 1-Wire bus whose data line is pin.
	OneWire(pin int) (onewire.Bus, error)
	Close() error
}

// SafeState drives p to the boot-safe state: input with pull-up.
func SafeState(p Pin) error {
	return p.ConfigureInput(PullUp)
}
