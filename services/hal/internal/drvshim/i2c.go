// Package drvshim adapts HAL buses to third-party driver shapes.
package drvshim

import "tinygo.org/x/drivers"

// LatchI2C passes transfers through to a drivers.I2C and remembers the first
// error. Some tinygo drivers discard Tx errors; the caller checks Err after
// each driver call.
type LatchI2C struct {
	bus drivers.I2C
	err error
}

func NewLatchI2C(bus drivers.I2C) *LatchI2C { return &LatchI2C{bus: bus} }

func (s *LatchI2C) Tx(addr uint16, w, r []byte) error {
	err := s.bus.Tx(addr, w, r)
	if err != nil && s.err == nil {
		s.err = err
	}
	return err
}

// Err returns and clears the latched error.
func (s *LatchI2C) Err() error {
	err := s.err
	s.err = nil
	return err
}
