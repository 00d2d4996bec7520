//go:build !linux

package platform

import "fieldnode-go/errcode"

// Periph is only available on Linux hosts.
type Periph struct{ Backend }

func NewPeriph(board Board, i2cBus, oneWireBus string) (*Periph, error) {
	return nil, errcode.New(errcode.Unsupported, "periph", "hardware backend requires linux")
}
