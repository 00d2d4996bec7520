// Package ds18b20 is a split-phase driver for the DS18B20 1-Wire
// temperature sensor on a periph.io onewire.Bus.
//
//	d.Trigger()           // Convert T with strong pull-up
//	s, err := d.Collect() // after ConversionTime(resolution)
package ds18b20

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/onewire"
)

const (
	cmdSkipROM   = 0xCC
	cmdMatchROM  = 0x55
	cmdConvert   = 0x44
	cmdReadPad   = 0xBE
	FamilyCode   = 0x28
	scratchpadSz = 9
)

// Fault sentinels.
const (
	// PowerOnRaw is the register value before any conversion (85.0 °C).
	PowerOnRaw int16 = 0x0550
	// DisconnectedC is reported for a missing or shorted device.
	DisconnectedC = -127.0
)

var (
	ErrCRC          = errors.New("ds18b20: scratchpad crc mismatch")
	ErrDisconnected = errors.New("ds18b20: no response")
)

// Device addresses one sensor. Addr 0 uses Skip ROM, valid only when the
// sensor is alone on its bus.
type Device struct {
	bus  onewire.Bus
	addr onewire.Address
	bits int
}

// New returns a driver at 12-bit resolution.
func New(bus onewire.Bus, addr onewire.Address) *Device {
	return &Device{bus: bus, addr: addr, bits: 12}
}

// ParseAddress parses a 16-hex-digit ROM code as printed by the Linux w1
// subsystem and most tools (family code first, e.g. "28ff641e8316c3a1").
func ParseAddress(s string) (onewire.Address, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("ds18b20: address %q must be 16 hex digits", s)
	}
	rom, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("ds18b20: address %q: %w", s, err)
	}
	if rom[0] != FamilyCode {
		return 0, fmt.Errorf("ds18b20: family 0x%02x is not a DS18B20", rom[0])
	}
	// onewire.Address is little-endian: family code in the low byte.
	var a onewire.Address
	for i := 7; i >= 0; i-- {
		a = a<<8 | onewire.Address(rom[i])
	}
	return a, nil
}

// ConversionTime returns the conversion time for the configured resolution.
func (d *Device) ConversionTime() time.Duration {
	return 750 * time.Millisecond >> (12 - d.bits)
}

func (d *Device) selectCmd(cmd byte) []byte {
	if d.addr == 0 {
		return []byte{cmdSkipROM, cmd}
	}
	w := make([]byte, 0, 10)
	w = append(w, cmdMatchROM)
	for i := 0; i < 8; i++ {
		w = append(w, byte(d.addr>>(8*i)))
	}
	return append(w, cmd)
}

// Trigger starts a temperature conversion, powering the bus strongly.
func (d *Device) Trigger() error {
	return d.bus.Tx(d.selectCmd(cmdConvert), nil, onewire.StrongPullup)
}

// Collect reads the scratchpad and returns the raw temperature register.
func (d *Device) Collect() (Sample, error) {
	var pad [scratchpadSz]byte
	if err := d.bus.Tx(d.selectCmd(cmdReadPad), pad[:], onewire.WeakPullup); err != nil {
		return Sample{}, err
	}
	if allOnes(pad[:]) {
		return Sample{Raw: -1, Disconnected: true}, ErrDisconnected
	}
	if CRC8(pad[:8]) != pad[8] {
		return Sample{}, ErrCRC
	}
	return Sample{Raw: int16(uint16(pad[1])<<8 | uint16(pad[0]))}, nil
}

func allOnes(b []byte) bool {
	for _, v := range b {
		if v != 0xFF {
			return false
		}
	}
	return true
}

// CRC8 is the Maxim 1-Wire CRC (reflected polynomial 0x8C).
func CRC8(b []byte) byte {
	var crc byte
	for _, v := range b {
		for i := 0; i < 8; i++ {
			mix := (crc ^ v) & 0x01
			crc >>= 1
			if mix != 0 {
				crc ^= 0x8C
			}
			v >>= 1
		}
	}
	return crc
}

// Sample is one raw reading in 1/16 °C.
type Sample struct {
	Raw          int16
	Disconnected bool
}

func (s Sample) Celsius() float64 {
	if s.Disconnected {
		return DisconnectedC
	}
	return float64(s.Raw) / 16
}

// Fault reports whether the reading is a known-bad sentinel.
func (s Sample) Fault() bool {
	return s.Disconnected || s.Raw == PowerOnRaw
}
