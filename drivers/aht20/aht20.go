// Package aht20 is a split-phase driver for the AHT20 temperature/humidity
// sensor:
//
//	d.Trigger()          // start a conversion (one short write)
//	s, err := d.Collect() // ErrNotReady while the sensor is still busy
//
// Fixed-point helpers return tenths of units.
//
// I2C.Tx must issue a repeated-start read when both w and r are given.
package aht20

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Address is the fixed 7-bit bus address.
const Address = 0x38

// ConversionTime is the datasheet measurement time.
const ConversionTime = 80 * time.Millisecond

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

var (
	ErrNotReady     = errors.New("aht20: not ready")
	ErrUncalibrated = errors.New("aht20: calibration bit not set")
	ErrCRC          = errors.New("aht20: crc mismatch")
)

type Device struct {
	bus  drivers.I2C
	addr uint16
	buf  [7]byte
}

// New returns a driver bound to bus. addr 0 selects Address.
func New(bus drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = Address
	}
	return &Device{bus: bus, addr: addr}
}

func (d *Device) Addr() uint16 { return d.addr }

// Status reads the status byte.
func (d *Device) Status() (byte, error) {
	var b [1]byte
	if err := d.bus.Tx(d.addr, []byte{cmdStatus}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Init loads the calibration coefficients when the sensor reports it has
// not done so. It does not wait; the first Trigger should come >10 ms later.
func (d *Device) Init() error {
	st, err := d.Status()
	if err != nil {
		return err
	}
	if st&statusCalibrated != 0 {
		return nil
	}
	return d.bus.Tx(d.addr, []byte{cmdInitialize, 0x08, 0x00}, nil)
}

// Reset issues a soft reset. The sensor needs ~20 ms afterwards.
func (d *Device) Reset() error {
	return d.bus.Tx(d.addr, []byte{cmdSoftReset}, nil)
}

// Trigger starts a measurement.
func (d *Device) Trigger() error {
	return d.bus.Tx(d.addr, []byte{cmdTrigger, 0x33, 0x00}, nil)
}

// Collect reads the finished measurement.
func (d *Device) Collect() (Sample, error) {
	data := d.buf[:]
	if err := d.bus.Tx(d.addr, nil, data); err != nil {
		return Sample{}, err
	}
	if data[0]&statusBusy != 0 {
		return Sample{}, ErrNotReady
	}
	if data[0]&statusCalibrated == 0 {
		return Sample{}, ErrUncalibrated
	}
	if CRC8(data[:6]) != data[6] {
		return Sample{}, ErrCRC
	}
	return Sample{
		RawHumidity: uint32(data[1])<<12 | uint32(data[2])<<4 | uint32(data[3])>>4,
		RawTemp:     uint32(data[3]&0x0F)<<16 | uint32(data[4])<<8 | uint32(data[5]),
	}, nil
}

// CRC8 is the sensor's checksum: polynomial 0x31, init 0xFF.
func CRC8(b []byte) byte {
	crc := byte(0xFF)
	for _, v := range b {
		crc ^= v
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Sample holds the 20-bit raw readings.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

func (s Sample) DeciRelHumidity() int32 {
	return int32(int64(s.RawHumidity) * 1000 / 0x100000)
}

func (s Sample) DeciCelsius() int32 {
	return int32(int64(s.RawTemp)*2000/0x100000) - 500
}
