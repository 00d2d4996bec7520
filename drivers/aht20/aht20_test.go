package aht20

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus scripts an AHT20: the frame returned by a bare read is built from
// the configured raw values.
type fakeBus struct {
	status     byte
	busyReads  int
	hraw, traw uint32
	corrupt    bool
	writes     [][]byte
	fail       error
}

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if f.fail != nil {
		return f.fail
	}
	if addr != Address {
		return errors.New("nack")
	}
	if len(w) > 0 {
		f.writes = append(f.writes, append([]byte(nil), w...))
	}
	switch {
	case len(w) == 1 && w[0] == cmdStatus && len(r) == 1:
		r[0] = f.status
	case len(w) == 0 && len(r) == 7:
		st := f.status
		if f.busyReads > 0 {
			f.busyReads--
			st |= statusBusy
		}
		r[0] = st
		r[1] = byte(f.hraw >> 12)
		r[2] = byte(f.hraw >> 4)
		r[3] = byte(f.hraw<<4) | byte(f.traw>>16&0x0F)
		r[4] = byte(f.traw >> 8)
		r[5] = byte(f.traw)
		r[6] = CRC8(r[:6])
		if f.corrupt {
			r[6] ^= 0xFF
		}
	}
	return nil
}

func TestInitOnlyWhenUncalibrated(t *testing.T) {
	bus := &fakeBus{status: statusCalibrated}
	d := New(bus, 0)
	require.NoError(t, d.Init())
	assert.Len(t, bus.writes, 1, "status read only")

	bus = &fakeBus{}
	d = New(bus, 0)
	require.NoError(t, d.Init())
	require.Len(t, bus.writes, 2)
	assert.Equal(t, []byte{cmdInitialize, 0x08, 0x00}, bus.writes[1])
}

func TestTriggerCollect(t *testing.T) {
	// 25.0 °C, 55.0 %RH
	bus := &fakeBus{status: statusCalibrated, busyReads: 1, traw: 393_216, hraw: 576_717}
	d := New(bus, Address)
	require.NoError(t, d.Trigger())

	_, err := d.Collect()
	assert.ErrorIs(t, err, ErrNotReady)

	s, err := d.Collect()
	require.NoError(t, err)
	assert.Equal(t, int32(250), s.DeciCelsius())
	assert.Equal(t, int32(550), s.DeciRelHumidity())
}

func TestCollectErrors(t *testing.T) {
	bus := &fakeBus{status: statusCalibrated, corrupt: true}
	d := New(bus, 0)
	_, err := d.Collect()
	assert.ErrorIs(t, err, ErrCRC)

	bus = &fakeBus{status: 0}
	d = New(bus, 0)
	_, err = d.Collect()
	assert.ErrorIs(t, err, ErrUncalibrated)

	boom := errors.New("bus stuck")
	d = New(&fakeBus{fail: boom}, 0)
	_, err = d.Collect()
	assert.ErrorIs(t, err, boom)
}

func TestCRC8KnownVector(t *testing.T) {
	// Sensirion reference: 0xBEEF -> 0x92
	assert.Equal(t, byte(0x92), CRC8([]byte{0xBE, 0xEF}))
}
