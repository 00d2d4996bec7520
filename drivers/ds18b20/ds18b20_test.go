package ds18b20

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/onewire"
)

type fakeBus struct {
	pad    [9]byte
	writes [][]byte
	pulls  []onewire.Pullup
}

func (f *fakeBus) String() string { return "fake-w1" }

func (f *fakeBus) Tx(w, r []byte, power onewire.Pullup) error {
	f.writes = append(f.writes, append([]byte(nil), w...))
	f.pulls = append(f.pulls, power)
	copy(r, f.pad[:])
	return nil
}

func (f *fakeBus) Search(bool) ([]onewire.Address, error) { return nil, nil }

func padFor(raw int16) [9]byte {
	var p [9]byte
	p[0], p[1] = byte(raw), byte(uint16(raw)>>8)
	p[4] = 0x7F // 12-bit config
	p[8] = CRC8(p[:8])
	return p
}

func TestConvertAndRead(t *testing.T) {
	bus := &fakeBus{pad: padFor(0x0191)} // 25.0625 °C
	d := New(bus, 0)
	require.NoError(t, d.Trigger())
	assert.Equal(t, []byte{cmdSkipROM, cmdConvert}, bus.writes[0])
	assert.Equal(t, onewire.StrongPullup, bus.pulls[0])

	s, err := d.Collect()
	require.NoError(t, err)
	assert.InDelta(t, 25.0625, s.Celsius(), 1e-9)
	assert.False(t, s.Fault())
	assert.Equal(t, 750*time.Millisecond, d.ConversionTime())
}

func TestNegative(t *testing.T) {
	d := New(&fakeBus{pad: padFor(-0x0190)}, 0) // -25.0 °C
	s, err := d.Collect()
	require.NoError(t, err)
	assert.InDelta(t, -25.0, s.Celsius(), 1e-9)
}

func TestSentinels(t *testing.T) {
	d := New(&fakeBus{pad: padFor(PowerOnRaw)}, 0)
	s, err := d.Collect()
	require.NoError(t, err)
	assert.Equal(t, 85.0, s.Celsius())
	assert.True(t, s.Fault())

	var ones [9]byte
	for i := range ones {
		ones[i] = 0xFF
	}
	d = New(&fakeBus{pad: ones}, 0)
	s, err = d.Collect()
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.True(t, s.Fault())
	assert.Equal(t, DisconnectedC, s.Celsius())
}

func TestCRCMismatch(t *testing.T) {
	p := padFor(0x0191)
	p[8] ^= 0x01
	_, err := New(&fakeBus{pad: p}, 0).Collect()
	assert.ErrorIs(t, err, ErrCRC)
}

func TestMatchROM(t *testing.T) {
	addr, err := ParseAddress("28ff641e8316c3a1")
	require.NoError(t, err)
	assert.Equal(t, byte(0x28), byte(addr), "family code in the low byte")

	bus := &fakeBus{pad: padFor(0)}
	require.NoError(t, New(bus, addr).Trigger())
	w := bus.writes[0]
	require.Len(t, w, 10)
	assert.Equal(t, byte(cmdMatchROM), w[0])
	assert.Equal(t, []byte{0x28, 0xff, 0x64, 0x1e, 0x83, 0x16, 0xc3, 0xa1}, w[1:9])
	assert.Equal(t, byte(cmdConvert), w[9])

	_, err = ParseAddress("10ff641e8316c3a1")
	assert.Error(t, err)
	_, err = ParseAddress("28ff")
	assert.Error(t, err)
}

func TestCRC8MaximVector(t *testing.T) {
	// ROM 02 1C B8 01 00 00 00 has CRC 0xA2 (Maxim AN27).
	assert.Equal(t, byte(0xA2), CRC8([]byte{0x02, 0x1C, 0xB8, 0x01, 0x00, 0x00, 0x00}))
}
