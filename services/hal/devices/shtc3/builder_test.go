package shtc3dev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/types"
)

type chip struct {
	rawT, rawH uint16
	cmds       int
}

func (c *chip) Tx(w, r []byte) error {
	c.cmds++
	if len(r) == 6 {
		r[0], r[1] = byte(c.rawT>>8), byte(c.rawT)
		r[3], r[4] = byte(c.rawH>>8), byte(c.rawH)
	}
	return nil
}

func setup(t *testing.T, dev platform.I2CDevice) (*platform.Sim, core.SensorDriver) {
	t.Helper()
	board, _ := platform.LookupBoard("sim")
	sim := platform.NewSim(board)
	if dev != nil {
		sim.AttachI2C(0x70, dev)
	}
	b, ok := core.LookupSensor(types.SensorSHTC3)
	require.True(t, ok)
	cfg := types.SensorConfig{Pin: 5, Type: types.SensorSHTC3}
	claim, err := b.Claims(cfg)
	require.NoError(t, err)
	pin, _ := sim.Pin(claim.Pin)
	drv, err := b.Build(core.SensorInput{Config: cfg, Pin: pin, HW: sim, Log: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return sim, drv
}

func TestMeasure(t *testing.T) {
	sim, drv := setup(t, &chip{rawT: 26214, rawH: 32768})
	ctx := context.Background()
	require.NoError(t, drv.Init(ctx))
	assert.True(t, sim.Level(5))

	_, err := drv.Trigger(ctx)
	require.NoError(t, err)
	s, err := drv.Collect(ctx)
	require.NoError(t, err)
	assert.False(t, s.Fault)
	require.Len(t, s.Values, 2)
	assert.InDelta(t, 25.0, s.Values[0].Value, 0.11)
	assert.InDelta(t, 50.0, s.Values[1].Value, 1e-9)
}

func TestZeroFrameIsFault(t *testing.T) {
	_, drv := setup(t, &chip{})
	ctx := context.Background()
	require.NoError(t, drv.Init(ctx))
	_, err := drv.Trigger(ctx)
	require.NoError(t, err)
	s, err := drv.Collect(ctx)
	require.NoError(t, err)
	assert.True(t, s.Fault)
}

func TestAbsentChip(t *testing.T) {
	_, drv := setup(t, nil)
	err := drv.Init(context.Background())
	assert.Equal(t, errcode.DriverInitFailed, errcode.Of(err))
}
