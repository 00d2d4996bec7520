package digital

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/types"
)

func TestLevels(t *testing.T) {
	board, _ := platform.LookupBoard("sim")
	sim := platform.NewSim(board)
	b, ok := core.LookupSensor(types.SensorDigital)
	require.True(t, ok)

	cfg := types.SensorConfig{Pin: 22, Type: types.SensorDigital}
	claim, err := b.Claims(cfg)
	require.NoError(t, err)
	assert.Equal(t, pins.ModeInput, claim.Mode)

	pin, _ := sim.Pin(22)
	drv, err := b.Build(core.SensorInput{Config: cfg, Pin: pin, HW: sim})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, drv.Init(ctx))
	assert.Equal(t, platform.PullUp, sim.Pull(22))

	s, err := drv.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Raw, "pull-up idles high")

	sim.Drive(22, false)
	s, err = drv.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Raw)
	assert.Equal(t, 0.0, s.Values[0].Value)
}
