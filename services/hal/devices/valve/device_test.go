package valve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/types"
)

func build(t *testing.T, cfg types.ActuatorConfig) (*Device, *platform.Sim) {
	t.Helper()
	b, _ := platform.LookupBoard("sim")
	sim := platform.NewSim(b)
	bld, ok := core.LookupActuator(types.ActuatorValve)
	require.True(t, ok)
	claims, err := bld.Claims(cfg)
	require.NoError(t, err)
	var hw []platform.Pin
	for _, c := range claims {
		p, err := sim.Pin(c.Pin)
		require.NoError(t, err)
		hw = append(hw, p)
	}
	d, err := bld.Build(core.ActuatorInput{Config: cfg, Pins: hw, Log: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, d.Init())
	return d.(*Device), sim
}

func TestClaimsRequireAuxPin(t *testing.T) {
	bld, _ := core.LookupActuator("valve")
	_, err := bld.Claims(types.ActuatorConfig{Pin: 4, AuxPin: types.NoPin})
	assert.Equal(t, errcode.MissingField, errcode.Of(err))
	_, err = bld.Claims(types.ActuatorConfig{Pin: 4, AuxPin: 4})
	assert.Equal(t, errcode.InvalidField, errcode.Of(err))
}

func TestLatchingPulse(t *testing.T) {
	d, sim := build(t, types.ActuatorConfig{Pin: 4, AuxPin: 5, Type: "valve", Latching: true, PulseMs: 100})
	t0 := time.Unix(1000, 0)

	require.NoError(t, d.SetBinary(true))
	assert.True(t, sim.Level(4))
	assert.False(t, sim.Level(5))
	assert.Equal(t, types.ValveOpening, d.State().Position)

	require.NoError(t, d.Tick(t0))
	require.NoError(t, d.Tick(t0.Add(50*time.Millisecond)))
	assert.True(t, sim.Level(4))
	require.NoError(t, d.Tick(t0.Add(100*time.Millisecond)))
	assert.False(t, sim.Level(4), "open coil released after pulse")
	assert.Equal(t, types.ValveOpen, d.State().Position)
	assert.True(t, d.State().On)

	require.NoError(t, d.SetBinary(false))
	assert.True(t, sim.Level(5))
	require.NoError(t, d.Tick(t0.Add(time.Second)))
	require.NoError(t, d.Tick(t0.Add(2*time.Second)))
	assert.False(t, sim.Level(5))
	assert.Equal(t, types.ValveClosed, d.State().Position)
}

func TestHeldCoil(t *testing.T) {
	d, sim := build(t, types.ActuatorConfig{Pin: 4, AuxPin: 5, Type: "valve", DefaultState: true})
	assert.Equal(t, types.ValveOpen, d.State().Position)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Tick(time.Unix(int64(i), 0)))
	}
	assert.True(t, sim.Level(4), "non-latching valve keeps the open coil energised")
}

func TestInterlockViolation(t *testing.T) {
	d, sim := build(t, types.ActuatorConfig{Pin: 4, AuxPin: 5, Type: "valve"})
	// Simulate a welded driver stage: both coils high.
	require.NoError(t, d.open.Set(true))
	require.NoError(t, d.close.Set(true))
	err := d.Tick(time.Unix(0, 0))
	assert.Equal(t, errcode.EmergencyActive, errcode.Of(err))
	assert.False(t, sim.Level(4))
	assert.False(t, sim.Level(5))
}

func TestEmergencyClosesAndLatches(t *testing.T) {
	d, sim := build(t, types.ActuatorConfig{Pin: 4, AuxPin: 5, Type: "valve"})
	require.NoError(t, d.SetBinary(true))
	d.EmergencyStop("operator")
	assert.False(t, sim.Level(4))
	assert.Equal(t, types.ValveClosing, d.State().Position)
	assert.Equal(t, errcode.EmergencyActive, errcode.Of(d.SetValue(1)))
}
