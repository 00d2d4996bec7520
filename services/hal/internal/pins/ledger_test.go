package pins

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/platform"
)

func newLedger(t *testing.T) (*Ledger, *platform.Sim) {
	t.Helper()
	b, err := platform.LookupBoard("sim")
	require.NoError(t, err)
	sim := platform.NewSim(b)
	return New(b, sim, zaptest.NewLogger(t)), sim
}

var pump = Owner{Kind: OwnerActuator, ID: "pump-1"}

func TestBootDrivesSafeState(t *testing.T) {
	l, sim := newLedger(t)
	require.NoError(t, l.Boot())
	assert.Equal(t, platform.SimInput, sim.Mode(5))
	assert.Equal(t, platform.PullUp, sim.Pull(5))
	assert.Equal(t, platform.SimUnconfigured, sim.Mode(6), "reserved pins are left alone")
}

func TestBootFailure(t *testing.T) {
	l, sim := newLedger(t)
	sim.FailPin(12, errors.New("latched"))
	err := l.Boot()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GPIO12")
}

func TestAcquireRules(t *testing.T) {
	l, _ := newLedger(t)

	_, err := l.Acquire(5, ModeOutput, pump)
	require.NoError(t, err)

	cases := []struct {
		name string
		pin  int
		want errcode.Code
	}{
		{"held", 5, errcode.PinInUse},
		{"reserved", 6, errcode.PinReserved},
		{"out of range", 40, errcode.UnknownPin},
		{"negative", -1, errcode.UnknownPin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Acquire(tc.pin, ModeInput, Owner{Kind: OwnerSensor, ID: "s"})
			assert.Equal(t, tc.want, errcode.Of(err))
		})
	}

	o, ok := l.Owner(5)
	require.True(t, ok)
	assert.Equal(t, pump, o, "failed acquires never change the holder")
}

func TestReleaseReturnsPinToSafeState(t *testing.T) {
	l, sim := newLedger(t)
	p, err := l.Acquire(5, ModeOutput, pump)
	require.NoError(t, err)
	require.NoError(t, p.ConfigureOutput(true))
	assert.False(t, l.IsAvailable(5))

	l.Release(5)
	assert.True(t, l.IsAvailable(5))
	assert.Equal(t, platform.SimInput, sim.Mode(5))
	_, held := l.Owner(5)
	assert.False(t, held)

	// Idempotent.
	l.Release(5)
	assert.Equal(t, 0, l.Held())
}

func TestExclusivityUnderInterleaving(t *testing.T) {
	l, _ := newLedger(t)
	owners := []Owner{
		{Kind: OwnerActuator, ID: "a"},
		{Kind: OwnerSensor, ID: "b"},
		{Kind: OwnerActuator, ID: "c"},
	}
	granted := map[int]int{}
	for round := 0; round < 20; round++ {
		for i, o := range owners {
			pin := 12 + (round+i)%4
			if _, err := l.Acquire(pin, ModeOutput, o); err == nil {
				granted[pin]++
			}
			if round%3 == i {
				l.Release(pin)
				granted[pin]--
				if granted[pin] < 0 {
					granted[pin] = 0
				}
			}
		}
		for pin, n := range granted {
			assert.LessOrEqual(t, n, 1, "GPIO%d granted twice", pin)
		}
	}
}

func TestSnapshot(t *testing.T) {
	l, _ := newLedger(t)
	_, _ = l.Acquire(13, ModePWM, pump)
	snap := l.Snapshot()
	require.NotEmpty(t, snap)
	for i := 1; i < len(snap); i++ {
		assert.Less(t, snap[i-1].Pin, snap[i].Pin)
	}
	var found bool
	for _, in := range snap {
		if in.Pin == 13 {
			found = true
			assert.Equal(t, ModePWM, in.Mode)
		}
	}
	assert.True(t, found)
}
