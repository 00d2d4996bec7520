package configproto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fieldnode-go/errcode"
	_ "fieldnode-go/services/hal/devices/binary"
	_ "fieldnode-go/services/hal/devices/digital"
	_ "fieldnode-go/services/hal/devices/valve"
	"fieldnode-go/services/hal/internal/actuators"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/services/hal/internal/sensors"
	"fieldnode-go/services/hal/internal/store"
	"fieldnode-go/types"
)

var t0 = time.Unix(1_700_000_000, 0)

type rig struct {
	ledger *pins.Ledger
	kv     *store.Mem
	act    *actuators.Registry
	sen    *sensors.Registry
	p      *Protocol
}

func newRig(t *testing.T) *rig {
	t.Helper()
	board, _ := platform.LookupBoard("rpi")
	sim := platform.NewSim(board)
	log := zaptest.NewLogger(t)
	ledger := pins.New(board, sim, log)
	require.NoError(t, ledger.Boot())
	kv := store.NewMem()
	act := actuators.New(ledger, kv, board.ActuatorSlots, log)
	sen := sensors.New(ledger, sim, kv, board.SensorSlots, time.Minute, log)
	act.SetPeer(sen)
	sen.SetPeer(act)
	p, err := New(act, sen, log)
	require.NoError(t, err)
	p.newID = func() string { return "corr-1" }
	return &rig{ledger: ledger, kv: kv, act: act, sen: sen, p: p}
}

func (r *rig) apply(msg string) []types.ConfigAck {
	return r.p.Apply(context.Background(), []byte(msg), t0)
}

func TestScenarioAddThenRemove(t *testing.T) {
	r := newRig(t)
	acks := r.apply(`{"actuators":[{"gpio":5,"actuator_type":"binary","actuator_name":"pump","active":true}]}`)
	require.Len(t, acks, 1)
	assert.Equal(t, types.AckActuator, acks[0].Type)
	assert.Equal(t, 1, acks[0].SuccessCount)
	assert.True(t, acks[0].Success)
	assert.Equal(t, "corr-1", acks[0].CorrelationID)
	assert.False(t, r.ledger.IsAvailable(5))

	acks = r.apply(`{"actuators":[{"gpio":5,"actuator_type":"binary","actuator_name":"pump","active":false}]}`)
	require.Len(t, acks, 1)
	assert.Equal(t, 1, acks[0].SuccessCount)
	assert.True(t, r.ledger.IsAvailable(5))

	set, _ := store.LoadSet[types.ActuatorConfig](r.kv, store.Actuators)
	assert.Empty(t, set)
}

func TestScenarioCrossKindConflict(t *testing.T) {
	r := newRig(t)
	acks := r.apply(`{"actuators":[{"gpio":7,"type":"relay","name":"lamp"}]}`)
	require.Equal(t, 1, acks[0].SuccessCount)

	acks = r.apply(`{"sensors":[{"gpio":7,"type":"digital","name":"door"}]}`)
	require.Len(t, acks, 1)
	assert.Equal(t, types.AckSensor, acks[0].Type)
	assert.Equal(t, 1, acks[0].FailCount)
	assert.Equal(t, string(errcode.PinConflict), acks[0].Failures[0].ErrorCode)
	assert.Equal(t, 7, acks[0].Failures[0].Pin)

	_, ok := r.act.Config(7)
	assert.True(t, ok, "actuator intact")
}

func TestPinMovesKindWithinBatch(t *testing.T) {
	r := newRig(t)
	r.apply(`{"actuators":[{"gpio":7,"type":"relay","name":"lamp"}]}`)
	acks := r.apply(`{
		"sensors":[{"pin":7,"sensor_type":"digital","sensor_name":"door","mode":"on_demand"}],
		"actuators":[{"gpio":7,"active":false}]
	}`)
	require.Len(t, acks, 2)
	for _, a := range acks {
		assert.True(t, a.Success, a.Type)
	}
	assert.True(t, r.sen.Has(7))
	assert.False(t, r.act.Has(7))
}

func TestPerItemFailuresDoNotAbortBatch(t *testing.T) {
	r := newRig(t)
	acks := r.apply(`{"actuators":[
		{"gpio":17,"type":"relay","name":"a"},
		{"gpio":14,"type":"relay","name":"reserved"},
		{"type":"relay","name":"nopin"},
		{"gpio":18,"type":"relay"},
		{"gpio":19,"type":"relay","name":"b","default_pwm":300},
		{"gpio":20,"type":"relay","name":"c","active":"yes"},
		{"gpio":21,"type":"teleporter","name":"d"},
		{"gpio":22,"type":"relay","name":"e","extra":{"ignored":true}}
	]}`)
	require.Len(t, acks, 1)
	a := acks[0]
	assert.Equal(t, 2, a.SuccessCount)
	assert.Equal(t, 6, a.FailCount)
	assert.False(t, a.Success)

	codes := map[int]string{}
	for _, f := range a.Failures {
		codes[f.Index] = f.ErrorCode
	}
	assert.Equal(t, map[int]string{
		1: string(errcode.PinReserved),
		2: string(errcode.MissingField),
		3: string(errcode.MissingField),
		4: string(errcode.OutOfRange),
		5: string(errcode.InvalidField),
		6: string(errcode.UnknownType),
	}, codes)
}

func TestStructuralFailureTouchesNothing(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"actuators":[`,
		"not an object":  `[1,2,3]`,
		"no known keys":  `{"relays":[]}`,
		"items not objs": `{"actuators":[5]}`,
		"trailing data":  `{"actuators":[]} x`,
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			r := newRig(t)
			acks := r.apply(msg)
			require.Len(t, acks, 1)
			assert.Equal(t, types.AckConfig, acks[0].Type)
			assert.Equal(t, string(errcode.InvalidPayload), acks[0].Failures[0].ErrorCode)
			assert.NotEmpty(t, acks[0].Failures[0].Detail)
			assert.Zero(t, r.act.Len())
			_, err := r.kv.Get(store.Actuators, "count")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestSensorAliases(t *testing.T) {
	r := newRig(t)
	acks := r.apply(`{"sensors":[
		{"pin":22,"type":"digital","name":"float","zone":"tank","mode":"continuous","measurement_interval":2.5},
		{"gpio":23,"sensor_type":"DIGITAL","sensor_name":"door","subzone_id":"z2","operating_mode":"on-demand","interval_ms":500}
	]}`)
	require.Len(t, acks, 1)
	require.True(t, acks[0].Success, "%+v", acks[0].Failures)

	c, _ := r.sen.Config(22)
	assert.Equal(t, uint32(2500), c.IntervalMs)
	assert.Equal(t, "tank", c.Zone)
	c, _ = r.sen.Config(23)
	assert.Equal(t, types.ModeOnDemand, c.Mode)
	assert.Equal(t, types.SensorDigital, c.Type)
	assert.Equal(t, "z2", c.Zone)
}

func TestActuatorFields(t *testing.T) {
	r := newRig(t)
	acks := r.apply(`{"actuators":[{"gpio":22,"aux_pin":23,"type":"valve","name":"main","latching":true,
		"pulse_ms":250,"critical":true,"max_runtime_ms":60000}]}`)
	require.True(t, acks[0].Success, "%+v", acks[0].Failures)
	c, _ := r.act.Config(22)
	assert.Equal(t, 23, c.AuxPin)
	assert.True(t, c.Latching)
	assert.True(t, c.Critical)
	assert.Equal(t, uint32(250), c.PulseMs)
	assert.Equal(t, uint32(60000), c.MaxRuntimeMs)
}

func TestPersistFailureReported(t *testing.T) {
	r := newRig(t)
	r.kv.FailWrites(errors.New("flash worn out"))
	acks := r.apply(`{"actuators":[{"gpio":17,"type":"relay","name":"a"}]}`)
	require.Len(t, acks, 1)
	assert.Equal(t, 1, acks[0].SuccessCount)
	require.Equal(t, 1, acks[0].FailCount)
	assert.Equal(t, -1, acks[0].Failures[0].Index)
	assert.Equal(t, string(errcode.PersistFailed), acks[0].Failures[0].ErrorCode)
}

func TestFullSetPersisted(t *testing.T) {
	r := newRig(t)
	r.apply(`{"actuators":[{"gpio":17,"type":"relay","name":"a"},{"gpio":27,"type":"relay","name":"b"}]}`)
	r.apply(`{"actuators":[{"gpio":4,"type":"relay","name":"c"}]}`)
	set, errs := store.LoadSet[types.ActuatorConfig](r.kv, store.Actuators)
	assert.Empty(t, errs)
	require.Len(t, set, 3)
	assert.Equal(t, []int{4, 17, 27}, []int{set[0].Pin, set[1].Pin, set[2].Pin})
}
