package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldnode-go/errcode"
	"fieldnode-go/types"
)

func sampleSet() []types.ActuatorConfig {
	return []types.ActuatorConfig{
		{Pin: 17, AuxPin: types.NoPin, Type: "binary", Name: "pump", Active: true, MaxRuntimeMs: 60000},
		{Pin: 22, AuxPin: 23, Type: "valve", Name: "main", Zone: "z1", Active: true, Latching: true, PulseMs: 300},
		{Pin: 18, AuxPin: types.NoPin, Type: "pwm", Name: "fan", Active: true, InvertedLogic: true, DefaultPWM: 128},
	}
}

func kvs(t *testing.T) map[string]KV {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	return map[string]KV{"mem": NewMem(), "file": f}
}

func TestRoundTrip(t *testing.T) {
	for name, kv := range kvs(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleSet()
			require.NoError(t, SaveSet(kv, Actuators, want))
			got, errs := LoadSet[types.ActuatorConfig](kv, Actuators)
			assert.Empty(t, errs)
			assert.Equal(t, want, got)
		})
	}
}

func TestShrinkDeletesStaleSlots(t *testing.T) {
	for name, kv := range kvs(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, SaveSet(kv, Actuators, sampleSet()))
			require.NoError(t, SaveSet(kv, Actuators, sampleSet()[:1]))
			_, err := kv.Get(Actuators, SlotKey(2))
			assert.ErrorIs(t, err, ErrNotFound)
			got, _ := LoadSet[types.ActuatorConfig](kv, Actuators)
			assert.Len(t, got, 1)
		})
	}
}

func TestEmptyNamespace(t *testing.T) {
	got, errs := LoadSet[types.SensorConfig](NewMem(), Sensors)
	assert.Nil(t, got)
	assert.Nil(t, errs)
}

func TestCorruptRecordSkipped(t *testing.T) {
	kv := NewMem()
	require.NoError(t, SaveSet(kv, Sensors, []types.SensorConfig{
		{Pin: 4, Type: "ds18b20", Name: "soil", Active: true, Mode: "continuous", IntervalMs: 5000},
		{Pin: 5, Type: "digital", Name: "door", Active: true, Mode: "on_demand"},
	}))
	require.NoError(t, kv.Put(Sensors, SlotKey(0), []byte{0xff, 0x00}))

	got, errs := LoadSet[types.SensorConfig](kv, Sensors)
	require.Len(t, errs, 1)
	assert.Equal(t, errcode.InvalidRecord, errcode.Of(errs[0]))
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Pin)
}

func TestWriteFailure(t *testing.T) {
	kv := NewMem()
	kv.FailWrites(errors.New("flash full"))
	err := SaveSet(kv, Actuators, sampleSet())
	assert.Equal(t, errcode.PersistFailed, errcode.Of(err))
}

func TestFileRejectsPathNames(t *testing.T) {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, f.Put("../x", "k", nil))
	assert.Error(t, f.Put("ns", "a/b", nil))
}
