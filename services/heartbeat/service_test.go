package heartbeat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fieldnode-go/bus"
	"fieldnode-go/services/hal"
	"fieldnode-go/services/link"
	"fieldnode-go/types"
)

func nextFrame(t *testing.T, sub *bus.Subscription, within time.Duration) types.Frame {
	t.Helper()
	select {
	case m := <-sub.Channel():
		f, ok := m.Payload.(types.Frame)
		require.True(t, ok, "payload %T", m.Payload)
		return f
	case <-time.After(within):
		t.Fatal("no heartbeat")
	}
	return types.Frame{}
}

func TestHeartbeatMergesState(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(hal.TopicState, types.HALState{
		Level: types.LevelDegraded, Actuators: 3, Sensors: 2, Emergency: true,
	}, true))
	conn.Publish(conn.NewMessage(link.TopicState, types.LinkStatus{
		Level: types.LevelUp, Status: "connected",
		Broker: types.LinkEndpoint{Connected: true, Breaker: "closed"},
	}, true))

	tx := conn.Subscribe(link.TopicTx)
	defer conn.Unsubscribe(tx)

	svc := New(Config{Interval: 20 * time.Millisecond}, b.NewConnection("heartbeat"), zaptest.NewLogger(t), WithBootID("boot-1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	// The first beat may race the retained state; the second carries it.
	_ = nextFrame(t, tx, time.Second)
	f := nextFrame(t, tx, time.Second)

	assert.Equal(t, types.NodeAddr(types.KindSystem, types.ActHeartbeat), f.Addr)
	assert.False(t, f.Retained)

	var hb types.Heartbeat
	require.NoError(t, json.Unmarshal(f.Payload, &hb))
	assert.Equal(t, "boot-1", hb.BootID)
	assert.Equal(t, types.LevelDegraded, hb.HAL)
	assert.Equal(t, 3, hb.Actuators)
	assert.Equal(t, 2, hb.Sensors)
	assert.True(t, hb.Emergency)
	assert.Equal(t, types.LevelUp, hb.Link.Level)
	assert.True(t, hb.Link.Broker.Connected)
	assert.NotZero(t, hb.HeapAlloc)
	assert.Positive(t, hb.Goroutines)
}

func TestHeartbeatFollowsConfig(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	tx := conn.Subscribe(link.TopicTx)
	defer conn.Unsubscribe(tx)

	svc := New(Config{Interval: time.Hour}, b.NewConnection("heartbeat"), zaptest.NewLogger(t))
	assert.NotEmpty(t, svc.BootID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	conn.Publish(conn.NewMessage(topicConfigHeartbeat, Config{Interval: 20 * time.Millisecond}, true))
	_ = nextFrame(t, tx, time.Second)
}

func TestUptime(t *testing.T) {
	now := time.Unix(1000, 0)
	svc := New(Config{}, bus.NewBus(4).NewConnection("hb"), zaptest.NewLogger(t), WithClock(func() time.Time { return now }))
	now = now.Add(90 * time.Second)
	assert.Equal(t, int64(90), svc.Snapshot().UptimeS)
	assert.Equal(t, now.UnixMilli(), svc.Snapshot().TS)
}

func TestInterval(t *testing.T) {
	iv, ok := interval(map[string]any{"interval": 2.5})
	require.True(t, ok)
	assert.Equal(t, 2500*time.Millisecond, iv)

	_, ok = interval(map[string]any{"interval": -1.0})
	assert.False(t, ok)
	_, ok = interval("10s")
	assert.False(t, ok)
}
