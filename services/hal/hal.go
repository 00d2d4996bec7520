// Package hal owns the node's hardware: the pin ledger, the actuator and
// sensor registries and the safety controller. All of it is driven from a
// single goroutine; remote traffic arrives and leaves as frames on the bus.
package hal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fieldnode-go/bus"
	"fieldnode-go/services/hal/internal/actuators"
	"fieldnode-go/services/hal/internal/configproto"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/services/hal/internal/safety"
	"fieldnode-go/services/hal/internal/sensors"
	"fieldnode-go/services/hal/internal/store"
	"fieldnode-go/services/link"
	"fieldnode-go/types"

	// Driver builders register themselves.
	_ "fieldnode-go/services/hal/devices/aht20"
	_ "fieldnode-go/services/hal/devices/binary"
	_ "fieldnode-go/services/hal/devices/digital"
	_ "fieldnode-go/services/hal/devices/ds18b20"
	_ "fieldnode-go/services/hal/devices/pwm_out"
	_ "fieldnode-go/services/hal/devices/shtc3"
	_ "fieldnode-go/services/hal/devices/valve"
)

var (
	// TopicState holds the retained types.HALState.
	TopicState = bus.T("hal", "state")
	// TopicSensors holds the retained []types.SensorStatus.
	TopicSensors = bus.T("hal", "sensors")
)

type Config struct {
	Tick           time.Duration `mapstructure:"tick"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
	SensorInterval time.Duration `mapstructure:"sensor_default_interval"`
	BootRetry      time.Duration `mapstructure:"boot_retry"`
}

func (c *Config) defaults() {
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = time.Minute
	}
	if c.SensorInterval <= 0 {
		c.SensorInterval = 30 * time.Second
	}
	if c.BootRetry <= 0 {
		c.BootRetry = 5 * time.Second
	}
}

type HAL struct {
	cfg  Config
	conn *bus.Connection
	log  *zap.Logger
	now  func() time.Time

	hw     platform.Backend
	ledger *pins.Ledger
	act    *actuators.Registry
	sen    *sensors.Registry
	safety *safety.Controller
	proto  *configproto.Protocol

	booted bool
	// pins with a retained status at the broker
	announced map[int]bool
}

func New(cfg Config, board platform.Board, hw platform.Backend, kv store.KV, conn *bus.Connection, log *zap.Logger) (*HAL, error) {
	cfg.defaults()
	h := &HAL{
		cfg:       cfg,
		conn:      conn,
		log:       log,
		now:       time.Now,
		hw:        hw,
		announced: map[int]bool{},
	}
	h.ledger = pins.New(board, hw, log.Named("pins"))
	h.act = actuators.New(h.ledger, kv, board.ActuatorSlots, log.Named("actuators"))
	h.sen = sensors.New(h.ledger, hw, kv, board.SensorSlots, cfg.SensorInterval, log.Named("sensors"))
	h.act.SetPeer(h.sen)
	h.sen.SetPeer(h.act)
	h.safety = safety.New(h.act, log.Named("safety"))

	proto, err := configproto.New(h.act, h.sen, log.Named("configproto"))
	if err != nil {
		return nil, err
	}
	h.proto = proto
	return h, nil
}

// Boot drives every pin to its safe state and restores the persisted
// configuration. Until it succeeds the HAL stays halted.
func (h *HAL) Boot(ctx context.Context) error {
	if err := h.ledger.Boot(); err != nil {
		return err
	}
	h.booted = true
	for _, err := range h.act.Restore() {
		h.log.Warn("actuator not restored", zap.Error(err))
	}
	for _, err := range h.sen.Restore(ctx, h.now()) {
		h.log.Warn("sensor not restored", zap.Error(err))
	}
	h.log.Info("hal booted",
		zap.Int("actuators", h.act.Len()),
		zap.Int("sensors", h.sen.Len()))
	return nil
}

// rxQueueLen bounds each inbound queue. Emergencies have their own queue
// so a burst of other traffic cannot evict them.
const rxQueueLen = 256

// Run boots the HAL and services it until ctx is cancelled.
func (h *HAL) Run(ctx context.Context) error {
	rx := h.conn.SubscribeQueue(link.TopicRx.Append("#"), rxQueueLen)
	defer h.conn.Unsubscribe(rx)
	emer := h.conn.SubscribeQueue(link.TopicRx.Append("+", types.ActEmergency), rxQueueLen)
	defer h.conn.Unsubscribe(emer)

	h.publishState(types.LevelIdle, "booting", nil)
	if !h.boot(ctx, rx) {
		h.publishState(types.LevelStopped, "context_cancelled", nil)
		return nil
	}
	h.publishState(types.LevelReady, "booted", nil)
	h.publishStatusAll()

	tick := time.NewTicker(h.cfg.Tick)
	defer tick.Stop()
	status := time.NewTicker(h.cfg.StatusInterval)
	defer status.Stop()
	poll := newStoppedTimer()
	defer poll.Stop()

	var seen uint64
	for {
		// Emergencies first.
		select {
		case m, ok := <-emer.Channel():
			if !ok {
				h.shutdown()
				return nil
			}
			h.dispatch(ctx, m, true)
			continue
		default:
		}

		if next, ok := h.sen.NextDue(); ok {
			resetTimer(poll, next.Sub(h.now()))
		} else {
			resetTimer(poll, idle)
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case m, ok := <-emer.Channel():
			if !ok {
				h.shutdown()
				return nil
			}
			h.dispatch(ctx, m, true)
		case m, ok := <-rx.Channel():
			if !ok {
				h.shutdown()
				return nil
			}
			if d := rx.Dropped() + emer.Dropped(); d > seen {
				h.log.Warn("inbound frames dropped", zap.Uint64("dropped", d-seen))
				seen = d
			}
			h.dispatch(ctx, m, false)
		case <-tick.C:
			h.tick()
		case <-poll.C:
			h.poll(ctx)
		case <-status.C:
			h.publishStatusAll()
			h.publishState(h.level(), "periodic", nil)
		}
	}
}

// dispatch handles one bus message. Emergency frames reach the general
// queue too and are only taken from their own.
func (h *HAL) dispatch(ctx context.Context, m *bus.Message, emergency bool) {
	f, ok := m.Payload.(types.Frame)
	if !ok || (f.Addr.Action == types.ActEmergency) != emergency {
		return
	}
	h.handle(ctx, f)
}

// boot retries Boot until it succeeds. Frames arriving while halted are
// dropped, except emergencies, which wait in their own queue.
func (h *HAL) boot(ctx context.Context, rx *bus.Subscription) bool {
	for {
		err := h.Boot(ctx)
		if err == nil {
			return true
		}
		h.log.Error("safe state failed, halted", zap.Error(err), zap.Duration("retry", h.cfg.BootRetry))
		h.publishState(types.LevelHalted, "safe_state_failed", err)

		t := time.NewTimer(h.cfg.BootRetry)
	wait:
		for {
			select {
			case <-ctx.Done():
				t.Stop()
				return false
			case <-t.C:
				break wait
			case m := <-rx.Channel():
				if f, ok := m.Payload.(types.Frame); ok {
					h.log.Warn("halted, frame dropped", zap.String("kind", string(f.Addr.Kind)), zap.String("action", f.Addr.Action))
				}
			}
		}
	}
}

func (h *HAL) tick() {
	now := h.now()
	for _, a := range h.safety.Tick(now) {
		h.send(types.At(types.KindActuator, a.Pin, types.ActAlert), a, false)
		h.publishStatus(a.Pin, now)
	}
}

func (h *HAL) poll(ctx context.Context) {
	for _, rd := range h.sen.Poll(ctx, h.now()) {
		h.send(types.At(types.KindSensor, rd.Pin, types.ActData), rd, false)
	}
}

func (h *HAL) shutdown() {
	h.act.ShutdownAll()
	h.sen.ShutdownAll()
	h.log.Info("hal stopped")
	h.publishState(types.LevelStopped, "context_cancelled", nil)
}

func (h *HAL) level() types.Level {
	switch {
	case !h.booted:
		return types.LevelHalted
	case h.safety.Latched():
		return types.LevelDegraded
	}
	return types.LevelReady
}

// ---- publication ----

// send queues a remote publication on the link.
func (h *HAL) send(addr types.Address, v any, retained bool) {
	f, err := types.NewFrame(addr, v, retained)
	if err != nil {
		h.log.Error("encode payload", zap.Error(err))
		return
	}
	h.conn.Publish(h.conn.NewMessage(link.TopicTx, f, false))
}

func (h *HAL) publishStatus(pin int, now time.Time) {
	st, ok := h.act.Status(pin, now)
	if !ok {
		return
	}
	h.announced[pin] = true
	h.send(types.At(types.KindActuator, pin, types.ActStatus), st, true)
}

// publishStatusAll republishes every actuator and clears the retained
// status of actuators that no longer exist.
func (h *HAL) publishStatusAll() {
	now := h.now()
	live := map[int]bool{}
	for _, st := range h.act.StatusAll(now) {
		live[st.Pin] = true
		h.announced[st.Pin] = true
		h.send(types.At(types.KindActuator, st.Pin, types.ActStatus), st, true)
	}
	for pin := range h.announced {
		if !live[pin] {
			delete(h.announced, pin)
			h.send(types.At(types.KindActuator, pin, types.ActStatus), nil, true)
		}
	}
	h.conn.Publish(h.conn.NewMessage(TopicSensors, h.sen.Status(), true))
}

func (h *HAL) publishState(level types.Level, status string, err error) {
	st := types.HALState{
		Level:     level,
		Status:    status,
		Actuators: h.act.Len(),
		Sensors:   h.sen.Len(),
		Emergency: h.safety.Latched(),
		TS:        h.now().UnixMilli(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	h.conn.Publish(h.conn.NewMessage(TopicState, st, true))
}
