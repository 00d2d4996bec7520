// Package heartbeat publishes the node's single liveness payload.
package heartbeat

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldnode-go/bus"
	"fieldnode-go/services/hal"
	"fieldnode-go/services/link"
	"fieldnode-go/types"
)

var topicConfigHeartbeat = bus.T("config", "heartbeat")

type Config struct {
	Interval time.Duration `mapstructure:"interval" json:"interval"`
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithBootID fixes the boot id instead of drawing a fresh one.
func WithBootID(id string) Option { return func(s *Service) { s.bootID = id } }

type Service struct {
	conn     *bus.Connection
	log      *zap.Logger
	now      func() time.Time
	bootID   string
	start    time.Time
	interval time.Duration

	hal  types.HALState
	link types.LinkStatus
}

func New(cfg Config, conn *bus.Connection, log *zap.Logger, opts ...Option) *Service {
	s := &Service{conn: conn, log: log, now: time.Now, interval: cfg.Interval}
	for _, o := range opts {
		o(s)
	}
	if s.interval <= 0 {
		s.interval = 30 * time.Second
	}
	if s.bootID == "" {
		s.bootID = uuid.NewString()
	}
	s.start = s.now()
	return s
}

func (s *Service) BootID() string { return s.bootID }

// Run publishes a heartbeat every interval until ctx is cancelled. The
// interval follows config/heartbeat.
func (s *Service) Run(ctx context.Context) error {
	cfgSub := s.conn.Subscribe(topicConfigHeartbeat)
	defer s.conn.Unsubscribe(cfgSub)
	halSub := s.conn.Subscribe(hal.TopicState)
	defer s.conn.Unsubscribe(halSub)
	linkSub := s.conn.Subscribe(link.TopicState)
	defer s.conn.Unsubscribe(linkSub)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("heartbeat stopping")
			return nil
		case <-tick.C:
			s.beat()
		case m := <-cfgSub.Channel():
			if iv, ok := interval(m.Payload); ok && iv != s.interval {
				s.interval = iv
				tick.Reset(iv)
				s.log.Info("heartbeat interval set", zap.Duration("interval", iv))
			}
		case m := <-halSub.Channel():
			if st, ok := m.Payload.(types.HALState); ok {
				s.hal = st
			}
		case m := <-linkSub.Channel():
			if st, ok := m.Payload.(types.LinkStatus); ok {
				s.link = st
			}
		}
	}
}

// interval accepts the loaded Config or a decoded JSON object whose
// interval is in seconds.
func interval(p any) (time.Duration, bool) {
	switch v := p.(type) {
	case Config:
		return v.Interval, v.Interval > 0
	case map[string]any:
		if f, ok := v["interval"].(float64); ok && f > 0 {
			return time.Duration(f * float64(time.Second)), true
		}
	}
	return 0, false
}

// Snapshot assembles the current payload.
func (s *Service) Snapshot() types.Heartbeat {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	now := s.now()
	return types.Heartbeat{
		BootID:     s.bootID,
		UptimeS:    int64(now.Sub(s.start) / time.Second),
		HeapAlloc:  ms.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
		HAL:        s.hal.Level,
		Actuators:  s.hal.Actuators,
		Sensors:    s.hal.Sensors,
		Emergency:  s.hal.Emergency,
		Link:       s.link,
		TS:         now.UnixMilli(),
	}
}

func (s *Service) beat() {
	hb := s.Snapshot()
	frame, err := types.NewFrame(types.NodeAddr(types.KindSystem, types.ActHeartbeat), hb, false)
	if err != nil {
		s.log.Error("encode heartbeat", zap.Error(err))
		return
	}
	s.conn.Publish(s.conn.NewMessage(link.TopicTx, frame, false))
	s.log.Debug("heartbeat",
		zap.Int64("uptime_s", hb.UptimeS),
		zap.String("hal", string(hb.HAL)),
		zap.String("link", string(hb.Link.Level)))
}
