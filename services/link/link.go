// Package link keeps the node attached to the remote broker. It bridges
// the internal bus to the broker through a Transport, gating every
// connect attempt behind the uplink and broker circuit breakers.
package link

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"fieldnode-go/bus"
	"fieldnode-go/services/link/breaker"
	"fieldnode-go/services/link/topic"
	"fieldnode-go/types"
)

// Bus topics owned by the link service.
var (
	// TopicTx carries types.Frame values to send.
	TopicTx = bus.T("link", "tx")
	// TopicRx prefixes inbound frames: link/rx/{kind}/{action}.
	TopicRx = bus.T("link", "rx")
	// TopicState holds the retained types.LinkStatus.
	TopicState = bus.T("link", "state")

	topicLost = bus.T("link", "internal", "lost")
)

// RxTopic is the bus topic inbound frames for kind/action arrive on.
func RxTopic(kind types.Kind, action string) bus.Topic {
	return TopicRx.Append(string(kind), action)
}

// Config holds link timing and breaker settings.
type Config struct {
	RetryInterval time.Duration  `mapstructure:"retry_interval"`
	IOTimeout     time.Duration  `mapstructure:"io_timeout"`
	Uplink        breaker.Config `mapstructure:"uplink_breaker"`
	Broker        breaker.Config `mapstructure:"broker_breaker"`
}

func (c *Config) defaults() {
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = 5 * time.Second
	}
	if c.Uplink.FailureThreshold == 0 {
		c.Uplink = breaker.Uplink
	}
	if c.Broker.FailureThreshold == 0 {
		c.Broker = breaker.Broker
	}
	c.Uplink.Name, c.Broker.Name = "uplink", "broker"
}

type Option func(*Service)

// WithClock replaces time.Now for the service and its breakers.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithBootID tags the online marker with the node's boot id.
func WithBootID(id string) Option { return func(s *Service) { s.bootID = id } }

// OfflineWill is the broker-held marker published when the node drops off.
func OfflineWill(c topic.Codec) Will {
	b, _ := json.Marshal(types.NodeStatus{State: "offline"})
	return Will{Topic: c.MustEncode(types.NodeAddr(types.KindSystem, types.ActStatus)), Payload: b}
}

type Service struct {
	cfg    Config
	codec  topic.Codec
	tr     Transport
	up     Uplink
	conn   *bus.Connection
	log    *zap.Logger
	now    func() time.Time
	bootID string

	uplink    *breaker.Breaker
	broker    *breaker.Breaker
	connected bool
	uplinkOK  bool
	dropped   uint64
	lastErr   error
}

func New(cfg Config, codec topic.Codec, tr Transport, up Uplink, conn *bus.Connection, log *zap.Logger, opts ...Option) *Service {
	cfg.defaults()
	s := &Service{
		cfg:   cfg,
		codec: codec,
		tr:    tr,
		up:    up,
		conn:  conn,
		log:   log,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	blog := log.Named("breaker")
	s.uplink = breaker.New(cfg.Uplink, blog, breaker.WithClock(s.now))
	s.broker = breaker.New(cfg.Broker, blog, breaker.WithClock(s.now))
	return s
}

// Run services the link until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	txSub := s.conn.Subscribe(TopicTx)
	defer s.conn.Unsubscribe(txSub)
	lostSub := s.conn.Subscribe(topicLost)
	defer s.conn.Unsubscribe(lostSub)

	s.publishState("starting")
	s.maintain(ctx)

	retry := time.NewTicker(s.cfg.RetryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			s.tr.Close()
			s.connected = false
			s.publishState("stopped")
			return nil
		case m := <-txSub.Channel():
			s.send(ctx, m.Payload)
		case m := <-lostSub.Channel():
			err, _ := m.Payload.(error)
			s.lost(err)
		case <-retry.C:
			s.maintain(ctx)
		}
	}
}

// maintain makes one breaker-gated connect attempt if the link is down.
func (s *Service) maintain(ctx context.Context) {
	if s.connected {
		if s.tr.Connected() {
			return
		}
		s.lost(nil)
	}

	err := s.uplink.Do(func() error { return s.up.Check(ctx) })
	s.uplinkOK = err == nil
	if err != nil {
		s.lastErr = err
		s.log.Debug("uplink unavailable", zap.Error(err))
		s.publishState("uplink_unavailable")
		return
	}

	err = s.broker.Do(func() error {
		h := Handlers{
			// Inbound frames go straight to the bus so a blocked send
			// cannot hold them back.
			OnMessage: s.receive,
			OnLost:    func(err error) { s.conn.Publish(s.conn.NewMessage(topicLost, err, false)) },
		}
		if err := s.tr.Connect(ctx, h); err != nil {
			return err
		}
		if err := s.tr.Subscribe(ctx, s.codec.Filters()); err != nil {
			s.tr.Close()
			return err
		}
		return nil
	})
	if err != nil {
		s.lastErr = err
		s.log.Warn("broker connect failed", zap.Error(err))
		s.publishState("broker_unavailable")
		return
	}

	s.connected = true
	s.lastErr = nil
	s.log.Info("link up")
	s.announce()
	s.publishState("connected")
}

func (s *Service) announce() {
	b, _ := json.Marshal(types.NodeStatus{State: "online", BootID: s.bootID, TS: s.now().UnixMilli()})
	t := s.codec.MustEncode(types.NodeAddr(types.KindSystem, types.ActStatus))
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.IOTimeout)
	defer cancel()
	if err := s.tr.Publish(ctx, t, b, true); err != nil {
		s.log.Warn("online marker not published", zap.Error(err))
	}
}

func (s *Service) lost(err error) {
	if !s.connected {
		return
	}
	s.connected = false
	s.lastErr = err
	s.broker.Failure()
	s.tr.Close()
	s.log.Warn("link lost", zap.Error(err))
	s.publishState("connection_lost")
}

func (s *Service) send(ctx context.Context, p any) {
	var f types.Frame
	switch v := p.(type) {
	case types.Frame:
		f = v
	case *types.Frame:
		f = *v
	default:
		s.log.Warn("dropping non-frame on link/tx")
		return
	}
	t, err := s.codec.Encode(f.Addr)
	if err != nil {
		s.log.Warn("dropping frame", zap.Error(err))
		s.dropped++
		return
	}
	if !s.connected {
		s.dropped++
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.IOTimeout)
	defer cancel()
	if err := s.tr.Publish(ctx, t, f.Payload, f.Retained); err != nil {
		s.dropped++
		s.log.Warn("publish failed", zap.String("topic", t), zap.Error(err))
	}
}

// receive runs on the transport's callback goroutine. It touches only the
// codec and the bus.
func (s *Service) receive(m Message) {
	addr, err := s.codec.Decode(m.Topic)
	if err != nil {
		s.log.Warn("ignoring inbound message", zap.String("topic", m.Topic), zap.Error(err))
		return
	}
	f := types.Frame{Addr: addr, Payload: m.Payload}
	s.conn.Publish(s.conn.NewMessage(RxTopic(addr.Kind, addr.Action), f, false))
}

// Status reports the current link health.
func (s *Service) Status() types.LinkStatus {
	up, br := s.uplink.Snapshot(), s.broker.Snapshot()
	level := types.LevelDown
	switch {
	case s.connected:
		level = types.LevelUp
	case up.State != breaker.Closed || br.State != breaker.Closed:
		level = types.LevelDegraded
	}
	st := types.LinkStatus{
		Level:   level,
		Uplink:  types.LinkEndpoint{Connected: s.uplinkOK, Breaker: string(up.State), Failures: up.Failures},
		Broker:  types.LinkEndpoint{Connected: s.connected, Breaker: string(br.State), Failures: br.Failures},
		Dropped: s.dropped,
		TS:      s.now().UnixMilli(),
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

func (s *Service) publishState(status string) {
	st := s.Status()
	st.Status = status
	s.conn.Publish(s.conn.NewMessage(TopicState, st, true))
}
