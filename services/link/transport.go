package link

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"fieldnode-go/errcode"
)

// Message is one remote publication as seen by a Transport.
type Message struct {
	Topic   string
	Payload []byte
}

// Handlers are invoked from transport goroutines. Implementations must
// not touch node state directly; the link service forwards them onto the
// bus.
type Handlers struct {
	OnMessage func(Message)
	OnLost    func(error)
}

// Transport is the publish/subscribe client the link service drives. It
// never reconnects on its own.
type Transport interface {
	Connect(ctx context.Context, h Handlers) error
	Subscribe(ctx context.Context, filters []string) error
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	Connected() bool
	Close()
}

// Will is the message the broker publishes when the node disappears.
type Will struct {
	Topic   string
	Payload []byte
}

// MQTTConfig configures the paho-backed transport.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Will           Will
}

// MQTT is a Transport over github.com/eclipse/paho.mqtt.golang.
type MQTT struct {
	cfg MQTTConfig
	log *zap.Logger

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTT(cfg MQTTConfig, log *zap.Logger) *MQTT {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	return &MQTT{cfg: cfg, log: log}
}

func (m *MQTT) Connect(ctx context.Context, h Handlers) error {
	m.Close()

	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetUsername(m.cfg.Username).
		SetPassword(m.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(false).
		SetKeepAlive(m.cfg.KeepAlive).
		SetConnectTimeout(m.cfg.ConnectTimeout).
		SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
			if h.OnMessage != nil {
				h.OnMessage(Message{Topic: msg.Topic(), Payload: msg.Payload()})
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if h.OnLost != nil {
				h.OnLost(err)
			}
		})
	if m.cfg.Will.Topic != "" {
		opts.SetBinaryWill(m.cfg.Will.Topic, m.cfg.Will.Payload, m.cfg.QoS, true)
	}

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), m.cfg.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return errcode.Wrap(errcode.LinkDown, "mqtt connect", err)
	}
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	m.log.Info("mqtt connected", zap.String("broker", m.cfg.Broker), zap.String("client_id", m.cfg.ClientID))
	return nil
}

func (m *MQTT) current() mqtt.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *MQTT) Subscribe(ctx context.Context, filters []string) error {
	c := m.current()
	if c == nil {
		return errcode.New(errcode.LinkDown, "mqtt subscribe", "not connected")
	}
	want := make(map[string]byte, len(filters))
	for _, f := range filters {
		want[f] = m.cfg.QoS
	}
	if err := wait(ctx, c.SubscribeMultiple(want, nil), m.cfg.ConnectTimeout); err != nil {
		return errcode.Wrap(errcode.LinkDown, "mqtt subscribe", err)
	}
	return nil
}

func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	c := m.current()
	if c == nil || !c.IsConnectionOpen() {
		return errcode.New(errcode.LinkDown, "mqtt publish", "not connected")
	}
	if err := wait(ctx, c.Publish(topic, m.cfg.QoS, retained, payload), m.cfg.ConnectTimeout); err != nil {
		return errcode.Wrap(errcode.LinkDown, "mqtt publish", err)
	}
	return nil
}

func (m *MQTT) Connected() bool {
	c := m.current()
	return c != nil && c.IsConnectionOpen()
}

func (m *MQTT) Close() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c != nil {
		c.Disconnect(250)
	}
}

func wait(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return errcode.New(errcode.Timeout, "mqtt", fmt.Sprintf("no reply within %s", timeout))
	}
}

// Uplink reports whether the network path to the broker is usable.
type Uplink interface {
	Check(ctx context.Context) error
}

// TCPUplink probes reachability by opening a TCP connection.
type TCPUplink struct {
	Addr    string
	Timeout time.Duration
}

func (u TCPUplink) Check(ctx context.Context) error {
	d := net.Dialer{Timeout: u.Timeout}
	c, err := d.DialContext(ctx, "tcp", u.Addr)
	if err != nil {
		return errcode.Wrap(errcode.LinkDown, "uplink", err)
	}
	return c.Close()
}

// BrokerAddr extracts host:port from a broker URL such as
// tcp://broker.local:1883, filling in the scheme's default port.
func BrokerAddr(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("broker url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("broker url %q has no host", raw)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "ssl", "tls", "mqtts", "tcps":
			port = "8883"
		case "ws":
			port = "80"
		case "wss":
			port = "443"
		default:
			port = "1883"
		}
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("broker url %q: bad port", raw)
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
