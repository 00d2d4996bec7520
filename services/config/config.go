// Package config loads node configuration and publishes each section as a
// retained message on config/<section> for the services that follow it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fieldnode-go/bus"
	"fieldnode-go/services/hal"
	"fieldnode-go/services/heartbeat"
	"fieldnode-go/services/link"
)

const (
	configPrefix = "config"
	envPrefix    = "FIELDNODE"
)

type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Hardware  hal.Hardware    `mapstructure:"hardware"`
	Store     StoreConfig     `mapstructure:"store"`
	Link      LinkConfig      `mapstructure:"link"`
	HAL       hal.Config      `mapstructure:"hal"`
	Heartbeat heartbeat.Config `mapstructure:"heartbeat"`
	Log       LogConfig       `mapstructure:"log"`
}

// NodeConfig places the node in the topic tree.
type NodeConfig struct {
	Root  string `mapstructure:"root"`
	Group string `mapstructure:"group"`
	ID    string `mapstructure:"id"`
}

type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// LinkConfig carries broker access and the link service timing.
type LinkConfig struct {
	BrokerURL string `mapstructure:"broker"`
	ClientID  string `mapstructure:"client_id"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	QoS       byte   `mapstructure:"qos"`

	KeepAlive             time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	InitialConnectTimeout time.Duration `mapstructure:"initial_connect_timeout"`
	UplinkTimeout         time.Duration `mapstructure:"uplink_timeout"`

	ProvisioningFile    string        `mapstructure:"provisioning_file"`
	ProvisioningTimeout time.Duration `mapstructure:"provisioning_timeout"`
	ProvisioningPoll    time.Duration `mapstructure:"provisioning_poll"`

	link.Config `mapstructure:",squash"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// Load reads path (optional) over the built-in defaults. FIELDNODE_*
// environment variables override both, e.g. FIELDNODE_NODE_ID.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Node.ID == "" {
		errs = append(errs, errors.New("node.id is required"))
	}
	if c.Node.Group == "" {
		errs = append(errs, errors.New("node.group is required"))
	}
	switch c.Hardware.Backend {
	case "periph", "sim":
	default:
		errs = append(errs, fmt.Errorf("hardware.backend %q: want periph or sim", c.Hardware.Backend))
	}
	if c.Link.QoS > 2 {
		errs = append(errs, fmt.Errorf("link.qos %d out of range", c.Link.QoS))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Build returns the root logger.
func (l LogConfig) Build() (*zap.Logger, error) {
	var zc zap.Config
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	lvl, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	return zc.Build()
}

// Publish places every section on config/<section>, retained.
func (c *Config) Publish(conn *bus.Connection) {
	sections := map[string]any{
		"node":      c.Node,
		"hardware":  c.Hardware,
		"store":     c.Store,
		"link":      c.Link.redacted(),
		"hal":       c.HAL,
		"heartbeat": c.Heartbeat,
		"log":       c.Log,
	}
	for k, v := range sections {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
}

func (l LinkConfig) redacted() LinkConfig {
	if l.Password != "" {
		l.Password = "***"
	}
	return l
}
