package link

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"fieldnode-go/bus"
	"fieldnode-go/errcode"
	"fieldnode-go/types"
)

// Credentials are written by the provisioning portal.
type Credentials struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoadCredentials reads a provisioning file. A file without a broker is
// treated as not yet provisioned.
func LoadCredentials(path string) (Credentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}
	var c Credentials
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Credentials{}, errcode.Wrap(errcode.InvalidPayload, "credentials", err)
	}
	if c.Broker == "" {
		return Credentials{}, errcode.New(errcode.MissingField, "credentials", "broker")
	}
	return c, nil
}

// WaitCredentials polls path until it holds usable credentials or timeout
// elapses.
func WaitCredentials(ctx context.Context, path string, timeout, poll time.Duration, log *zap.Logger) (Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t := time.NewTicker(poll)
	defer t.Stop()

	logged := false
	for {
		c, err := LoadCredentials(path)
		if err == nil {
			return c, nil
		}
		if !logged {
			if errors.Is(err, fs.ErrNotExist) {
				log.Info("waiting for provisioning", zap.String("file", path), zap.Duration("timeout", timeout))
			} else {
				log.Warn("provisioning file unusable", zap.String("file", path), zap.Error(err))
			}
			logged = true
		}
		select {
		case <-ctx.Done():
			return Credentials{}, errcode.New(errcode.Timeout, "provisioning", fmt.Sprintf("no credentials in %s after %s", path, timeout))
		case <-t.C:
		}
	}
}

// WaitConnected blocks until link/state reports the link up, or timeout
// elapses. It reports whether the link came up.
func WaitConnected(ctx context.Context, conn *bus.Connection, timeout time.Duration) bool {
	sub := conn.Subscribe(TopicState)
	defer conn.Unsubscribe(sub)

	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return false
		case m, ok := <-sub.Channel():
			if !ok {
				return false
			}
			if st, ok := m.Payload.(types.LinkStatus); ok && st.Level == types.LevelUp {
				return true
			}
		}
	}
}
