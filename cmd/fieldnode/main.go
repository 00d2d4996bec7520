// Command fieldnode runs the node: hardware, link and heartbeat on one bus.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fieldnode-go/bus"
	"fieldnode-go/errcode"
	"fieldnode-go/services/config"
	"fieldnode-go/services/hal"
	"fieldnode-go/services/heartbeat"
	"fieldnode-go/services/link"
	"fieldnode-go/services/link/topic"
)

const busQueueLen = 64

func main() {
	path := flag.String("config", os.Getenv("FIELDNODE_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("fieldnode failed", zap.Error(err))
	}
	logger.Info("fieldnode stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	b := bus.NewBus(busQueueLen)
	cfg.Publish(b.NewConnection("config"))

	codec := topic.Codec{Root: cfg.Node.Root, Group: cfg.Node.Group, Node: cfg.Node.ID}
	if err := codec.Validate(); err != nil {
		return err
	}

	h, err := hal.Open(cfg.HAL, cfg.Hardware, cfg.Store.Dir, b.NewConnection("hal"), logger.Named("hal"))
	if err != nil {
		return err
	}
	defer h.Close()

	hb := heartbeat.New(cfg.Heartbeat, b.NewConnection("heartbeat"), logger.Named("heartbeat"))
	logger.Info("fieldnode starting",
		zap.String("node", cfg.Node.ID),
		zap.String("group", cfg.Node.Group),
		zap.String("boot_id", hb.BootID()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(ctx) })
	g.Go(func() error { return hb.Run(ctx) })

	startLink(ctx, g, cfg.Link, codec, hb.BootID(), b, logger)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startLink brings up the broker link under g. Missing or unusable
// credentials leave the node running offline.
func startLink(ctx context.Context, g *errgroup.Group, lc config.LinkConfig, codec topic.Codec, bootID string, b *bus.Bus, logger *zap.Logger) {
	creds, ok := credentials(ctx, lc, logger)
	if !ok {
		logger.Warn("no broker credentials, running offline")
		return
	}
	lk, err := newLink(lc, creds, codec, bootID, b.NewConnection("link"), logger.Named("link"))
	if err != nil {
		logger.Error("link unusable, running offline", zap.String("broker", creds.Broker), zap.Error(err))
		return
	}
	g.Go(func() error { return lk.Run(ctx) })

	g.Go(func() error {
		if link.WaitConnected(ctx, b.NewConnection("main"), lc.InitialConnectTimeout) {
			logger.Info("link up", zap.String("broker", creds.Broker))
		} else if ctx.Err() == nil {
			logger.Warn("link not up yet, operating locally",
				zap.Duration("waited", lc.InitialConnectTimeout))
		}
		return nil
	})
}

// credentials prefers the provisioning file and falls back to the broker
// in the configuration.
func credentials(ctx context.Context, lc config.LinkConfig, logger *zap.Logger) (link.Credentials, bool) {
	fallback := link.Credentials{Broker: lc.BrokerURL, ClientID: lc.ClientID, Username: lc.Username, Password: lc.Password}
	if lc.ProvisioningFile == "" {
		return fallback, fallback.Broker != ""
	}
	c, err := link.WaitCredentials(ctx, lc.ProvisioningFile, lc.ProvisioningTimeout, lc.ProvisioningPoll, logger)
	if err != nil {
		if errcode.Of(err) != errcode.Timeout {
			logger.Warn("provisioning failed", zap.Error(err))
		}
		return fallback, fallback.Broker != ""
	}
	return c, true
}

func newLink(lc config.LinkConfig, c link.Credentials, codec topic.Codec, bootID string, conn *bus.Connection, logger *zap.Logger) (*link.Service, error) {
	addr, err := link.BrokerAddr(c.Broker)
	if err != nil {
		return nil, err
	}
	clientID := c.ClientID
	if clientID == "" {
		clientID = codec.Group + "-" + codec.Node
	}
	tr := link.NewMQTT(link.MQTTConfig{
		Broker:         c.Broker,
		ClientID:       clientID,
		Username:       c.Username,
		Password:       c.Password,
		QoS:            lc.QoS,
		KeepAlive:      lc.KeepAlive,
		ConnectTimeout: lc.ConnectTimeout,
		Will:           link.OfflineWill(codec),
	}, logger.Named("mqtt"))
	up := link.TCPUplink{Addr: addr, Timeout: lc.UplinkTimeout}
	return link.New(lc.Config, codec, tr, up, conn, logger, link.WithBootID(bootID)), nil
}
