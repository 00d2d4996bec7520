package config

import "github.com/spf13/viper"

// Built-in defaults. Every key that may be overridden from the
// environment needs an entry here.
var defaults = map[string]any{
	"node.root":  "fieldnode",
	"node.group": "default",
	"node.id":    "",

	"hardware.board":       "rpi",
	"hardware.board_file":  "",
	"hardware.backend":     "periph",
	"hardware.i2c_bus":     "",
	"hardware.onewire_bus": "",

	"store.dir": "/var/lib/fieldnode",

	"link.broker":                  "",
	"link.client_id":               "",
	"link.username":                "",
	"link.password":                "",
	"link.qos":                     1,
	"link.keep_alive":              "30s",
	"link.connect_timeout":         "10s",
	"link.initial_connect_timeout": "30s",
	"link.uplink_timeout":          "3s",
	"link.provisioning_file":       "/var/lib/fieldnode/credentials.yaml",
	"link.provisioning_timeout":    "5m",
	"link.provisioning_poll":       "2s",
	"link.retry_interval":          "5s",
	"link.io_timeout":              "5s",

	"link.uplink_breaker.failure_threshold": 10,
	"link.uplink_breaker.recovery_timeout":  "60s",
	"link.uplink_breaker.half_open_timeout": "15s",
	"link.broker_breaker.failure_threshold": 5,
	"link.broker_breaker.recovery_timeout":  "30s",
	"link.broker_breaker.half_open_timeout": "10s",

	"hal.tick":                    "100ms",
	"hal.status_interval":         "60s",
	"hal.sensor_default_interval": "30s",
	"hal.boot_retry":              "5s",

	"heartbeat.interval": "30s",

	"log.level":  "info",
	"log.format": "json",
}

func setDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
