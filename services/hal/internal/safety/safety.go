// Package safety holds the emergency-stop latch and the maximum-runtime
// watchdog for actuators. It gates every actuator command.
package safety

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/actuators"
	"fieldnode-go/types"
)

type Controller struct {
	reg     *actuators.Registry
	log     *zap.Logger
	latched bool
	reason  string
}

func New(reg *actuators.Registry, log *zap.Logger) *Controller {
	c := &Controller{reg: reg, log: log}
	reg.SetGate(c)
	return c
}

// Admit rejects commands for stopped actuators and, while the node latch
// is set, for every actuator.
func (c *Controller) Admit(pin int) error {
	if c.latched {
		c.log.Warn("command rejected, node emergency latched", zap.Int("pin", pin), zap.String("reason", c.reason))
		return errcode.New(errcode.EmergencyActive, "command", "node emergency stop active: "+c.reason)
	}
	if c.reg.Stopped(pin) {
		c.log.Warn("command rejected, emergency stop active", zap.Int("pin", pin))
		return errcode.New(errcode.EmergencyActive, "command", fmt.Sprintf("GPIO%d is emergency stopped", pin))
	}
	return nil
}

// Latched reports a node-wide emergency.
func (c *Controller) Latched() bool { return c.latched }

func (c *Controller) Reason() string { return c.reason }

// StopAll latches the node-wide emergency and stops every actuator.
func (c *Controller) StopAll(reason string, now time.Time) []types.ActuatorAlert {
	c.latched = true
	c.reason = reason
	c.log.Warn("emergency stop", zap.String("reason", reason))
	var out []types.ActuatorAlert
	for _, pin := range c.reg.Pins() {
		if c.reg.Stop(pin, reason) {
			out = append(out, c.alert(pin, types.AlertEmergencyStop, reason, now))
		}
	}
	return out
}

// Stop stops one actuator.
func (c *Controller) Stop(pin int, reason string, now time.Time) (types.ActuatorAlert, error) {
	if !c.reg.Stop(pin, reason) {
		return types.ActuatorAlert{}, errcode.New(errcode.NotFound, "emergency", fmt.Sprintf("no actuator on GPIO%d", pin))
	}
	c.log.Warn("emergency stop", zap.Int("pin", pin), zap.String("reason", reason))
	return c.alert(pin, types.AlertEmergencyStop, reason, now), nil
}

// ClearAll releases the node latch and every per-actuator stop.
func (c *Controller) ClearAll(now time.Time) []types.ActuatorAlert {
	c.latched = false
	c.reason = ""
	c.log.Info("emergency cleared")
	var out []types.ActuatorAlert
	for _, pin := range c.reg.Pins() {
		if c.reg.Clear(pin) {
			out = append(out, c.alert(pin, types.AlertEmergencyClear, "", now))
		}
	}
	return out
}

// Clear releases one actuator. It is refused while the node latch is set;
// ClearAll releases that.
func (c *Controller) Clear(pin int, now time.Time) (types.ActuatorAlert, error) {
	if _, ok := c.reg.Config(pin); !ok {
		return types.ActuatorAlert{}, errcode.New(errcode.NotFound, "emergency", fmt.Sprintf("no actuator on GPIO%d", pin))
	}
	if c.latched {
		return types.ActuatorAlert{}, errcode.New(errcode.EmergencyActive, "emergency", "node emergency latched, clear the node first")
	}
	c.reg.Clear(pin)
	c.log.Info("emergency cleared", zap.Int("pin", pin))
	return c.alert(pin, types.AlertEmergencyClear, "", now), nil
}

// Tick advances the actuators, stops any that report a safety violation and
// shuts off those past their maximum runtime.
func (c *Controller) Tick(now time.Time) []types.ActuatorAlert {
	var out []types.ActuatorAlert
	for _, v := range c.reg.Tick(now) {
		detail := errcode.Detail(v.Err)
		c.log.Error("safety violation", zap.Int("pin", v.Pin), zap.Error(v.Err))
		c.reg.Stop(v.Pin, detail)
		out = append(out, c.alert(v.Pin, types.AlertSafetyViolation, detail, now))
	}
	for _, pin := range c.reg.Pins() {
		cfg, _ := c.reg.Config(pin)
		if cfg.MaxRuntimeMs == 0 {
			continue
		}
		limit := time.Duration(cfg.MaxRuntimeMs) * time.Millisecond
		on := c.reg.OnTime(pin, now)
		if on < limit {
			continue
		}
		if err := c.reg.ForceOff(pin, string(errcode.AutoShutoff)); err != nil {
			c.log.Error("auto shutoff failed", zap.Int("pin", pin), zap.Error(err))
		}
		c.log.Warn("max runtime exceeded", zap.Int("pin", pin), zap.Duration("on", on), zap.Duration("limit", limit))
		out = append(out, c.alert(pin, types.AlertAutoShutoff,
			fmt.Sprintf("on for %s, limit %s", on.Round(time.Millisecond), limit), now))
	}
	return out
}

func (c *Controller) alert(pin int, kind, detail string, now time.Time) types.ActuatorAlert {
	return types.ActuatorAlert{
		Pin:      pin,
		Alert:    kind,
		Detail:   detail,
		Critical: c.reg.Critical(pin),
		TS:       now.UnixMilli(),
	}
}
