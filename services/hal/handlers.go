package hal

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"fieldnode-go/errcode"
	"fieldnode-go/types"
)

// handle routes one inbound frame.
func (h *HAL) handle(ctx context.Context, f types.Frame) {
	a := f.Addr
	switch {
	case a.Kind == types.KindBroadcast:
		h.emergency(f.Payload, types.NoIndex, "broadcast emergency")
	case a.Kind == types.KindSystem && a.Action == types.ActConfig:
		h.configure(ctx, f.Payload)
	case a.Kind == types.KindSystem && a.Action == types.ActCommand:
		h.systemCommand(f.Payload, "remote command")
	case a.Kind == types.KindActuator && a.Action == types.ActEmergency:
		h.emergency(f.Payload, a.Index, "remote emergency")
	case a.Kind == types.KindActuator && a.Action == types.ActCommand:
		h.actuatorCommand(a.Index, f.Payload)
	case a.Kind == types.KindSensor && a.Action == types.ActCommand:
		h.sensorCommand(a.Index, f.Payload)
	default:
		h.log.Debug("unhandled frame", zap.String("kind", string(a.Kind)), zap.String("action", a.Action))
	}
}

func (h *HAL) configure(ctx context.Context, payload []byte) {
	now := h.now()
	for _, ack := range h.proto.Apply(ctx, payload, now) {
		h.log.Info("configuration applied",
			zap.String("type", ack.Type),
			zap.Int("ok", ack.SuccessCount),
			zap.Int("failed", ack.FailCount),
			zap.String("correlation_id", ack.CorrelationID))
		h.send(types.NodeAddr(types.KindSystem, types.ActConfigResponse), ack, false)
	}
	h.publishStatusAll()
	h.publishState(h.level(), "configured", nil)
}

// systemCmd accepts the pin under either "gpio" or "pin".
type systemCmd struct {
	Command string `json:"command"`
	GPIO    *int   `json:"gpio"`
	Pin     *int   `json:"pin"`
	Reason  string `json:"reason"`
}

func (c systemCmd) target() int {
	switch {
	case c.GPIO != nil:
		return *c.GPIO
	case c.Pin != nil:
		return *c.Pin
	}
	return types.NoIndex
}

// emergency handles the broadcast and per-actuator emergency topics. Any
// payload other than a well-formed clear_emergency stops: every actuator
// for a broadcast, the topic's actuator otherwise.
func (h *HAL) emergency(payload []byte, pin int, source string) {
	var c systemCmd
	err := json.Unmarshal(payload, &c)
	if err == nil && strings.EqualFold(strings.TrimSpace(c.Command), types.SysClearEmergency) {
		if pin == types.NoIndex {
			pin = c.target()
		}
		h.apply(types.SysClearEmergency, pin, "", source)
		return
	}
	reason := c.Reason
	if err != nil {
		reason = source
		if len(payload) > 0 {
			h.log.Warn("malformed emergency payload, stopping", zap.String("source", source), zap.Error(err))
		}
	} else if c.Command != "" && !strings.EqualFold(c.Command, types.SysEmergencyStop) {
		h.log.Warn("unexpected emergency command, stopping", zap.String("command", c.Command), zap.String("source", source))
	}
	if reason == "" {
		reason = source
	}
	h.apply(types.SysEmergencyStop, pin, reason, source)
}

// systemCommand handles emergency stop, clear and status requests on
// system/command.
func (h *HAL) systemCommand(payload []byte, source string) {
	var c systemCmd
	if err := json.Unmarshal(payload, &c); err != nil {
		h.log.Warn("system command rejected", zap.String("source", source), zap.Error(err))
		return
	}
	reason := c.Reason
	if reason == "" {
		reason = source
	}
	h.apply(strings.ToLower(strings.TrimSpace(c.Command)), c.target(), reason, source)
}

func (h *HAL) apply(command string, pin int, reason, source string) {
	now := h.now()
	var alerts []types.ActuatorAlert
	switch command {
	case types.SysEmergencyStop:
		if pin == types.NoIndex {
			alerts = h.safety.StopAll(reason, now)
			break
		}
		a, err := h.safety.Stop(pin, reason, now)
		if err != nil {
			h.log.Warn("emergency stop", zap.Int("pin", pin), zap.Error(err))
			return
		}
		alerts = append(alerts, a)
	case types.SysClearEmergency:
		if pin == types.NoIndex {
			alerts = h.safety.ClearAll(now)
			break
		}
		a, err := h.safety.Clear(pin, now)
		if err != nil {
			h.log.Warn("clear emergency", zap.Int("pin", pin), zap.Error(err))
			return
		}
		alerts = append(alerts, a)
	case types.SysStatus:
		h.publishStatusAll()
		h.publishState(h.level(), "status_requested", nil)
		return
	default:
		h.log.Warn("unknown system command", zap.String("command", command), zap.String("source", source))
		return
	}

	for _, a := range alerts {
		h.send(types.At(types.KindActuator, a.Pin, types.ActAlert), a, false)
		h.publishStatus(a.Pin, now)
	}
	h.publishState(h.level(), command, nil)
}

func (h *HAL) actuatorCommand(pin int, payload []byte) {
	now := h.now()
	var cmd types.ActuatorCommand
	var err error
	var st types.ActuatorState
	if jerr := json.Unmarshal(payload, &cmd); jerr != nil {
		err = errcode.Wrap(errcode.InvalidPayload, "command", jerr)
	} else {
		cmd.Command = strings.ToUpper(strings.TrimSpace(cmd.Command))
		st, err = h.act.Dispatch(pin, cmd, now)
	}

	resp := types.ActuatorResponse{
		Pin:     pin,
		Command: cmd.Command,
		Success: err == nil,
		State:   st,
		TS:      now.UnixMilli(),
	}
	if err != nil {
		resp.ErrorCode = string(errcode.Of(err))
		resp.Detail = errcode.Detail(err)
		h.log.Info("actuator command failed", zap.Int("pin", pin), zap.String("command", cmd.Command), zap.Error(err))
	}
	h.send(types.At(types.KindActuator, pin, types.ActResponse), resp, false)
	h.publishStatus(pin, now)
}

func (h *HAL) sensorCommand(pin int, payload []byte) {
	now := h.now()
	var cmd types.SensorCommand
	var err error
	if jerr := json.Unmarshal(payload, &cmd); jerr != nil {
		err = errcode.Wrap(errcode.InvalidPayload, "command", jerr)
	} else if strings.ToLower(cmd.Command) != types.CmdMeasure {
		err = errcode.New(errcode.UnknownCommand, "command", cmd.Command)
	} else {
		err = h.sen.Request(pin, now)
	}

	resp := types.SensorResponse{Pin: pin, Command: cmd.Command, Success: err == nil, TS: now.UnixMilli()}
	if err != nil {
		resp.ErrorCode = string(errcode.Of(err))
		resp.Detail = errcode.Detail(err)
	}
	h.send(types.At(types.KindSensor, pin, types.ActResponse), resp, false)
}
