// Package configproto turns a configuration message into registry changes
// and one acknowledgement per configured kind.
package configproto

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/actuators"
	"fieldnode-go/services/hal/internal/sensors"
	"fieldnode-go/types"
)

//go:embed schema/config-v1.json
var schemaJSON string

const schemaURL = "config-v1.json"

type Protocol struct {
	act    *actuators.Registry
	sen    *sensors.Registry
	schema *jsonschema.Schema
	log    *zap.Logger
	newID  func() string
}

func New(act *actuators.Registry, sen *sensors.Registry, log *zap.Logger) (*Protocol, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}
	return &Protocol{act: act, sen: sen, schema: s, log: log, newID: uuid.NewString}, nil
}

// pending is one parsed item waiting to be applied.
type pending struct {
	index int
	act   *types.ActuatorConfig
	sen   *types.SensorConfig
}

func (p pending) pin() int {
	if p.act != nil {
		return p.act.Pin
	}
	return p.sen.Pin
}

func (p pending) active() bool {
	if p.act != nil {
		return p.act.Active
	}
	return p.sen.Active
}

// Apply validates payload and applies it. A structurally invalid payload
// yields a single "config" ack and changes nothing.
func (p *Protocol) Apply(ctx context.Context, payload []byte, now time.Time) []types.ConfigAck {
	id := p.newID()
	doc, err := decode(payload)
	if err == nil {
		if verr := p.schema.Validate(doc); verr != nil {
			err = errcode.New(errcode.InvalidPayload, "config", schemaDetail(verr))
		}
	}
	if err != nil {
		p.log.Warn("config rejected", zap.String("correlation_id", id), zap.Error(err))
		return []types.ConfigAck{batchFailure(err, id, now)}
	}

	root := doc.(map[string]any)
	actAck, actItems, hasAct := p.parse(root, "actuators", types.AckActuator, id, now)
	senAck, senItems, hasSen := p.parse(root, "sensors", types.AckSensor, id, now)

	p.act.BeginBatch()
	p.sen.BeginBatch()

	// Deactivations first so a pin can change kind within one message.
	for _, pass := range []bool{false, true} {
		for _, it := range actItems {
			if it.active() == pass {
				p.record(&actAck, it, p.act.Configure(*it.act))
			}
		}
		for _, it := range senItems {
			if it.active() == pass {
				p.record(&senAck, it, p.sen.Configure(ctx, *it.sen, now))
			}
		}
	}

	if err := p.act.EndBatch(); err != nil {
		p.persistFailed(&actAck, err)
	}
	if err := p.sen.EndBatch(); err != nil {
		p.persistFailed(&senAck, err)
	}

	var acks []types.ConfigAck
	for _, a := range []struct {
		ack *types.ConfigAck
		has bool
	}{{&actAck, hasAct}, {&senAck, hasSen}} {
		if !a.has {
			continue
		}
		sort.Slice(a.ack.Failures, func(i, j int) bool { return a.ack.Failures[i].Index < a.ack.Failures[j].Index })
		a.ack.Success = a.ack.FailCount == 0
		p.log.Info("config applied",
			zap.String("type", a.ack.Type),
			zap.String("correlation_id", id),
			zap.Int("ok", a.ack.SuccessCount),
			zap.Int("failed", a.ack.FailCount))
		acks = append(acks, *a.ack)
	}
	return acks
}

// parse extracts the items of one kind. Items that fail extraction are
// recorded as failures right away.
func (p *Protocol) parse(root map[string]any, key, kind, id string, now time.Time) (types.ConfigAck, []pending, bool) {
	ack := types.ConfigAck{Type: kind, CorrelationID: id, TS: now.UnixMilli()}
	raw, ok := root[key]
	if !ok {
		return ack, nil, false
	}
	var out []pending
	for i, v := range raw.([]any) {
		it := item(v.(map[string]any))
		pin := types.NoPin
		if n, err := it.pin(); err == nil {
			pin = n
		}
		switch kind {
		case types.AckActuator:
			cfg, err := parseActuator(it)
			if err != nil {
				p.record(&ack, pending{index: i, act: &types.ActuatorConfig{Pin: pin}}, err)
				continue
			}
			out = append(out, pending{index: i, act: &cfg})
		default:
			cfg, err := parseSensor(it)
			if err != nil {
				p.record(&ack, pending{index: i, sen: &types.SensorConfig{Pin: pin}}, err)
				continue
			}
			out = append(out, pending{index: i, sen: &cfg})
		}
	}
	return ack, out, true
}

func (p *Protocol) record(ack *types.ConfigAck, it pending, err error) {
	if err == nil {
		ack.SuccessCount++
		return
	}
	ack.FailCount++
	ack.Failures = append(ack.Failures, types.ConfigFailure{
		Index:     it.index,
		Pin:       it.pin(),
		ErrorCode: string(errcode.Of(err)),
		Detail:    errcode.Detail(err),
	})
	p.log.Warn("config item failed",
		zap.String("type", ack.Type), zap.Int("index", it.index), zap.Int("pin", it.pin()), zap.Error(err))
}

func (p *Protocol) persistFailed(ack *types.ConfigAck, err error) {
	p.log.Error("persist failed", zap.String("type", ack.Type), zap.Error(err))
	ack.FailCount++
	ack.Failures = append(ack.Failures, types.ConfigFailure{
		Index:     -1,
		Pin:       types.NoPin,
		ErrorCode: string(errcode.Of(err)),
		Detail:    errcode.Detail(err),
	})
}

func decode(payload []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, errcode.Wrap(errcode.InvalidPayload, "config", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errcode.New(errcode.InvalidPayload, "config", "trailing data after object")
	}
	return doc, nil
}

func schemaDetail(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return loc + ": " + leaf.Message
	}
	return err.Error()
}

func batchFailure(err error, id string, now time.Time) types.ConfigAck {
	return types.ConfigAck{
		Type:      types.AckConfig,
		FailCount: 1,
		Failures: []types.ConfigFailure{{
			Index:     -1,
			Pin:       types.NoPin,
			ErrorCode: string(errcode.Of(err)),
			Detail:    errcode.Detail(err),
		}},
		CorrelationID: id,
		TS:            now.UnixMilli(),
	}
}
