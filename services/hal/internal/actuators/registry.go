// Package actuators owns the configured actuators: their drivers, pins,
// emergency flags and on-time counters. It is driven from the HAL loop and
// is not safe for concurrent use.
package actuators

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/core"
	"fieldnode-go/services/hal/internal/pins"
	"fieldnode-go/services/hal/internal/platform"
	"fieldnode-go/services/hal/internal/store"
	"fieldnode-go/types"
)

// Gate is consulted before any command reaches a driver.
type Gate interface {
	Admit(pin int) error
	// Latched reports a node-wide emergency; new actuators start stopped.
	Latched() bool
}

// PinHolder is implemented by the other registry so pins cannot be shared
// across kinds.
type PinHolder interface {
	Has(pin int) bool
}

type entry struct {
	cfg     types.ActuatorConfig
	drv     core.ActuatorDriver
	pins    []int
	stopped bool
	onSince time.Time
	offAt   time.Time
	fault   string
}

type Registry struct {
	ledger   *pins.Ledger
	kv       store.KV
	capacity int
	log      *zap.Logger
	gate     Gate
	peer     PinHolder
	entries  map[int]*entry

	batch int
	dirty bool
}

func New(ledger *pins.Ledger, kv store.KV, capacity int, log *zap.Logger) *Registry {
	return &Registry{
		ledger:   ledger,
		kv:       kv,
		capacity: capacity,
		log:      log,
		entries:  map[int]*entry{},
	}
}

func (r *Registry) SetGate(g Gate)      { r.gate = g }
func (r *Registry) SetPeer(p PinHolder) { r.peer = p }

func (r *Registry) Len() int      { return len(r.entries) }
func (r *Registry) Capacity() int { return r.capacity }

// Has reports whether any actuator occupies pin, including aux pins.
func (r *Registry) Has(pin int) bool {
	for _, e := range r.entries {
		for _, p := range e.pins {
			if p == pin {
				return true
			}
		}
	}
	return false
}

// Pins lists configured actuator keys in ascending order.
func (r *Registry) Pins() []int {
	out := make([]int, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (r *Registry) Config(pin int) (types.ActuatorConfig, bool) {
	e, ok := r.entries[pin]
	if !ok {
		return types.ActuatorConfig{}, false
	}
	return e.cfg, true
}

func (r *Registry) validate(cfg types.ActuatorConfig) error {
	b := r.ledger.Board()
	switch {
	case cfg.Type == "":
		return errcode.New(errcode.MissingField, "actuator", "actuator_type")
	case cfg.Name == "":
		return errcode.New(errcode.MissingField, "actuator", "actuator_name")
	case cfg.AuxPin != types.NoPin && !b.InRange(cfg.AuxPin):
		return errcode.New(errcode.UnknownPin, "actuator", fmt.Sprintf("aux GPIO%d not on board", cfg.AuxPin))
	}
	return nil
}

// Configure applies one actuator record. An inactive record removes the
// existing entry; a record for a configured pin reconfigures it in place.
func (r *Registry) Configure(cfg types.ActuatorConfig) error {
	if !r.ledger.Board().InRange(cfg.Pin) {
		return errcode.New(errcode.UnknownPin, "actuator", fmt.Sprintf("GPIO%d not on board", cfg.Pin))
	}
	if !cfg.Active {
		if !r.Remove(cfg.Pin) {
			return errcode.New(errcode.NotFound, "actuator", fmt.Sprintf("no actuator on GPIO%d", cfg.Pin))
		}
		return nil
	}
	if err := r.validate(cfg); err != nil {
		return err
	}
	b, ok := core.LookupActuator(cfg.Type)
	if !ok {
		return errcode.New(errcode.UnknownType, "actuator", cfg.Type)
	}
	claims, err := b.Claims(cfg)
	if err != nil {
		return err
	}
	if r.peer != nil {
		for _, c := range claims {
			if r.peer.Has(c.Pin) {
				return errcode.New(errcode.PinConflict, "actuator", fmt.Sprintf("GPIO%d is a sensor", c.Pin))
			}
		}
	}

	if old, ok := r.entries[cfg.Pin]; ok {
		return r.reconfigure(old, b, claims, cfg)
	}
	if len(r.entries) >= r.capacity {
		return errcode.New(errcode.CapacityExhausted, "actuator", fmt.Sprintf("%d slots in use", r.capacity))
	}
	e, err := r.instantiate(b, claims, cfg)
	if err != nil {
		return err
	}
	if r.gate != nil && r.gate.Latched() {
		e.stopped = true
		e.drv.EmergencyStop("node emergency active")
	}
	r.entries[cfg.Pin] = e
	r.log.Info("actuator configured",
		zap.Int("pin", cfg.Pin), zap.String("type", cfg.Type), zap.String("name", cfg.Name))
	return r.changed()
}

func (r *Registry) reconfigure(old *entry, b core.ActuatorBuilder, claims []core.PinClaim, cfg types.ActuatorConfig) error {
	r.teardown(old)
	e, err := r.instantiate(b, claims, cfg)
	if err != nil {
		r.log.Warn("reconfigure failed, restoring previous",
			zap.Int("pin", cfg.Pin), zap.Error(err))
		prev, perr := r.rebuild(old.cfg)
		if perr != nil {
			delete(r.entries, cfg.Pin)
			r.log.Error("previous actuator lost", zap.Int("pin", cfg.Pin), zap.Error(perr))
			_ = r.changed()
			return err
		}
		prev.stopped = old.stopped
		if prev.stopped {
			prev.drv.EmergencyStop("restored while stopped")
		}
		r.entries[cfg.Pin] = prev
		return err
	}
	e.stopped = old.stopped || (r.gate != nil && r.gate.Latched())
	if e.stopped {
		e.drv.EmergencyStop("reconfigured while stopped")
	}
	r.entries[cfg.Pin] = e
	r.log.Info("actuator reconfigured",
		zap.Int("pin", cfg.Pin), zap.String("type", cfg.Type), zap.String("name", cfg.Name))
	return r.changed()
}

func (r *Registry) rebuild(cfg types.ActuatorConfig) (*entry, error) {
	b, ok := core.LookupActuator(cfg.Type)
	if !ok {
		return nil, errcode.New(errcode.UnknownType, "actuator", cfg.Type)
	}
	claims, err := b.Claims(cfg)
	if err != nil {
		return nil, err
	}
	return r.instantiate(b, claims, cfg)
}

// instantiate acquires the claimed pins, builds and initialises the driver.
// Pins acquired before a failure are released.
func (r *Registry) instantiate(b core.ActuatorBuilder, claims []core.PinClaim, cfg types.ActuatorConfig) (*entry, error) {
	owner := pins.Owner{Kind: pins.OwnerActuator, ID: cfg.Name}
	handles := make([]platform.Pin, 0, len(claims))
	held := make([]int, 0, len(claims))
	rollback := func() {
		for _, p := range held {
			r.ledger.Release(p)
		}
	}
	for _, c := range claims {
		h, err := r.ledger.Acquire(c.Pin, c.Mode, owner)
		if err != nil {
			rollback()
			return nil, err
		}
		handles = append(handles, h)
		held = append(held, c.Pin)
	}
	drv, err := b.Build(core.ActuatorInput{
		Config: cfg,
		Pins:   handles,
		Log:    r.log.With(zap.Int("pin", cfg.Pin)),
	})
	if err != nil {
		rollback()
		return nil, err
	}
	if err := drv.Init(); err != nil {
		drv.Shutdown()
		rollback()
		return nil, err
	}
	return &entry{cfg: cfg, drv: drv, pins: held}, nil
}

func (r *Registry) teardown(e *entry) {
	e.drv.Shutdown()
	for _, p := range e.pins {
		r.ledger.Release(p)
	}
}

// Remove drives the actuator off, releases its pins and frees the slot.
// Removing an unknown pin returns false and changes nothing.
func (r *Registry) Remove(pin int) bool {
	e, ok := r.entries[pin]
	if !ok {
		return false
	}
	r.teardown(e)
	delete(r.entries, pin)
	r.log.Info("actuator removed", zap.Int("pin", pin), zap.String("name", e.cfg.Name))
	if err := r.changed(); err != nil {
		r.log.Error("persist after remove failed", zap.Error(err))
	}
	return true
}

// BeginBatch defers persistence until the matching EndBatch.
func (r *Registry) BeginBatch() { r.batch++ }

// EndBatch persists once if anything changed during the batch.
func (r *Registry) EndBatch() error {
	if r.batch > 0 {
		r.batch--
	}
	if r.batch > 0 || !r.dirty {
		return nil
	}
	return r.persist()
}

func (r *Registry) changed() error {
	r.dirty = true
	if r.batch > 0 {
		return nil
	}
	return r.persist()
}

func (r *Registry) persist() error {
	set := make([]types.ActuatorConfig, 0, len(r.entries))
	for _, p := range r.Pins() {
		set = append(set, r.entries[p].cfg)
	}
	if err := store.SaveSet(r.kv, store.Actuators, set); err != nil {
		return err
	}
	r.dirty = false
	return nil
}

// Restore reloads the persisted set through Configure. Records that fail
// are reported and skipped.
func (r *Registry) Restore() []error {
	set, errs := store.LoadSet[types.ActuatorConfig](r.kv, store.Actuators)
	r.BeginBatch()
	for _, cfg := range set {
		if err := r.Configure(cfg); err != nil {
			errs = append(errs, fmt.Errorf("restore GPIO%d: %w", cfg.Pin, err))
		}
	}
	r.dirty = false
	_ = r.EndBatch()
	return errs
}

// Dispatch applies a command after the safety gate admits it.
func (r *Registry) Dispatch(pin int, cmd types.ActuatorCommand, now time.Time) (types.ActuatorState, error) {
	e, ok := r.entries[pin]
	if !ok {
		return types.ActuatorState{}, errcode.New(errcode.NotFound, "command", fmt.Sprintf("no actuator on GPIO%d", pin))
	}
	if r.gate != nil {
		if err := r.gate.Admit(pin); err != nil {
			return e.drv.State(), err
		}
	}
	if cmd.Value != nil && (math.IsNaN(*cmd.Value) || *cmd.Value < 0 || *cmd.Value > 1) {
		return e.drv.State(), errcode.New(errcode.OutOfRange, "command", "value must be within 0..1")
	}
	if cmd.Duration < 0 || math.IsNaN(cmd.Duration) {
		return e.drv.State(), errcode.New(errcode.OutOfRange, "command", "duration must be >= 0")
	}

	var err error
	switch cmd.Command {
	case types.CmdOn:
		if cmd.Value != nil {
			err = e.drv.SetValue(*cmd.Value)
		} else {
			err = e.drv.SetBinary(true)
		}
	case types.CmdOff:
		err = e.drv.SetBinary(false)
	case types.CmdPWM:
		if cmd.Value == nil {
			return e.drv.State(), errcode.New(errcode.MissingField, "command", "value")
		}
		err = e.drv.SetPWM(uint8(math.Round(*cmd.Value * 255)))
	case types.CmdToggle:
		err = e.drv.SetBinary(!e.drv.State().On)
	default:
		return e.drv.State(), errcode.New(errcode.UnknownCommand, "command", cmd.Command)
	}
	if err != nil {
		return e.drv.State(), err
	}

	st := e.drv.State()
	r.track(e, st, now)
	e.offAt = time.Time{}
	if st.On && cmd.Duration > 0 {
		e.offAt = now.Add(time.Duration(cmd.Duration * float64(time.Second)))
	}
	return st, nil
}

func (r *Registry) track(e *entry, st types.ActuatorState, now time.Time) {
	switch {
	case st.On && e.onSince.IsZero():
		e.onSince = now
		e.fault = ""
	case !st.On:
		e.onSince = time.Time{}
	}
}

// Violation is a driver-reported safety fault from Tick.
type Violation struct {
	Pin int
	Err error
}

// Tick advances driver timing and expires timed commands.
func (r *Registry) Tick(now time.Time) []Violation {
	var out []Violation
	for _, pin := range r.Pins() {
		e := r.entries[pin]
		if err := e.drv.Tick(now); err != nil {
			out = append(out, Violation{Pin: pin, Err: err})
		}
		if !e.offAt.IsZero() && !now.Before(e.offAt) {
			e.offAt = time.Time{}
			if err := e.drv.SetBinary(false); err != nil {
				r.log.Error("timed off failed", zap.Int("pin", pin), zap.Error(err))
			} else {
				r.log.Info("timed command expired", zap.Int("pin", pin))
			}
		}
		r.track(e, e.drv.State(), now)
	}
	return out
}

// OnTime returns the continuous on-time of pin at now.
func (r *Registry) OnTime(pin int, now time.Time) time.Duration {
	e, ok := r.entries[pin]
	if !ok || e.onSince.IsZero() {
		return 0
	}
	return now.Sub(e.onSince)
}

// ForceOff turns the actuator off regardless of its emergency flag and
// records fault.
func (r *Registry) ForceOff(pin int, fault string) error {
	e, ok := r.entries[pin]
	if !ok {
		return errcode.New(errcode.NotFound, "force off", fmt.Sprintf("GPIO%d", pin))
	}
	e.offAt = time.Time{}
	e.onSince = time.Time{}
	e.fault = fault
	return e.drv.SetBinary(false)
}

// Stop latches the emergency flag and drives the safe output.
func (r *Registry) Stop(pin int, reason string) bool {
	e, ok := r.entries[pin]
	if !ok {
		return false
	}
	e.stopped = true
	e.offAt = time.Time{}
	e.onSince = time.Time{}
	e.drv.EmergencyStop(reason)
	return true
}

// Clear resets the emergency flag. Outputs stay off until commanded.
func (r *Registry) Clear(pin int) bool {
	e, ok := r.entries[pin]
	if !ok || !e.stopped {
		return false
	}
	e.stopped = false
	e.drv.ClearEmergency()
	return true
}

func (r *Registry) Stopped(pin int) bool {
	e, ok := r.entries[pin]
	return ok && e.stopped
}

func (r *Registry) Critical(pin int) bool {
	e, ok := r.entries[pin]
	return ok && e.cfg.Critical
}

// Status reports one actuator.
func (r *Registry) Status(pin int, now time.Time) (types.ActuatorStatus, bool) {
	e, ok := r.entries[pin]
	if !ok {
		return types.ActuatorStatus{}, false
	}
	return types.ActuatorStatus{
		Pin:       pin,
		Type:      e.cfg.Type,
		Name:      e.cfg.Name,
		Zone:      e.cfg.Zone,
		Critical:  e.cfg.Critical,
		State:     e.drv.State(),
		Emergency: e.stopped,
		OnTimeMs:  r.OnTime(pin, now).Milliseconds(),
		Fault:     e.fault,
		TS:        now.UnixMilli(),
	}, true
}

// StatusAll reports every actuator in pin order.
func (r *Registry) StatusAll(now time.Time) []types.ActuatorStatus {
	out := make([]types.ActuatorStatus, 0, len(r.entries))
	for _, p := range r.Pins() {
		st, _ := r.Status(p, now)
		out = append(out, st)
	}
	return out
}

// ShutdownAll drives every actuator off and releases its pins. The
// persisted set is left intact for the next boot.
func (r *Registry) ShutdownAll() {
	for _, p := range r.Pins() {
		r.teardown(r.entries[p])
		delete(r.entries, p)
	}
}
