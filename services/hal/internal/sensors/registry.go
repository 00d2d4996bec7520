// Package sensors owns the configured sensors and schedules their
// split-phase measurements. It is driven from the HAL loop.
package sensors

import (
	"context"
	"errors"
	"fmt"
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

// Bounds on the continuous measurement interval.
const (
	MinInterval = 100 * time.Millisecond
	MaxInterval = 24 * time.Hour
)

// collectRetry is the back-off when a conversion is not finished yet.
const collectRetry = 10 * time.Millisecond

// PinHolder is implemented by the actuator registry.
type PinHolder interface {
	Has(pin int) bool
}

type entry struct {
	cfg        types.SensorConfig
	drv        core.SensorDriver
	interval   time.Duration
	converting bool
	requested  bool
	last       types.SensorReading
}

type Registry struct {
	ledger   *pins.Ledger
	hw       platform.Backend
	kv       store.KV
	capacity int
	interval time.Duration
	log      *zap.Logger
	peer     PinHolder
	entries  map[int]*entry
	sched    *schedule

	batch int
	dirty bool
}

// New returns an empty registry. defaultInterval applies to continuous
// sensors configured without an interval.
func New(ledger *pins.Ledger, hw platform.Backend, kv store.KV, capacity int, defaultInterval time.Duration, log *zap.Logger) *Registry {
	return &Registry{
		ledger:   ledger,
		hw:       hw,
		kv:       kv,
		capacity: capacity,
		interval: defaultInterval,
		log:      log,
		entries:  map[int]*entry{},
		sched:    newSchedule(),
	}
}

func (r *Registry) SetPeer(p PinHolder) { r.peer = p }

func (r *Registry) Len() int      { return len(r.entries) }
func (r *Registry) Capacity() int { return r.capacity }

func (r *Registry) Has(pin int) bool {
	_, ok := r.entries[pin]
	return ok
}

func (r *Registry) Pins() []int {
	out := make([]int, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (r *Registry) Config(pin int) (types.SensorConfig, bool) {
	e, ok := r.entries[pin]
	if !ok {
		return types.SensorConfig{}, false
	}
	return e.cfg, true
}

func (r *Registry) validate(cfg *types.SensorConfig) error {
	switch {
	case cfg.Type == "":
		return errcode.New(errcode.MissingField, "sensor", "sensor_type")
	case cfg.Name == "":
		return errcode.New(errcode.MissingField, "sensor", "sensor_name")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = types.ModeContinuous
	case types.ModeContinuous, types.ModeOnDemand, types.ModePaused, types.ModeScheduled:
	default:
		return errcode.New(errcode.InvalidField, "sensor", "operating_mode "+cfg.Mode)
	}
	if cfg.IntervalMs != 0 {
		iv := time.Duration(cfg.IntervalMs) * time.Millisecond
		if iv < MinInterval || iv > MaxInterval {
			return errcode.New(errcode.OutOfRange, "sensor",
				fmt.Sprintf("measurement_interval_ms %d outside %d..%d", cfg.IntervalMs, MinInterval.Milliseconds(), MaxInterval.Milliseconds()))
		}
	}
	return nil
}

// Configure applies one sensor record, mirroring the actuator registry.
func (r *Registry) Configure(ctx context.Context, cfg types.SensorConfig, now time.Time) error {
	if !r.ledger.Board().InRange(cfg.Pin) {
		return errcode.New(errcode.UnknownPin, "sensor", fmt.Sprintf("GPIO%d not on board", cfg.Pin))
	}
	if !cfg.Active {
		if !r.Remove(cfg.Pin) {
			return errcode.New(errcode.NotFound, "sensor", fmt.Sprintf("no sensor on GPIO%d", cfg.Pin))
		}
		return nil
	}
	if err := r.validate(&cfg); err != nil {
		return err
	}
	b, ok := core.LookupSensor(cfg.Type)
	if !ok {
		return errcode.New(errcode.UnknownType, "sensor", cfg.Type)
	}
	claim, err := b.Claims(cfg)
	if err != nil {
		return err
	}
	if r.peer != nil && r.peer.Has(claim.Pin) {
		return errcode.New(errcode.PinConflict, "sensor", fmt.Sprintf("GPIO%d is an actuator", claim.Pin))
	}

	old, exists := r.entries[cfg.Pin]
	if !exists && len(r.entries) >= r.capacity {
		return errcode.New(errcode.CapacityExhausted, "sensor", fmt.Sprintf("%d slots in use", r.capacity))
	}
	if exists {
		r.teardown(old)
	}
	e, err := r.instantiate(ctx, b, claim, cfg)
	if err != nil {
		if exists {
			r.log.Warn("reconfigure failed, restoring previous", zap.Int("pin", cfg.Pin), zap.Error(err))
			r.restorePrevious(ctx, old, now)
		}
		return err
	}
	r.entries[cfg.Pin] = e
	r.arm(cfg.Pin, e, now)
	r.log.Info("sensor configured",
		zap.Int("pin", cfg.Pin), zap.String("type", cfg.Type),
		zap.String("name", cfg.Name), zap.String("mode", cfg.Mode))
	return r.changed()
}

func (r *Registry) restorePrevious(ctx context.Context, old *entry, now time.Time) {
	b, _ := core.LookupSensor(old.cfg.Type)
	claim, err := b.Claims(old.cfg)
	var prev *entry
	if err == nil {
		prev, err = r.instantiate(ctx, b, claim, old.cfg)
	}
	if err != nil {
		delete(r.entries, old.cfg.Pin)
		r.sched.remove(old.cfg.Pin)
		r.log.Error("previous sensor lost", zap.Int("pin", old.cfg.Pin), zap.Error(err))
		_ = r.changed()
		return
	}
	r.entries[old.cfg.Pin] = prev
	r.arm(old.cfg.Pin, prev, now)
}

func (r *Registry) instantiate(ctx context.Context, b core.SensorBuilder, claim core.PinClaim, cfg types.SensorConfig) (*entry, error) {
	h, err := r.ledger.Acquire(claim.Pin, claim.Mode, pins.Owner{Kind: pins.OwnerSensor, ID: cfg.Name})
	if err != nil {
		return nil, err
	}
	drv, err := b.Build(core.SensorInput{
		Config: cfg,
		Pin:    h,
		HW:     r.hw,
		Log:    r.log.With(zap.Int("pin", cfg.Pin)),
	})
	if err != nil {
		r.ledger.Release(claim.Pin)
		return nil, err
	}
	if err := drv.Init(ctx); err != nil {
		drv.Shutdown()
		r.ledger.Release(claim.Pin)
		return nil, err
	}
	iv := time.Duration(cfg.IntervalMs) * time.Millisecond
	if iv == 0 {
		iv = r.interval
	}
	return &entry{cfg: cfg, drv: drv, interval: iv}, nil
}

// arm schedules the first measurement of a freshly built entry.
func (r *Registry) arm(pin int, e *entry, now time.Time) {
	r.sched.remove(pin)
	if e.cfg.Mode == types.ModeContinuous {
		r.sched.set(pin, now)
	}
}

func (r *Registry) teardown(e *entry) {
	r.sched.remove(e.cfg.Pin)
	e.drv.Shutdown()
	r.ledger.Release(e.cfg.Pin)
}

// Remove shuts the sensor down and frees its pin and slot.
func (r *Registry) Remove(pin int) bool {
	e, ok := r.entries[pin]
	if !ok {
		return false
	}
	r.teardown(e)
	delete(r.entries, pin)
	r.log.Info("sensor removed", zap.Int("pin", pin), zap.String("name", e.cfg.Name))
	if err := r.changed(); err != nil {
		r.log.Error("persist after remove failed", zap.Error(err))
	}
	return true
}

func (r *Registry) BeginBatch() { r.batch++ }

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
	set := make([]types.SensorConfig, 0, len(r.entries))
	for _, p := range r.Pins() {
		set = append(set, r.entries[p].cfg)
	}
	if err := store.SaveSet(r.kv, store.Sensors, set); err != nil {
		return err
	}
	r.dirty = false
	return nil
}

// Restore reloads the persisted set through Configure.
func (r *Registry) Restore(ctx context.Context, now time.Time) []error {
	set, errs := store.LoadSet[types.SensorConfig](r.kv, store.Sensors)
	r.BeginBatch()
	for _, cfg := range set {
		if err := r.Configure(ctx, cfg, now); err != nil {
			errs = append(errs, fmt.Errorf("restore GPIO%d: %w", cfg.Pin, err))
		}
	}
	r.dirty = false
	_ = r.EndBatch()
	return errs
}

// Request asks for one measurement at the next Poll. Paused sensors refuse.
func (r *Registry) Request(pin int, now time.Time) error {
	e, ok := r.entries[pin]
	switch {
	case !ok:
		return errcode.New(errcode.NotFound, "measure", fmt.Sprintf("no sensor on GPIO%d", pin))
	case e.cfg.Mode == types.ModePaused:
		return errcode.New(errcode.InvalidField, "measure", "sensor is paused")
	case e.converting:
		e.requested = true // served by the conversion in flight
		return nil
	}
	e.requested = true
	r.sched.set(pin, now)
	return nil
}

// NextDue reports when Poll next has work.
func (r *Registry) NextDue() (time.Time, bool) { return r.sched.next() }

// Poll advances every due sensor by one phase and returns finished readings.
func (r *Registry) Poll(ctx context.Context, now time.Time) []types.SensorReading {
	var out []types.SensorReading
	for _, pin := range r.sched.popDue(now) {
		e := r.entries[pin]
		if e == nil {
			continue
		}
		if rd, done := r.step(ctx, e, now); done {
			e.last = rd
			out = append(out, rd)
		}
	}
	return out
}

func (r *Registry) step(ctx context.Context, e *entry, now time.Time) (types.SensorReading, bool) {
	pin := e.cfg.Pin
	if !e.converting {
		wait, err := e.drv.Trigger(ctx)
		switch {
		case errors.Is(err, core.ErrNotReady):
			r.sched.set(pin, now.Add(max(wait, collectRetry)))
			return types.SensorReading{}, false
		case err != nil:
			r.finish(e, now)
			return r.reading(e, core.Sample{}, err, now), true
		}
		e.converting = true
		if wait > 0 {
			r.sched.set(pin, now.Add(wait))
			return types.SensorReading{}, false
		}
	}
	s, err := e.drv.Collect(ctx)
	if errors.Is(err, core.ErrNotReady) {
		r.sched.set(pin, now.Add(collectRetry))
		return types.SensorReading{}, false
	}
	r.finish(e, now)
	return r.reading(e, s, err, now), true
}

// finish ends a measurement cycle and arms the next one.
func (r *Registry) finish(e *entry, now time.Time) {
	e.converting = false
	e.requested = false
	if e.cfg.Mode == types.ModeContinuous {
		r.sched.set(e.cfg.Pin, now.Add(e.interval))
	}
}

func (r *Registry) reading(e *entry, s core.Sample, err error, now time.Time) types.SensorReading {
	rd := types.SensorReading{
		Pin:     e.cfg.Pin,
		Type:    e.cfg.Type,
		Name:    e.cfg.Name,
		Zone:    e.cfg.Zone,
		Values:  s.Values,
		Raw:     s.Raw,
		Quality: types.QualityGood,
		Detail:  s.Detail,
		TS:      now.UnixMilli(),
	}
	switch {
	case err != nil:
		rd.Quality = types.QualityError
		rd.ErrorCode = string(errcode.Of(err))
		rd.Detail = errcode.Detail(err)
		r.log.Warn("measurement failed", zap.Int("pin", e.cfg.Pin), zap.Error(err))
	case s.Fault:
		rd.Quality = types.QualityError
		r.log.Warn("sensor fault value", zap.Int("pin", e.cfg.Pin), zap.String("detail", s.Detail))
	}
	return rd
}

func (r *Registry) Status() []types.SensorStatus {
	out := make([]types.SensorStatus, 0, len(r.entries))
	for _, p := range r.Pins() {
		e := r.entries[p]
		out = append(out, types.SensorStatus{
			Pin:         p,
			Type:        e.cfg.Type,
			Name:        e.cfg.Name,
			Zone:        e.cfg.Zone,
			Mode:        e.cfg.Mode,
			IntervalMs:  uint32(e.interval.Milliseconds()),
			LastQuality: e.last.Quality,
			LastTS:      e.last.TS,
		})
	}
	return out
}

// ShutdownAll stops every sensor and releases its pin.
func (r *Registry) ShutdownAll() {
	for _, p := range r.Pins() {
		r.teardown(r.entries[p])
		delete(r.entries, p)
	}
}
