// Package pins tracks exclusive ownership of the board's GPIO lines.
package pins

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"fieldnode-go/errcode"
	"fieldnode-go/services/hal/internal/platform"
)

// OwnerKind classifies who holds a pin.
type OwnerKind string

const (
	OwnerNone     OwnerKind = ""
	OwnerSensor   OwnerKind = "sensor"
	OwnerActuator OwnerKind = "actuator"
	OwnerSystem   OwnerKind = "system"
)

// Owner identifies the holder of a pin.
type Owner struct {
	Kind OwnerKind
	ID   string
}

func (o Owner) String() string {
	if o.Kind == OwnerNone {
		return "none"
	}
	return string(o.Kind) + ":" + o.ID
}

// Mode records what the owner uses the pin for.
type Mode string

const (
	ModeSafe    Mode = "safe"
	ModeInput   Mode = "input"
	ModeOutput  Mode = "output"
	ModePWM     Mode = "pwm"
	ModeOneWire Mode = "onewire"
	ModePower   Mode = "power"
)

// Info is one row of a ledger snapshot.
type Info struct {
	Pin      int
	Owner    Owner
	Mode     Mode
	Reserved bool
}

type entry struct {
	owner Owner
	mode  Mode
	hw    platform.Pin
}

// Ledger is the single source of truth for pin ownership. It is not safe
// for concurrent use; the HAL loop owns it.
type Ledger struct {
	board platform.Board
	hw    platform.Backend
	log   *zap.Logger
	held  map[int]*entry
}

func New(board platform.Board, hw platform.Backend, log *zap.Logger) *Ledger {
	return &Ledger{
		board: board,
		hw:    hw,
		log:   log,
		held:  map[int]*entry{},
	}
}

// Boot drives every non-reserved pin to the safe state. It must succeed
// before any driver is created.
func (l *Ledger) Boot() error {
	for n := l.board.GPIOMin; n <= l.board.GPIOMax; n++ {
		if l.board.IsReserved(n) {
			continue
		}
		p, err := l.hw.Pin(n)
		if err != nil {
			return fmt.Errorf("safe state GPIO%d: %w", n, err)
		}
		if err := platform.SafeState(p); err != nil {
			return fmt.Errorf("safe state GPIO%d: %w", n, err)
		}
	}
	l.log.Info("all pins in safe state",
		zap.String("board", l.board.Name),
		zap.Int("reserved", len(l.board.Reserved)))
	return nil
}

// Acquire grants pin to owner and returns its hardware handle.
func (l *Ledger) Acquire(pin int, mode Mode, owner Owner) (platform.Pin, error) {
	switch {
	case !l.board.InRange(pin):
		return nil, errcode.New(errcode.UnknownPin, "acquire", fmt.Sprintf("GPIO%d not on board %s", pin, l.board.Name))
	case l.board.IsReserved(pin):
		return nil, errcode.New(errcode.PinReserved, "acquire", fmt.Sprintf("GPIO%d reserved by system", pin))
	}
	if e, ok := l.held[pin]; ok {
		l.log.Warn("pin conflict",
			zap.Int("pin", pin),
			zap.Stringer("holder", e.owner),
			zap.Stringer("requester", owner))
		return nil, errcode.New(errcode.PinInUse, "acquire", fmt.Sprintf("GPIO%d held by %s", pin, e.owner))
	}
	hw, err := l.hw.Pin(pin)
	if err != nil {
		return nil, err
	}
	l.held[pin] = &entry{owner: owner, mode: mode, hw: hw}
	l.log.Info("pin acquired",
		zap.Int("pin", pin),
		zap.Stringer("owner", owner),
		zap.String("mode", string(mode)))
	return hw, nil
}

// Release returns pin to the safe state and clears its owner. Releasing a
// free pin is a no-op.
func (l *Ledger) Release(pin int) {
	e, ok := l.held[pin]
	if !ok {
		return
	}
	delete(l.held, pin)
	if err := platform.SafeState(e.hw); err != nil {
		l.log.Error("pin safe state failed on release", zap.Int("pin", pin), zap.Error(err))
	}
	l.log.Info("pin released", zap.Int("pin", pin), zap.Stringer("owner", e.owner))
}

// IsAvailable reports whether pin could be acquired right now.
func (l *Ledger) IsAvailable(pin int) bool {
	if !l.board.InRange(pin) || l.board.IsReserved(pin) {
		return false
	}
	_, held := l.held[pin]
	return !held
}

// Owner returns the holder of pin.
func (l *Ledger) Owner(pin int) (Owner, bool) {
	e, ok := l.held[pin]
	if !ok {
		return Owner{}, false
	}
	return e.owner, true
}

// Held returns the number of acquired pins.
func (l *Ledger) Held() int { return len(l.held) }

// Snapshot lists held and reserved pins in ascending order.
func (l *Ledger) Snapshot() []Info {
	out := make([]Info, 0, len(l.held)+len(l.board.Reserved))
	for _, n := range l.board.Reserved {
		out = append(out, Info{Pin: n, Owner: Owner{Kind: OwnerSystem, ID: "reserved"}, Mode: ModeSafe, Reserved: true})
	}
	for n, e := range l.held {
		out = append(out, Info{Pin: n, Owner: e.owner, Mode: e.mode})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pin < out[j].Pin })
	return out
}

func (l *Ledger) Board() platform.Board { return l.board }
