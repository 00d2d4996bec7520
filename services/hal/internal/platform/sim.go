package platform

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/onewire"
	"tinygo.org/x/drivers"

	"fieldnode-go/errcode"
)

// Pin modes as reported by the simulation.
const (
	SimUnconfigured = "unconfigured"
	SimInput        = "input"
	SimOutput       = "output"
	SimPWM          = "pwm"
)

// Sim is an in-memory Backend. Pins honour the board's capabilities so
// driver validation paths behave as on hardware.
type Sim struct {
	mu      sync.Mutex
	board   Board
	pins    map[int]*SimPin
	i2c     *SimI2C
	oneWire map[int]onewire.Bus
	failing map[int]error
}

// NewSim returns a simulated backend for board.
func NewSim(board Board) *Sim {
	return &Sim{
		board:   board,
		pins:    map[int]*SimPin{},
		i2c:     &SimI2C{devices: map[uint16]I2CDevice{}},
		oneWire: map[int]onewire.Bus{},
		failing: map[int]error{},
	}
}

func (s *Sim) Pin(n int) (Pin, error) {
	if !s.board.InRange(n) {
		return nil, errcode.New(errcode.UnknownPin, "sim", fmt.Sprintf("GPIO%d", n))
	}
	return s.pin(n), nil
}

func (s *Sim) pin(n int) *SimPin {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[n]
	if !ok {
		p = &SimPin{sim: s, n: n, mode: SimUnconfigured}
		s.pins[n] = p
	}
	return p
}

func (s *Sim) I2C() (drivers.I2C, error) { return s.i2c, nil }

func (s *Sim) OneWire(pin int) (onewire.Bus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.oneWire[pin]
	if !ok {
		return nil, errcode.New(errcode.BusError, "sim", fmt.Sprintf("no 1-wire bus on GPIO%d", pin))
	}
	return b, nil
}

func (s *Sim) Close() error { return nil }

// AttachOneWire places bus on pin.
func (s *Sim) AttachOneWire(pin int, bus onewire.Bus) {
	s.mu.Lock()
	s.oneWire[pin] = bus
	s.mu.Unlock()
}

// AttachI2C places dev at addr on the shared I²C bus.
func (s *Sim) AttachI2C(addr uint16, dev I2CDevice) {
	s.i2c.mu.Lock()
	s.i2c.devices[addr] = dev
	s.i2c.mu.Unlock()
}

// FailPin makes every configuration call on pin return err; nil clears it.
func (s *Sim) FailPin(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failing, n)
		return
	}
	s.failing[n] = err
}

func (s *Sim) failure(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failing[n]
}

// Mode reports the configured mode of pin n.
func (s *Sim) Mode(n int) string {
	p := s.pin(n)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Level reports the output (or driven input) level of pin n.
func (s *Sim) Level(n int) bool { return s.pin(n).Get() }

// Pull reports the input bias of pin n.
func (s *Sim) Pull(n int) Pull {
	p := s.pin(n)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pull
}

// Duty reports the PWM duty of pin n.
func (s *Sim) Duty(n int) uint8 {
	p := s.pin(n)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Drive sets the level seen by an input on pin n.
func (s *Sim) Drive(n int, level bool) {
	p := s.pin(n)
	p.mu.Lock()
	p.level = level
	p.mu.Unlock()
}

// SimPin is one simulated line.
type SimPin struct {
	sim   *Sim
	mu    sync.Mutex
	n     int
	mode  string
	pull  Pull
	level bool
	duty  uint8
	freq  uint32
}

func (p *SimPin) Number() int { return p.n }

func (p *SimPin) ConfigureInput(pull Pull) error {
	if err := p.sim.failure(p.n); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode, p.pull, p.duty = SimInput, pull, 0
	p.level = pull == PullUp
	return nil
}

func (p *SimPin) ConfigureOutput(initial bool) error {
	if err := p.sim.failure(p.n); err != nil {
		return err
	}
	if !p.sim.board.CanOutput(p.n) {
		return errcode.New(errcode.Unsupported, "sim", fmt.Sprintf("GPIO%d is input-only", p.n))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode, p.pull, p.level = SimOutput, PullNone, initial
	return nil
}

func (p *SimPin) ConfigurePWM(freqHz uint32) error {
	if err := p.sim.failure(p.n); err != nil {
		return err
	}
	if !p.sim.board.CanPWM(p.n) {
		return errcode.New(errcode.Unsupported, "sim", fmt.Sprintf("GPIO%d has no PWM", p.n))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode, p.pull, p.freq, p.duty, p.level = SimPWM, PullNone, freqHz, 0, false
	return nil
}

func (p *SimPin) Set(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != SimOutput {
		return errcode.New(errcode.Unsupported, "sim", fmt.Sprintf("GPIO%d is not an output", p.n))
	}
	p.level = level
	return nil
}

func (p *SimPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *SimPin) SetDuty(duty uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != SimPWM {
		return errcode.New(errcode.Unsupported, "sim", fmt.Sprintf("GPIO%d is not PWM", p.n))
	}
	p.duty = duty
	p.level = duty > 0
	return nil
}

// I2CDevice answers transactions addressed to it on the simulated bus.
type I2CDevice interface {
	Tx(w, r []byte) error
}

// SimI2C is the simulated shared I²C bus.
type SimI2C struct {
	mu      sync.Mutex
	devices map[uint16]I2CDevice
}

func (b *SimI2C) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	dev, ok := b.devices[addr]
	b.mu.Unlock()
	if !ok {
		return errcode.New(errcode.BusError, "i2c", fmt.Sprintf("nack from 0x%02x", addr))
	}
	return dev.Tx(w, r)
}
