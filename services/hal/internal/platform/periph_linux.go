//go:build linux

package platform

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewirereg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"fieldnode-go/errcode"
)

// Periph drives real hardware through periph.io.
type Periph struct {
	board      Board
	i2cName    string
	oneWireBus string

	mu  sync.Mutex
	i2c i2c.BusCloser
	ow  onewire.BusCloser
}

// NewPeriph initialises the host drivers. i2cBus and oneWireBus name the
// registered buses; empty selects the default.
func NewPeriph(board Board, i2cBus, oneWireBus string) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &Periph{board: board, i2cName: i2cBus, oneWireBus: oneWireBus}, nil
}

func (p *Periph) Pin(n int) (Pin, error) {
	if !p.board.InRange(n) {
		return nil, errcode.New(errcode.UnknownPin, "periph", fmt.Sprintf("GPIO%d", n))
	}
	io := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if io == nil {
		return nil, errcode.New(errcode.UnknownPin, "periph", fmt.Sprintf("GPIO%d not registered", n))
	}
	return &periphPin{io: io, n: n}, nil
}

func (p *Periph) I2C() (drivers.I2C, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.i2c == nil {
		b, err := i2creg.Open(p.i2cName)
		if err != nil {
			return nil, errcode.Wrap(errcode.BusError, "i2c open", err)
		}
		p.i2c = b
	}
	return p.i2c, nil
}

// OneWire opens the host 1-Wire master. Linux exposes one w1 master whose
// data line is fixed by the device tree, so pin only selects ownership.
func (p *Periph) OneWire(pin int) (onewire.Bus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ow == nil {
		b, err := onewirereg.Open(p.oneWireBus)
		if err != nil {
			return nil, errcode.Wrap(errcode.BusError, "onewire open", err)
		}
		p.ow = b
	}
	return p.ow, nil
}

func (p *Periph) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	if p.i2c != nil {
		first = p.i2c.Close()
		p.i2c = nil
	}
	if p.ow != nil {
		if err := p.ow.Close(); err != nil && first == nil {
			first = err
		}
		p.ow = nil
	}
	return first
}

type periphPin struct {
	io   gpio.PinIO
	n    int
	freq physic.Frequency
}

func (p *periphPin) Number() int { return p.n }

func (p *periphPin) ConfigureInput(pull Pull) error {
	gp := gpio.Float
	switch pull {
	case PullUp:
		gp = gpio.PullUp
	case PullDown:
		gp = gpio.PullDown
	}
	return p.io.In(gp, gpio.NoEdge)
}

func (p *periphPin) ConfigureOutput(initial bool) error {
	return p.io.Out(gpio.Level(initial))
}

func (p *periphPin) ConfigurePWM(freqHz uint32) error {
	if freqHz == 0 {
		freqHz = 1000
	}
	p.freq = physic.Frequency(freqHz) * physic.Hertz
	if err := p.io.PWM(0, p.freq); err != nil {
		return errcode.Wrap(errcode.Unsupported, "pwm", err)
	}
	return nil
}

func (p *periphPin) Set(level bool) error { return p.io.Out(gpio.Level(level)) }
func (p *periphPin) Get() bool            { return p.io.Read() == gpio.High }

func (p *periphPin) SetDuty(duty uint8) error {
	d := gpio.Duty(int64(gpio.DutyMax) * int64(duty) / 255)
	return p.io.PWM(d, p.freq)
}
