// Package gpio drives the three-lead status light through periph.io.
//
// The state to pin mapping lives here and nowhere else:
//
//	state   R G B
//	off     0 0 0
//	green   0 1 0
//	yellow  1 1 0
//	red     1 0 0
//
// Pins are active-high as wired.
package gpio

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"busylight/internal/light"
	appLog "busylight/internal/log"
)

// Driver applies a light state to the output hardware.
type Driver interface {
	// Set is idempotent: applying the same state twice leaves the same
	// observable output as applying it once.
	Set(s light.State) error
	// Close turns the light off and releases the hardware.
	Close() error
}

// Bits is a three-bit R,G,B pattern.
type Bits struct {
	R, G, B bool
}

func (b Bits) String() string {
	out := []byte("000")
	if b.R {
		out[0] = '1'
	}
	if b.G {
		out[1] = '1'
	}
	if b.B {
		out[2] = '1'
	}
	return string(out)
}

// Pattern returns the fixed pin pattern for a state. Unknown states map to
// all-off.
func Pattern(s light.State) Bits {
	switch s {
	case light.Green:
		return Bits{G: true}
	case light.Yellow:
		return Bits{R: true, G: true}
	case light.Red:
		return Bits{R: true}
	default:
		return Bits{}
	}
}

// WriteError reports a failed write to a single output pin.
type WriteError struct {
	Pin string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("gpio: write %s: %v", e.Pin, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// PinConfig names the three output pins as understood by gpioreg.ByName,
// e.g. "GPIO17" or "P1_11".
type PinConfig struct {
	Red   string
	Green string
	Blue  string
}

// PinDriver drives three periph.io output pins.
type PinDriver struct {
	mu               sync.Mutex
	red, green, blue gpio.PinOut
}

// Open initializes periph.io, resolves the configured pins and returns a
// driver with the light already off.
func Open(cfg PinConfig) (*PinDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: periph host init failed: %w", err)
	}

	resolve := func(name string) (gpio.PinOut, error) {
		if name == "" {
			return nil, errors.New("gpio: pin name is empty")
		}
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio: pin %s not found", name)
		}
		return p, nil
	}

	r, err := resolve(cfg.Red)
	if err != nil {
		return nil, err
	}
	g, err := resolve(cfg.Green)
	if err != nil {
		return nil, err
	}
	b, err := resolve(cfg.Blue)
	if err != nil {
		return nil, err
	}

	appLog.Info("gpio pins resolved", "red", cfg.Red, "green", cfg.Green, "blue", cfg.Blue)
	return NewPinDriver(r, g, b)
}

// NewPinDriver wraps already-resolved pins. All pins are driven low before
// it returns so the light starts in a known off state.
func NewPinDriver(red, green, blue gpio.PinOut) (*PinDriver, error) {
	if red == nil || green == nil || blue == nil {
		return nil, errors.New("gpio: all three pins are required")
	}
	d := &PinDriver{red: red, green: green, blue: blue}
	if err := d.Set(light.Off); err != nil {
		return nil, err
	}
	return d, nil
}

// Set writes the pattern for s to all three pins. Every pin is written even
// if an earlier one fails; the first failure is returned.
func (d *PinDriver) Set(s light.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bits := Pattern(s)
	var firstErr error
	write := func(p gpio.PinOut, on bool) {
		if err := p.Out(gpio.Level(on)); err != nil && firstErr == nil {
			firstErr = &WriteError{Pin: p.Name(), Err: err}
		}
	}
	write(d.red, bits.R)
	write(d.green, bits.G)
	write(d.blue, bits.B)

	appLog.Debug("gpio pattern written", "state", s, "bits", bits)
	return firstErr
}

// Close turns the light off.
func (d *PinDriver) Close() error {
	return d.Set(light.Off)
}

// LogDriver is a Driver without hardware. It remembers and logs the last
// state, which is enough for development machines and -no-hardware runs.
type LogDriver struct {
	mu    sync.Mutex
	state light.State
}

func NewLogDriver() *LogDriver {
	appLog.Info("gpio disabled; using log driver")
	return &LogDriver{}
}

func (d *LogDriver) Set(s light.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
	appLog.Info("light", "state", s, "bits", Pattern(s))
	return nil
}

func (d *LogDriver) Close() error {
	return d.Set(light.Off)
}

// State returns the last state set.
func (d *LogDriver) State() light.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
