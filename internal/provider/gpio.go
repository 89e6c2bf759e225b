package provider

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	hostInitOnce sync.Once
	hostInitErr  error
)

// gpioLine adapts a periph pin to Line.
type gpioLine struct {
	pin gpio.PinIO
}

// OpenGPIOLine looks up a host GPIO pin by name (e.g. "GPIO17") and
// returns it as a Line. Host drivers are loaded on first use.
func OpenGPIOLine(name string) (Line, error) {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	if hostInitErr != nil {
		return nil, fmt.Errorf("initialising gpio host drivers: %w", hostInitErr)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %q", ErrLineNotFound, name)
	}

	return &gpioLine{pin: pin}, nil
}

func (l *gpioLine) Out(high bool) error {
	return l.pin.Out(gpio.Level(high))
}

func (l *gpioLine) Read() (bool, error) {
	return bool(l.pin.Read()), nil
}

func (l *gpioLine) String() string {
	return l.pin.Name()
}
