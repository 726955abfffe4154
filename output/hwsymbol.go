// Hardware-timed symbol encoder backend: drives a GPIO pin directly,
// toggling it for BREAK/MAB and each DMX bit cell. No dedicated
// peripheral driver exists for DMX512's serial framing, so the pin is
// driven through periph.io's general-purpose gpio.PinIO interface.
package output

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// HwSymbolBackend bit-bangs a DMX512 frame onto a single GPIO line: one
// break/MAB pair, then a start bit, 8 data bits, and 2 stop bits per
// byte, each bit cell held for bitPeriod. Submitted as one blocking
// sequence of pin writes: the "symbol stream" is the sequence of
// gpio.Level writes, not a literal hardware DMA buffer, since periph.io
// exposes GPIO as simple level I/O rather than timed symbol queues.
type HwSymbolBackend struct {
	pin gpio.PinIO
}

// NewHwSymbolBackend resolves a named GPIO pin (e.g. "GPIO18") and
// prepares it for output. It calls host.Init itself, so it does not
// depend on the caller having initialised the host first.
func NewHwSymbolBackend(pinName string) (*HwSymbolBackend, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("hwsymbol: host init: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("hwsymbol: unknown pin %q", pinName)
	}
	if err := pin.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("hwsymbol: initial idle-high: %w", err)
	}
	return &HwSymbolBackend{pin: pin}, nil
}

// Submit drives BREAK (low), MAB (high), then the 513-byte frame as
// start/data/stop bit cells, LSB-first, each cell bitPeriod wide.
func (b *HwSymbolBackend) Submit(frame Frame, timing TimingUS) error {
	if err := b.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("hwsymbol: break: %w", err)
	}
	sleepUS(timing.BreakUS)

	if err := b.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("hwsymbol: mab: %w", err)
	}
	sleepUS(timing.MABUS)

	for _, byt := range frame {
		if err := b.writeByte(byt); err != nil {
			return err
		}
	}
	return nil
}

func (b *HwSymbolBackend) writeByte(byt byte) error {
	// Start bit: line low for one cell.
	if err := b.pin.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(bitPeriod)

	// 8 data bits, LSB first.
	for i := 0; i < 8; i++ {
		level := gpio.Low
		if byt&(1<<uint(i)) != 0 {
			level = gpio.High
		}
		if err := b.pin.Out(level); err != nil {
			return err
		}
		time.Sleep(bitPeriod)
	}

	// 2 stop bits: line high for two cells.
	if err := b.pin.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(2 * bitPeriod)
	return nil
}

func sleepUS(us int) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

// Close releases the pin by leaving it idle-high.
func (b *HwSymbolBackend) Close() error {
	return b.pin.Out(gpio.High)
}
