package core

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/gopatchy/dmxnode/output"
	"github.com/gopatchy/dmxnode/routing"
)

// portPins/portDevices are the target hardware's fixed wiring: ports
// 0/1 drive the hardware-timed symbol encoder over a GPIO line, ports
// 2/3 drive a UART with a driver-enable GPIO.
var portPins = [routing.PortCount]string{"GPIO17", "GPIO27", "", ""}
var portDevices = [routing.PortCount]string{"", "", "/dev/ttyS2", "/dev/ttyS3"}
var portDEPins = [routing.PortCount]string{"", "", "GPIO22", "GPIO23"}

// buildBackends constructs one transmit backend per enabled port,
// according to its configured Backend tag. A port whose backend cannot
// be constructed (missing hardware, permissions) is left nil and simply
// never ticks; the error is returned for logging, not fatal to Start.
// host.Init runs first so GPIO pin lookups work regardless of which
// backend variants the config enables.
func buildBackends(cfg routing.Config) ([routing.PortCount]output.Backend, error) {
	var backends [routing.PortCount]output.Backend
	var firstErr error

	anyEnabled := false
	for _, p := range cfg.Ports {
		if p.Enabled {
			anyEnabled = true
		}
	}
	if anyEnabled {
		if _, err := host.Init(); err != nil {
			return backends, fmt.Errorf("host init: %w", err)
		}
	}

	for i, p := range cfg.Ports {
		if !p.Enabled {
			continue
		}
		var b output.Backend
		var err error
		switch p.Backend {
		case routing.BackendHwSymbol:
			b, err = output.NewHwSymbolBackend(portPins[i])
		case routing.BackendUARTInvert:
			var dePin gpio.PinIO
			if portDEPins[i] != "" {
				dePin = gpioreg.ByName(portDEPins[i])
				if dePin == nil {
					err = fmt.Errorf("unknown driver-enable pin %q", portDEPins[i])
				}
			}
			if err == nil {
				b, err = output.NewUARTInvertBackend(portDevices[i], dePin)
			}
		default:
			err = fmt.Errorf("unknown backend tag %v", p.Backend)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("port %d: %w", i, err)
			}
			continue
		}
		backends[i] = b
	}
	return backends, firstErr
}
