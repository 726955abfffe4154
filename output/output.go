// Package output drives the periodic DMX512 transmit engine: one ticker
// per port at its configured refresh rate, reading the fail-safe
// supervisor's chosen frame and submitting it to the port's transmit
// backend.
package output

import (
	"log"
	"sync"
	"time"

	"github.com/gopatchy/dmxnode/routing"
)

// FrameSource supplies the frame a port should transmit on this tick,
// already resolved through the fail-safe supervisor.
type FrameSource interface {
	Frame(port int, cfg routing.FailsafeConfig, nowMS uint64) [512]byte
}

// ConfigSource supplies the current routing config snapshot.
type ConfigSource interface {
	Snapshot() routing.Config
}

// Engine runs one goroutine per port, each on its own ticker derived
// from that port's configured refresh rate. If a tick is still running
// when the next one fires, the new tick is skipped for that port, never
// queued.
type Engine struct {
	frames   FrameSource
	config   ConfigSource
	backends [routing.PortCount]Backend
	nowMS    func() uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds an output engine. backends[i] may be nil for a disabled or
// unconfigured port.
func New(frames FrameSource, config ConfigSource, backends [routing.PortCount]Backend, nowMS func() uint64) *Engine {
	return &Engine{
		frames:   frames,
		config:   config,
		backends: backends,
		nowMS:    nowMS,
		stop:     make(chan struct{}),
	}
}

// Start launches one ticking goroutine per configured port.
func (e *Engine) Start() {
	for port := 0; port < routing.PortCount; port++ {
		if e.backends[port] == nil {
			continue
		}
		e.wg.Add(1)
		go e.runPort(port)
	}
}

func (e *Engine) runPort(port int) {
	defer e.wg.Done()

	hz := e.refreshHz(port)
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick(port)
			// A tick that fired while the transmit was still running is
			// dropped, never queued.
			select {
			case <-ticker.C:
			default:
			}
			// Follow runtime refresh-rate changes.
			if newHz := e.refreshHz(port); newHz != hz {
				hz = newHz
				ticker.Reset(time.Second / time.Duration(hz))
			}
		}
	}
}

func (e *Engine) refreshHz(port int) int {
	hz := e.config.Snapshot().Ports[port].Timing.RefreshHz
	if hz <= 0 {
		hz = routing.DefaultTiming().RefreshHz
	}
	return hz
}

func (e *Engine) tick(port int) {
	cfg := e.config.Snapshot()
	portCfg := cfg.Ports[port]
	if !portCfg.Enabled {
		return
	}

	data := e.frames.Frame(port, cfg.Failsafe, e.nowMS())
	frame := BuildFrame(data)
	timing := TimingUS{BreakUS: portCfg.Timing.BreakUS, MABUS: portCfg.Timing.MABUS}

	if err := e.backends[port].Submit(frame, timing); err != nil {
		log.Printf("[output] port %d: submit failed, dropping tick: %v", port, err)
	}
}

// Stop halts every port's ticker and waits for in-flight ticks to finish,
// then releases backends and their hardware peripherals.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
	for _, b := range e.backends {
		if b != nil {
			b.Close()
		}
	}
}
