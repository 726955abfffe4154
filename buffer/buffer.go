// Package buffer holds the shared per-port DMX output buffers that sit
// between the merge engine (the sole writer) and the output engine (a
// read-only consumer). Buffer addresses are stable for the process
// lifetime (only contents mutate), so the output engine can hold a
// pointer across ticks without re-resolving it.
package buffer

import (
	"sync"

	"github.com/gopatchy/dmxnode/routing"
)

const universeSize = 512

// fpsRingSize is the number of activity timestamps retained per port for
// FPS estimation.
const fpsRingSize = 100

// Port is one physical port's shared output state: the current frame
// data, the last time it changed, and a ring of recent change timestamps
// used to estimate an output rate.
//
// Exactly one writer calls Update: the merge engine's writeback step.
// Everyone else, including the output engine and external inspectors,
// only reads, and every access takes the port's mutex so a reader always
// sees a complete frame.
type Port struct {
	mu             sync.Mutex
	current        [universeSize]byte
	lastActivityMS uint64

	ring     [fpsRingSize]uint64
	ringHead int
	ringLen  int
}

// Update overwrites the current frame if data differs from it, stamping
// the activity time and FPS ring on a real change. An identical frame is
// a no-op and does not count as activity. Reports whether the frame
// changed.
func (p *Port) Update(data *[universeSize]byte, nowMS uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == *data {
		return false
	}
	p.current = *data
	p.lastActivityMS = nowMS
	p.ring[p.ringHead] = nowMS
	p.ringHead = (p.ringHead + 1) % fpsRingSize
	if p.ringLen < fpsRingSize {
		p.ringLen++
	}
	return true
}

// Read copies the current frame into dst and returns the last activity
// timestamp, both from the same locked view.
func (p *Port) Read(dst *[universeSize]byte) (lastActivityMS uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	*dst = p.current
	return p.lastActivityMS
}

// Current returns a copy of the current frame.
func (p *Port) Current() [universeSize]byte {
	var out [universeSize]byte
	p.Read(&out)
	return out
}

// LastActivity returns the last time the frame contents changed.
func (p *Port) LastActivity() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivityMS
}

// FPS estimates the recent output rate from the activity ring: 0 with
// fewer than 2 samples, otherwise (count-1)*1000/(newest-oldest) with the
// millisecond timestamps, clamped to [0, 200].
func (p *Port) FPS() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ringLen < 2 {
		return 0
	}

	oldestIdx := (p.ringHead - p.ringLen + fpsRingSize) % fpsRingSize
	newestIdx := (p.ringHead - 1 + fpsRingSize) % fpsRingSize
	oldest := p.ring[oldestIdx]
	newest := p.ring[newestIdx]
	if newest <= oldest {
		return 0
	}

	fps := int(uint64(p.ringLen-1) * 1000 / (newest - oldest))
	if fps > 200 {
		return 200
	}
	return fps
}

// Set holds the four physical ports' shared buffers. Addresses of the
// individual Port values are stable for the lifetime of the Set.
type Set struct {
	Ports [routing.PortCount]Port
}

// New allocates a zeroed buffer set.
func New() *Set {
	return &Set{}
}

// Snapshot copies out a port's current frame for external inspectors.
func (s *Set) Snapshot(port int) [universeSize]byte {
	return s.Ports[port].Current()
}
