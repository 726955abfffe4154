// Package merge implements the per-port two-source combiner: HTP/LTP
// blending with sACN priority override, source slot assignment and
// eviction, and the timeout sweep that expires silent sources.
package merge

import (
	"net"
	"sync"

	"github.com/gopatchy/dmxnode/buffer"
	"github.com/gopatchy/dmxnode/routing"
)

const universeSize = 512

// streamTimeoutMS follows the ANSI E1.31 stream-loss interval: a source
// slot idle longer than this is considered gone.
const streamTimeoutMS = 2500

// slot is one of a port's two source slots.
type slot struct {
	active    bool
	lastPktMS uint64
	priority  uint8
	data      [universeSize]byte
	srcAddr   netip
}

// netip is a minimal comparable source address: IP plus nothing else.
// Two senders on the same host but different UDP ports are still the
// same source for merge purposes, so slots key on IP alone.
type netip struct {
	addr [16]byte
	is4  bool
}

func addrOf(ip net.IP) netip {
	var n netip
	if v4 := ip.To4(); v4 != nil {
		copy(n.addr[:], v4)
		n.is4 = true
		return n
	}
	copy(n.addr[:], ip.To16())
	return n
}

// port holds one physical port's merge state: its two source slots and
// the last computed output. The mutex serializes packet input against
// the timeout sweep; it is held only for the merge computation and the
// writeback, never across I/O.
type port struct {
	mu        sync.Mutex
	mergeMode routing.MergeMode
	sources   [2]slot
	final     [universeSize]byte
}

// Engine owns merge state for every physical port plus the buffer set it
// writes output into.
type Engine struct {
	ports [routing.PortCount]port
	bufs  *buffer.Set
}

// New builds a merge engine bound to the given buffer set. All ports
// start in HTP mode with no active sources.
func New(bufs *buffer.Set) *Engine {
	e := &Engine{bufs: bufs}
	for i := range e.ports {
		e.ports[i].mergeMode = routing.MergeHTP
	}
	return e
}

// SetMergeMode updates a port's runtime merge mode. The change takes
// effect on the next packet or sweep; it is never persisted.
func (e *Engine) SetMergeMode(portIdx int, mode routing.MergeMode) {
	p := &e.ports[portIdx]
	p.mu.Lock()
	p.mergeMode = mode
	p.mu.Unlock()
}

// MergeMode reports a port's current merge mode.
func (e *Engine) MergeMode(portIdx int) routing.MergeMode {
	p := &e.ports[portIdx]
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mergeMode
}

// Input feeds one arriving universe frame into the merge engine for the
// given port. data may be shorter than 512 bytes; the remainder of the
// target slot's previous contents is left untouched.
func (e *Engine) Input(portIdx int, srcAddr net.IP, priority uint8, data []byte, nowMS uint64) {
	p := &e.ports[portIdx]
	p.mu.Lock()
	defer p.mu.Unlock()

	target := assignSlot(p, addrOf(srcAddr))

	target.active = true
	target.lastPktMS = nowMS
	target.priority = priority
	target.srcAddr = addrOf(srcAddr)
	copy(target.data[:], data)

	e.recomputeLocked(portIdx, nowMS)
}

// assignSlot picks the slot for an arriving source: match by address,
// else an inactive slot, else evict the older of the two (slot 0 on a
// timestamp tie).
func assignSlot(p *port, addr netip) *slot {
	if p.sources[0].srcAddr == addr || !p.sources[0].active {
		return &p.sources[0]
	}
	if p.sources[1].srcAddr == addr || !p.sources[1].active {
		return &p.sources[1]
	}
	if p.sources[0].lastPktMS <= p.sources[1].lastPktMS {
		return &p.sources[0]
	}
	return &p.sources[1]
}

// combine recomputes a port's final output from its two source slots.
// Differing sACN priority between two active sources decides the whole
// universe before HTP/LTP is consulted.
func combine(p *port) [universeSize]byte {
	a, b := &p.sources[0], &p.sources[1]

	if a.active && b.active && a.priority != b.priority {
		if a.priority > b.priority {
			return a.data
		}
		return b.data
	}

	if p.mergeMode == routing.MergeHTP {
		var out [universeSize]byte
		for i := 0; i < universeSize; i++ {
			av, bv := byte(0), byte(0)
			if a.active {
				av = a.data[i]
			}
			if b.active {
				bv = b.data[i]
			}
			if av >= bv {
				out[i] = av
			} else {
				out[i] = bv
			}
		}
		return out
	}

	// LTP: newest active source wins entirely.
	newer := newerSource(a, b)
	if newer == nil {
		var zero [universeSize]byte
		return zero
	}
	return newer.data
}

func newerSource(a, b *slot) *slot {
	if !a.active {
		if b.active {
			return b
		}
		return nil
	}
	if !b.active {
		return a
	}
	if a.lastPktMS >= b.lastPktMS {
		return a
	}
	return b
}

// recomputeLocked runs the combiner and writes back into the shared
// buffer, which suppresses identical frames. Caller holds the port mutex.
func (e *Engine) recomputeLocked(portIdx int, nowMS uint64) {
	p := &e.ports[portIdx]
	p.final = combine(p)
	e.bufs.Ports[portIdx].Update(&p.final, nowMS)
}

// Sweep expires any source slot idle longer than streamTimeoutMS and
// recomputes affected ports' output. Invoked at least once per 100 ms.
func (e *Engine) Sweep(nowMS uint64) {
	for portIdx := range e.ports {
		p := &e.ports[portIdx]
		p.mu.Lock()
		changed := false
		for i := range p.sources {
			s := &p.sources[i]
			if s.active && nowMS-s.lastPktMS > streamTimeoutMS {
				s.active = false
				s.data = [universeSize]byte{}
				changed = true
			}
		}
		if changed {
			e.recomputeLocked(portIdx, nowMS)
		}
		p.mu.Unlock()
	}
}
