// Package failsafe computes, per output tick, what a port should
// transmit when its input stream has gone stale: the last held frame,
// blackout, or a restored snapshot. It is read-only with respect to the
// shared output buffers.
package failsafe

import (
	"log"

	"github.com/gopatchy/dmxnode/buffer"
	"github.com/gopatchy/dmxnode/routing"
)

// State is a port's fail-safe state machine position.
type State int

const (
	Normal State = iota
	InFailsafe
)

// SnapshotStore persists per-port snapshot frames. Ownership of the
// backing storage lives with the configuration collaborator; the
// supervisor only loads at construction and saves on request.
type SnapshotStore interface {
	Load(port int) (data [512]byte, ok bool)
	Save(port int, data [512]byte) error
}

// Supervisor tracks each port's fail-safe state and produces the frame to
// transmit on each output tick.
type Supervisor struct {
	bufs   *buffer.Set
	store  SnapshotStore
	states [routing.PortCount]State
	snaps  [routing.PortCount][512]byte
}

// New builds a supervisor bound to the buffer set it reads activity
// timestamps and current frames from. Snapshots are restored from store
// at construction time; a failed or absent load is treated as all zeros.
func New(bufs *buffer.Set, store SnapshotStore) *Supervisor {
	s := &Supervisor{bufs: bufs, store: store}
	for p := 0; p < routing.PortCount; p++ {
		if data, ok := store.Load(p); ok {
			s.snaps[p] = data
		}
	}
	return s
}

// Frame returns the 512-byte frame the output engine should transmit for
// port p at time nowMS, given the port's fail-safe config. The current
// frame and its activity timestamp are read as one consistent view.
func (s *Supervisor) Frame(port int, cfg routing.FailsafeConfig, nowMS uint64) [512]byte {
	var current [512]byte
	lastActivity := s.bufs.Ports[port].Read(&current)
	age := nowMS - lastActivity
	wasFailsafe := s.states[port] == InFailsafe

	if age <= uint64(cfg.TimeoutMS) {
		s.states[port] = Normal
		if wasFailsafe {
			log.Printf("[failsafe] port %d: InFailsafe -> Normal", port)
		}
		return current
	}

	s.states[port] = InFailsafe

	switch cfg.Mode {
	case routing.FailsafeBlackout:
		return [512]byte{}
	case routing.FailsafeSnapshot:
		return s.snaps[port]
	default: // FailsafeHold
		return current
	}
}

// RequestSnapshot copies a port's current output frame into the
// in-memory snapshot and persists it through the snapshot store.
func (s *Supervisor) RequestSnapshot(port int) error {
	data := s.bufs.Ports[port].Current()
	s.snaps[port] = data
	return s.store.Save(port, data)
}

// State reports a port's current fail-safe state, for inspection/tests.
func (s *Supervisor) State(port int) State { return s.states[port] }
