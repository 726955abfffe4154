// Package activity tracks which network sources have recently sent DMX
// data for each (protocol, universe), for diagnostics and UI display.
// This is observational bookkeeping alongside the merge engine's source
// slots, not part of the merge decision itself.
package activity

import (
	"net"
	"sync"
	"time"

	"github.com/gopatchy/dmxnode/routing"
)

// Source describes one currently-tracked sender.
type Source struct {
	Protocol routing.Protocol
	Universe uint16
	IP       string
	LastSeen time.Time
}

type key struct {
	protocol routing.Protocol
	universe uint16
	ip       string
}

// Tracker records the most recent packet time per (protocol, universe,
// source IP) and expires entries that have gone quiet.
type Tracker struct {
	mu      sync.Mutex
	entries map[key]time.Time
}

// New builds an empty tracker.
func New() *Tracker {
	return &Tracker{entries: map[key]time.Time{}}
}

// Record stamps now() for the given source.
func (t *Tracker) Record(protocol routing.Protocol, universe uint16, ip net.IP) {
	k := key{protocol: protocol, universe: universe, ip: ip.String()}
	t.mu.Lock()
	t.entries[k] = time.Now()
	t.mu.Unlock()
}

// Expire drops every entry last seen more than maxAge ago.
func (t *Tracker) Expire(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	t.mu.Lock()
	for k, seen := range t.entries {
		if seen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
	t.mu.Unlock()
}

// All returns a snapshot of every currently-tracked source.
func (t *Tracker) All() []Source {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Source, 0, len(t.entries))
	for k, seen := range t.entries {
		out = append(out, Source{
			Protocol: k.protocol,
			Universe: k.universe,
			IP:       k.ip,
			LastSeen: seen,
		})
	}
	return out
}
