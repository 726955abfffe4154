// Package multicast tracks the set of sACN multicast groups the node
// needs joined and replays that desired set against the sACN socket
// whenever it is (re)bound.
package multicast

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// maxGroups bounds the desired set: joins beyond this are refused
// without disturbing existing state.
const maxGroups = 64

// GroupAddr returns the sACN multicast group for a universe:
// 239.255.<hi>.<lo>.
func GroupAddr(universe uint16) net.IP {
	return net.IPv4(239, 255, byte(universe>>8), byte(universe&0xFF))
}

// IGMPFailureCounter is the subset of metrics.Registry the manager needs,
// kept narrow so this package doesn't import metrics directly.
type IGMPFailureCounter interface {
	IncIGMPFailures()
}

// Manager owns the desired set of joined sACN universes and reconciles it
// against a live socket. All operations are serialized by one mutex.
type Manager struct {
	mu      sync.Mutex
	desired map[uint16]struct{}
	joined  map[uint16]struct{}
	conn    *ipv4.PacketConn
	iface   *net.Interface
	metrics IGMPFailureCounter
}

// New creates an empty manager. metrics may be nil in tests.
func New(metrics IGMPFailureCounter) *Manager {
	return &Manager{
		desired: make(map[uint16]struct{}),
		joined:  make(map[uint16]struct{}),
		metrics: metrics,
	}
}

// Desired returns a snapshot of the currently-desired universe set, for
// tests and inspection.
func (m *Manager) Desired() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, 0, len(m.desired))
	for u := range m.desired {
		out = append(out, u)
	}
	return out
}

// Joined returns a snapshot of the currently-joined universe set.
func (m *Manager) Joined() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, 0, len(m.joined))
	for u := range m.joined {
		out = append(out, u)
	}
	return out
}

// RequestJoin adds a universe to the desired set, joining immediately if
// a socket is bound. Universe 0 is never joined.
func (m *Manager) RequestJoin(u uint16) error {
	if u == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.desired[u]; ok {
		return nil
	}
	if len(m.desired) >= maxGroups {
		return fmt.Errorf("multicast: desired set full (%d groups)", maxGroups)
	}
	m.desired[u] = struct{}{}

	if m.conn != nil {
		return m.joinLocked(u)
	}
	return nil
}

// RequestLeave removes a universe from the desired set, leaving
// immediately if a socket is bound.
func (m *Manager) RequestLeave(u uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.desired, u)
	if m.conn != nil {
		return m.leaveLocked(u)
	}
	return nil
}

// Reconcile recomputes the desired set from a list of currently-enabled
// sACN universes (drawn from the routing config on config-applied),
// joining new ones and leaving ones no longer wanted.
func (m *Manager) Reconcile(enabledUniverses []uint16) {
	want := make(map[uint16]struct{}, len(enabledUniverses))
	for _, u := range enabledUniverses {
		if u != 0 {
			want[u] = struct{}{}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for u := range m.desired {
		if _, ok := want[u]; !ok {
			delete(m.desired, u)
			if m.conn != nil {
				m.leaveLocked(u)
			}
		}
	}
	for u := range want {
		if _, ok := m.desired[u]; ok {
			continue
		}
		if len(m.desired) >= maxGroups {
			continue
		}
		m.desired[u] = struct{}{}
		if m.conn != nil {
			m.joinLocked(u)
		}
	}
}

// ApplyToSocket binds the manager to a freshly opened sACN socket and
// replays every desired join against it.
func (m *Manager) ApplyToSocket(conn *ipv4.PacketConn, iface *net.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conn = conn
	m.iface = iface
	m.joined = make(map[uint16]struct{})
	for u := range m.desired {
		m.joinLocked(u)
	}
}

// ClearSocket forgets the socket binding when it closes, retaining the
// desired set so it can be replayed against the next socket.
func (m *Manager) ClearSocket() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = nil
	m.joined = make(map[uint16]struct{})
}

func (m *Manager) joinLocked(u uint16) error {
	if err := m.conn.JoinGroup(m.iface, &net.UDPAddr{IP: GroupAddr(u)}); err != nil {
		if m.metrics != nil {
			m.metrics.IncIGMPFailures()
		}
		return err
	}
	m.joined[u] = struct{}{}
	return nil
}

func (m *Manager) leaveLocked(u uint16) error {
	if err := m.conn.LeaveGroup(m.iface, &net.UDPAddr{IP: GroupAddr(u)}); err != nil {
		if m.metrics != nil {
			m.metrics.IncIGMPFailures()
		}
		delete(m.joined, u)
		return err
	}
	delete(m.joined, u)
	return nil
}
