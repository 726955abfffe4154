// Package routing maps (protocol, universe) pairs onto physical DMX
// output ports. The table is small (at most four entries, one per port)
// and is rebuilt wholesale on every config-applied event, never mutated
// in place, so readers on the ingestion path can load a pointer once per
// packet and see a fully-formed table, old or new.
package routing

import "github.com/gopatchy/dmxnode/artnet"

// Protocol identifies the wire protocol a port is configured to accept.
type Protocol int

const (
	ProtocolArtNet Protocol = iota
	ProtocolSACN
)

func (p Protocol) String() string {
	if p == ProtocolSACN {
		return "sacn"
	}
	return "artnet"
}

// PortCount is the number of physical DMX output ports.
const PortCount = 4

// MergeMode selects how two concurrent sources on a port are combined.
type MergeMode int

const (
	MergeHTP MergeMode = iota
	MergeLTP
)

// Timing holds the per-port DMX512 frame timing parameters.
type Timing struct {
	BreakUS   int // 88..500, default 176
	MABUS     int // 8..100, default 12
	RefreshHz int // 20..44, default 40
}

// DefaultTiming returns the standard DMX512 timing: 176us break,
// 12us mark-after-break, 40Hz refresh.
func DefaultTiming() Timing {
	return Timing{BreakUS: 176, MABUS: 12, RefreshHz: 40}
}

// Clamp forces out-of-range timing values to the legal range and reports
// whether anything was clamped, so callers can warn about it.
func (t *Timing) Clamp() (clamped bool) {
	if t.BreakUS < 88 {
		t.BreakUS, clamped = 88, true
	} else if t.BreakUS > 500 {
		t.BreakUS, clamped = 500, true
	}
	if t.MABUS < 8 {
		t.MABUS, clamped = 8, true
	} else if t.MABUS > 100 {
		t.MABUS, clamped = 100, true
	}
	if t.RefreshHz < 20 {
		t.RefreshHz, clamped = 20, true
	} else if t.RefreshHz > 44 {
		t.RefreshHz, clamped = 44, true
	}
	return clamped
}

// Backend selects a port's transmit backend variant: the hardware-timed
// symbol encoder or UART-with-line-inversion. Each port's configuration
// names its variant; the hardware-timed symbol encoder is the default.
type Backend int

const (
	BackendHwSymbol Backend = iota
	BackendUARTInvert
)

// PortConfig is the per-port configuration snapshot.
type PortConfig struct {
	Enabled   bool
	Protocol  Protocol
	Universe  uint16 // (net<<8)|subUni for Art-Net, verbatim for sACN
	Timing    Timing
	MergeMode MergeMode
	Backend   Backend
}

// FailsafeMode selects the output substitution policy when a port's
// input stream goes stale.
type FailsafeMode int

const (
	FailsafeHold FailsafeMode = iota
	FailsafeBlackout
	FailsafeSnapshot
)

// FailsafeConfig is the global fail-safe policy.
type FailsafeConfig struct {
	Mode        FailsafeMode
	TimeoutMS   uint16 // default 2000
	HasSnapshot bool
}

// DefaultFailsafeConfig returns the default policy: hold the last
// frame after 2 seconds of input silence.
func DefaultFailsafeConfig() FailsafeConfig {
	return FailsafeConfig{Mode: FailsafeHold, TimeoutMS: 2000}
}

// Config is a complete, point-in-time configuration snapshot.
type Config struct {
	Ports    [PortCount]PortConfig
	Failsafe FailsafeConfig
}

// ArtNetUniverse converts an Art-Net universe number into artnet.Universe
// for callers that need the Net/SubNet/Universe split.
func ArtNetUniverse(u uint16) artnet.Universe { return artnet.Universe(u) }

// entry is one row of the routing table.
type entry struct {
	enabled  bool
	protocol Protocol
	universe uint16
	port     int
}

// Table is an immutable routing table: at most PortCount entries, scanned
// linearly, never mutated after construction.
type Table struct {
	entries []entry
}

// Build constructs a routing table from a configuration snapshot. Ports
// appear in port-index order, so FindPort's "first enabled match wins"
// rule is equivalent to "lowest port index wins".
func Build(cfg Config) *Table {
	t := &Table{entries: make([]entry, 0, PortCount)}
	for i, p := range cfg.Ports {
		t.entries = append(t.entries, entry{
			enabled:  p.Enabled,
			protocol: p.Protocol,
			universe: p.Universe,
			port:     i,
		})
	}
	return t
}

// FindPort returns the lowest-index enabled port configured for the given
// protocol and universe, or false if none matches. An Art-Net packet
// never matches an sACN-configured port and vice versa; there is no
// cross-protocol fallback.
func (t *Table) FindPort(protocol Protocol, universe uint16) (port int, ok bool) {
	for _, e := range t.entries {
		if e.enabled && e.protocol == protocol && e.universe == universe {
			return e.port, true
		}
	}
	return 0, false
}
