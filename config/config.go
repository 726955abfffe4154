// Package config defines the configuration snapshot/event interface the
// core consumes, plus a concrete TOML-backed implementation. The core
// itself never touches the filesystem; it only depends on Source.
package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/gopatchy/dmxnode/routing"
)

// EventKind identifies the shape of an Event.
type EventKind int

const (
	EventConfigApplied EventKind = iota
	EventLinkUp
	EventLinkDown
)

// Event is one entry in the collaborator's event stream consumed by the
// core's config/event adapter.
type Event struct {
	Kind EventKind
	Port int // valid for EventConfigApplied; -1 for link events
}

// Source is the interface the core consumes from its configuration
// collaborator: a point-in-time snapshot plus a stream of change events.
type Source interface {
	// Snapshot returns a consistent copy of the current configuration.
	// Must never block the caller for more than a few milliseconds.
	Snapshot() routing.Config

	// Events returns the channel of configuration change notifications.
	// The channel is closed when the source is closed.
	Events() <-chan Event
}

// filePortConfig/fileFailsafeConfig mirror the TOML vocabulary a human
// operator writes; parseProtocol/parseMergeMode/parseBackend/
// parseFailsafeMode translate its strings 1:1 onto the routing package's
// enums.
type filePortConfig struct {
	Enabled   bool   `toml:"enabled"`
	Protocol  string `toml:"protocol"` // "artnet" or "sacn"
	Universe  uint16 `toml:"universe"`
	BreakUS   int    `toml:"break_us"`
	MABUS     int    `toml:"mab_us"`
	RefreshHz int    `toml:"refresh_hz"`
	MergeMode string `toml:"merge_mode"` // "htp" or "ltp"
	Backend   string `toml:"backend"`    // "hw_symbol" or "uart_invert"
}

type fileFailsafeConfig struct {
	Mode      string `toml:"mode"` // "hold", "blackout", "snapshot"
	TimeoutMS uint16 `toml:"timeout_ms"`
}

type fileConfig struct {
	Ports    []filePortConfig   `toml:"port"`
	Failsafe fileFailsafeConfig `toml:"failsafe"`
}

func parseProtocol(s string) (routing.Protocol, error) {
	switch s {
	case "", "artnet":
		return routing.ProtocolArtNet, nil
	case "sacn":
		return routing.ProtocolSACN, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

func parseMergeMode(s string) (routing.MergeMode, error) {
	switch s {
	case "", "htp":
		return routing.MergeHTP, nil
	case "ltp":
		return routing.MergeLTP, nil
	default:
		return 0, fmt.Errorf("unknown merge_mode %q", s)
	}
}

func parseBackend(s string) (routing.Backend, error) {
	switch s {
	case "", "hw_symbol":
		return routing.BackendHwSymbol, nil
	case "uart_invert":
		return routing.BackendUARTInvert, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", s)
	}
}

func parseFailsafeMode(s string) (routing.FailsafeMode, error) {
	switch s {
	case "", "hold":
		return routing.FailsafeHold, nil
	case "blackout":
		return routing.FailsafeBlackout, nil
	case "snapshot":
		return routing.FailsafeSnapshot, nil
	default:
		return 0, fmt.Errorf("unknown failsafe mode %q", s)
	}
}

// toRoutingConfig converts and validates a decoded TOML file into a
// routing.Config, clamping any out-of-range timing rather than
// rejecting outright.
func (f *fileConfig) toRoutingConfig() (routing.Config, error) {
	var cfg routing.Config
	cfg.Failsafe = routing.DefaultFailsafeConfig()

	mode, err := parseFailsafeMode(f.Failsafe.Mode)
	if err != nil {
		return cfg, err
	}
	cfg.Failsafe.Mode = mode
	if f.Failsafe.TimeoutMS != 0 {
		cfg.Failsafe.TimeoutMS = f.Failsafe.TimeoutMS
	}

	if len(f.Ports) > routing.PortCount {
		return cfg, fmt.Errorf("too many ports: %d (max %d)", len(f.Ports), routing.PortCount)
	}

	for i, fp := range f.Ports {
		protocol, err := parseProtocol(fp.Protocol)
		if err != nil {
			return cfg, fmt.Errorf("port %d: %w", i, err)
		}
		mergeMode, err := parseMergeMode(fp.MergeMode)
		if err != nil {
			return cfg, fmt.Errorf("port %d: %w", i, err)
		}
		backend, err := parseBackend(fp.Backend)
		if err != nil {
			return cfg, fmt.Errorf("port %d: %w", i, err)
		}

		timing := routing.DefaultTiming()
		if fp.BreakUS != 0 {
			timing.BreakUS = fp.BreakUS
		}
		if fp.MABUS != 0 {
			timing.MABUS = fp.MABUS
		}
		if fp.RefreshHz != 0 {
			timing.RefreshHz = fp.RefreshHz
		}
		if clamped := timing.Clamp(); clamped {
			log.Printf("[config] port %d: timing out of range, clamped to %+v", i, timing)
		}

		cfg.Ports[i] = routing.PortConfig{
			Enabled:   fp.Enabled,
			Protocol:  protocol,
			Universe:  fp.Universe,
			Timing:    timing,
			MergeMode: mergeMode,
			Backend:   backend,
		}
	}

	// Ports the file doesn't mention stay disabled with default timing.
	for i := len(f.Ports); i < routing.PortCount; i++ {
		cfg.Ports[i].Timing = routing.DefaultTiming()
	}

	return cfg, nil
}

// FileSource loads configuration from a TOML file and serves it as a
// config.Source. Reload re-reads the file and publishes a
// EventConfigApplied for every port whose configuration changed.
type FileSource struct {
	mu     sync.RWMutex
	path   string
	cfg    routing.Config
	events chan Event
}

// LoadFile reads and parses a TOML configuration file.
func LoadFile(path string) (*FileSource, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &FileSource{
		path:   path,
		cfg:    cfg,
		events: make(chan Event, 16),
	}, nil
}

func decodeFile(path string) (routing.Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return routing.Config{}, err
	}
	return fc.toRoutingConfig()
}

// Snapshot returns a copy of the current configuration.
func (s *FileSource) Snapshot() routing.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Events returns the stream of configuration-applied notifications.
func (s *FileSource) Events() <-chan Event {
	return s.events
}

// Reload re-reads the backing file and publishes a ConfigApplied event
// for every port whose configuration changed. Used by an operator-driven
// reload (e.g. SIGHUP) or by tests simulating an external config push.
func (s *FileSource) Reload() error {
	cfg, err := decodeFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	for i := range cfg.Ports {
		if cfg.Ports[i] != old.Ports[i] {
			s.events <- Event{Kind: EventConfigApplied, Port: i}
		}
	}
	return nil
}

// Close shuts down the event stream.
func (s *FileSource) Close() {
	close(s.events)
}
