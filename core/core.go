// Package core wires the protocol-to-output data plane together:
// ingestion, merge, routing, multicast, output, and fail-safe, behind a
// single supervisor with start/stop, buffer inspection, merge-mode and
// snapshot control, and counter readout.
package core

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/gopatchy/dmxnode/activity"
	"github.com/gopatchy/dmxnode/buffer"
	"github.com/gopatchy/dmxnode/config"
	"github.com/gopatchy/dmxnode/failsafe"
	"github.com/gopatchy/dmxnode/ingest"
	"github.com/gopatchy/dmxnode/merge"
	"github.com/gopatchy/dmxnode/metrics"
	"github.com/gopatchy/dmxnode/multicast"
	"github.com/gopatchy/dmxnode/output"
	"github.com/gopatchy/dmxnode/routing"
)

// Core is the top-level supervisor: it owns the shared buffers, merge
// state, routing table, and multicast membership, and exposes the
// operations external collaborators drive.
type Core struct {
	bufs     *buffer.Set
	merger   *merge.Engine
	sup      *failsafe.Supervisor
	mcast    *multicast.Manager
	metrics  *metrics.Registry
	activity *activity.Tracker

	cfgSource config.Source

	tableMu sync.RWMutex
	table   *routing.Table

	ingestLoop *ingest.Loop
	outEngine  *output.Engine

	startTime time.Time
	stopEvts  chan struct{}
	wg        sync.WaitGroup
}

// New builds a Core around a snapshot store (for fail-safe restoration),
// with its own metrics registry. Nothing is started until Start is called.
func New(store failsafe.SnapshotStore) *Core {
	bufs := buffer.New()
	reg := metrics.New()
	return &Core{
		bufs:      bufs,
		merger:    merge.New(bufs),
		sup:       failsafe.New(bufs, store),
		mcast:     multicast.New(reg),
		metrics:   reg,
		activity:  activity.New(),
		startTime: time.Now(),
		stopEvts:  make(chan struct{}),
	}
}

// mcastBinder adapts multicast.Manager to ingest.MulticastBinder by
// wrapping the raw *net.UDPConn in an ipv4.PacketConn.
type mcastBinder struct {
	mgr *multicast.Manager
}

func (b *mcastBinder) ApplyToSocket(conn *net.UDPConn) {
	b.mgr.ApplyToSocket(ipv4.NewPacketConn(conn), nil)
}

func (b *mcastBinder) ClearSocket() {
	b.mgr.ClearSocket()
}

// Start brings up sockets, ingestion, and output. Safe to call once;
// calling twice returns an error.
func (c *Core) Start(cfgSource config.Source) error {
	if c.cfgSource != nil {
		return fmt.Errorf("core: already started")
	}
	c.cfgSource = cfgSource

	cfg := cfgSource.Snapshot()
	c.table = routing.Build(cfg)
	c.reconcileMulticast(cfg)
	c.applyMergeModes(cfg, -1)

	c.ingestLoop = ingest.New(c.merger, c.currentTable, c.metrics, c.activity, &mcastBinder{mgr: c.mcast}, c.nowMS)
	if err := c.ingestLoop.Start(); err != nil {
		// Leave the core startable again so the caller can retry.
		c.cfgSource = nil
		return fmt.Errorf("core: ingest start: %w", err)
	}

	backends, err := buildBackends(cfg)
	if err != nil {
		log.Printf("[core] backend setup incomplete: %v", err)
	}
	c.outEngine = output.New(&frameSourceAdapter{sup: c.sup}, &configSourceAdapter{c: c}, backends, c.nowMS)
	c.outEngine.Start()

	c.wg.Add(1)
	go c.eventLoop()

	return nil
}

// currentTable implements ingest.TableSource via a pointer-swap read:
// callers load the pointer once per packet.
func (c *Core) currentTable() ingest.RoutingTable {
	c.tableMu.RLock()
	defer c.tableMu.RUnlock()
	return c.table
}

func (c *Core) snapshot() routing.Config {
	if c.cfgSource == nil {
		return routing.Config{}
	}
	return c.cfgSource.Snapshot()
}

type frameSourceAdapter struct {
	sup *failsafe.Supervisor
}

func (f *frameSourceAdapter) Frame(port int, cfg routing.FailsafeConfig, nowMS uint64) [512]byte {
	return f.sup.Frame(port, cfg, nowMS)
}

type configSourceAdapter struct {
	c *Core
}

func (a *configSourceAdapter) Snapshot() routing.Config { return a.c.snapshot() }

// eventLoop is the config/event adapter: it rebuilds the routing table
// and reconciles multicast group membership on every ConfigApplied
// event. The event's port narrows the per-port work (merge mode
// re-application) to the changed port; the routing table and multicast
// membership are derived from the whole snapshot either way, so those
// are always rebuilt in full.
func (c *Core) eventLoop() {
	defer c.wg.Done()
	events := c.cfgSource.Events()
	for {
		select {
		case <-c.stopEvts:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case config.EventConfigApplied:
				cfg := c.cfgSource.Snapshot()
				newTable := routing.Build(cfg)
				c.tableMu.Lock()
				c.table = newTable
				c.tableMu.Unlock()
				c.reconcileMulticast(cfg)
				c.applyMergeModes(cfg, ev.Port)
				if ev.Port >= 0 {
					log.Printf("[core] config applied for port %d", ev.Port)
				} else {
					log.Printf("[core] config applied")
				}
			case config.EventLinkUp:
				log.Printf("[core] link up")
			case config.EventLinkDown:
				log.Printf("[core] link down")
			}
		}
	}
}

// applyMergeModes pushes configured merge modes into the merge engine:
// just the named port, or every port when port is -1 (initial start or
// a full reload). Later SetMergeMode calls still win until that port's
// config next changes.
func (c *Core) applyMergeModes(cfg routing.Config, port int) {
	if port >= 0 && port < routing.PortCount {
		c.merger.SetMergeMode(port, cfg.Ports[port].MergeMode)
		return
	}
	for i := range cfg.Ports {
		c.merger.SetMergeMode(i, cfg.Ports[i].MergeMode)
	}
}

func (c *Core) reconcileMulticast(cfg routing.Config) {
	var enabled []uint16
	for _, p := range cfg.Ports {
		if p.Enabled && p.Protocol == routing.ProtocolSACN {
			enabled = append(enabled, p.Universe)
		}
	}
	c.mcast.Reconcile(enabled)
}

// Stop performs a clean shutdown: ingestion exits and drops its
// multicast memberships, then the output engine stops ticking and
// releases its backends.
func (c *Core) Stop() {
	close(c.stopEvts)
	if c.ingestLoop != nil {
		c.ingestLoop.Stop()
	}
	if c.outEngine != nil {
		c.outEngine.Stop()
	}
	c.wg.Wait()
}

// GetDMXBuffer returns a read-only copy of a port's current output
// buffer.
func (c *Core) GetDMXBuffer(port int) [512]byte {
	return c.bufs.Snapshot(port)
}

// SetMergeMode changes a port's merge mode at runtime, without
// persisting it.
func (c *Core) SetMergeMode(port int, mode routing.MergeMode) {
	c.merger.SetMergeMode(port, mode)
}

// MergeMode reports a port's currently effective merge mode.
func (c *Core) MergeMode(port int) routing.MergeMode {
	return c.merger.MergeMode(port)
}

// RequestSnapshot copies a port's current output frame into the
// snapshot store.
func (c *Core) RequestSnapshot(port int) error {
	return c.sup.RequestSnapshot(port)
}

// Metrics returns a point-in-time counter readout.
func (c *Core) Metrics() metrics.Snapshot {
	return c.metrics.Snapshot()
}

// Activity returns the currently-tracked packet sources, for diagnostics.
// Sources quiet for more than 10 seconds are dropped first.
func (c *Core) Activity() []activity.Source {
	c.activity.Expire(10 * time.Second)
	return c.activity.All()
}

func (c *Core) nowMS() uint64 {
	return uint64(time.Since(c.startTime).Milliseconds())
}
