// Package ingest runs the UDP ingestion loop: two sockets (Art-Net on
// 6454, sACN on 5568), parsed and routed into the merge engine, with a
// periodic timeout sweep. Rather than multiplexing two file descriptors
// in one loop, each socket gets its own goroutine with a 100ms read
// deadline, and the sweep runs on its own ticker. The externally
// observable cadence is the same, but no socket can block the other's
// goroutine.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gopatchy/dmxnode/artnet"
	"github.com/gopatchy/dmxnode/merge"
	"github.com/gopatchy/dmxnode/routing"
	"github.com/gopatchy/dmxnode/sacn"
)

// maxDatagramsPerWake bounds how many queued datagrams are drained from
// one socket per readiness wake, preventing a burst on one protocol from
// delaying this goroutine's next stop check indefinitely.
const maxDatagramsPerWake = 32

const rxBufferSize = 1536

// readDeadline is each socket's read deadline and the sweep ticker's
// cadence: a goroutine blocked on a read never waits longer than this
// before it gets a chance to recheck for shutdown.
const readDeadline = 100 * time.Millisecond

// Counters is the subset of metrics.Registry the ingestion loop needs.
type Counters interface {
	IncMalformedArtNet()
	IncMalformedSACN()
	IncSocketErrors()
}

// ActivityRecorder is the subset of activity.Tracker the loop needs.
type ActivityRecorder interface {
	Record(protocol routing.Protocol, universe uint16, ip net.IP)
}

// RoutingTable is the read side of routing.Table, narrowed so this
// package doesn't care how the table is swapped.
type RoutingTable interface {
	FindPort(protocol routing.Protocol, universe uint16) (port int, ok bool)
}

// TableSource supplies the current routing table. The core implements
// this with a pointer swap; the loop loads the current table once per
// packet.
type TableSource func() RoutingTable

// Loop owns both UDP sockets and drives the merge engine's write side.
type Loop struct {
	merger   *merge.Engine
	table    TableSource
	counters Counters
	activity ActivityRecorder
	mcast    MulticastBinder
	nowMS    func() uint64

	artnetConn *net.UDPConn
	sacnConn   *net.UDPConn

	stop chan struct{}
	wg   sync.WaitGroup
}

// MulticastBinder lets the loop hand a freshly bound sACN socket to the
// multicast manager and clear it on shutdown.
type MulticastBinder interface {
	ApplyToSocket(conn *net.UDPConn)
	ClearSocket()
}

// New constructs a Loop. Binding is deferred to Start so construction
// never fails. nowMS is the single monotonic millisecond clock shared
// with the rest of the core (merge timestamps, fail-safe age
// computation) so every subsystem agrees on one epoch.
func New(merger *merge.Engine, table TableSource, counters Counters, activity ActivityRecorder, mcast MulticastBinder, nowMS func() uint64) *Loop {
	return &Loop{
		merger:   merger,
		table:    table,
		counters: counters,
		activity: activity,
		mcast:    mcast,
		nowMS:    nowMS,
		stop:     make(chan struct{}),
	}
}

// Start binds both sockets and launches the ingestion goroutines. A bind
// failure on one protocol leaves the other running; if both fail, Start
// returns an error so the caller can retry.
func (l *Loop) Start() error {
	artnetConn, artnetErr := bindUDP(artnet.Port)
	if artnetErr != nil {
		log.Printf("[ingest] artnet bind failed: %v", artnetErr)
		l.counters.IncSocketErrors()
	}
	sacnConn, sacnErr := bindUDP(sacn.Port)
	if sacnErr != nil {
		log.Printf("[ingest] sacn bind failed: %v", sacnErr)
		l.counters.IncSocketErrors()
	}
	if artnetErr != nil && sacnErr != nil {
		return artnetErr
	}

	l.artnetConn = artnetConn
	l.sacnConn = sacnConn

	if sacnConn != nil && l.mcast != nil {
		l.mcast.ApplyToSocket(sacnConn)
	}

	l.wg.Add(1)
	go l.runSweep()

	if l.artnetConn != nil {
		l.wg.Add(1)
		go l.runArtNet()
	}
	if l.sacnConn != nil {
		l.wg.Add(1)
		go l.runSACN()
	}

	return nil
}

// bindUDP listens on 0.0.0.0:port with SO_REUSEADDR set, so the node can
// coexist with other listeners on the same well-known protocol port.
func bindUDP(port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var soErr error
			if err := c.Control(func(fd uintptr) {
				soErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return soErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// runSweep invokes the timeout sweep on its own ticker, independent of
// either socket's read cadence, so a quiet or absent protocol can never
// delay source expiry for the other.
func (l *Loop) runSweep() {
	defer l.wg.Done()

	ticker := time.NewTicker(readDeadline)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.merger.Sweep(l.nowMS())
		}
	}
}

// runArtNet owns the Art-Net socket exclusively: it blocks on its own
// 100ms read deadline and never waits on the sACN socket, so an idle
// sACN port cannot delay Art-Net delivery or vice versa.
func (l *Loop) runArtNet() {
	defer l.wg.Done()

	rxBuf := make([]byte, rxBufferSize)
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		if !l.drainArtNet(rxBuf) {
			return
		}
	}
}

func (l *Loop) runSACN() {
	defer l.wg.Done()

	rxBuf := make([]byte, rxBufferSize)
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		if !l.drainSACN(rxBuf) {
			return
		}
	}
}

// drainArtNet reads and processes up to maxDatagramsPerWake queued
// datagrams within one read deadline. It returns false if the socket was
// closed out from under it (shutdown in progress), true otherwise.
func (l *Loop) drainArtNet(rxBuf []byte) bool {
	l.artnetConn.SetReadDeadline(time.Now().Add(readDeadline))
	for i := 0; i < maxDatagramsPerWake; i++ {
		n, src, err := l.artnetConn.ReadFromUDP(rxBuf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return true // deadline hit, nothing more queued right now
			}
			if errors.Is(err, net.ErrClosed) {
				return false
			}
			l.counters.IncSocketErrors()
			return true
		}
		universe, data, ok := artnet.ParseDMX(rxBuf[:n])
		if !ok {
			l.counters.IncMalformedArtNet()
			continue
		}
		port, found := l.table().FindPort(routing.ProtocolArtNet, uint16(universe))
		if !found {
			continue
		}
		l.merger.Input(port, src.IP, 0, data, l.nowMS())
		if l.activity != nil {
			l.activity.Record(routing.ProtocolArtNet, uint16(universe), src.IP)
		}
	}
	return true
}

// drainSACN is drainArtNet's sACN counterpart.
func (l *Loop) drainSACN(rxBuf []byte) bool {
	l.sacnConn.SetReadDeadline(time.Now().Add(readDeadline))
	for i := 0; i < maxDatagramsPerWake; i++ {
		n, src, err := l.sacnConn.ReadFromUDP(rxBuf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return true
			}
			if errors.Is(err, net.ErrClosed) {
				return false
			}
			l.counters.IncSocketErrors()
			return true
		}
		universe, data, priority, ok, reason := sacn.ParseDMP(rxBuf[:n])
		if !ok {
			if reason == sacn.ReasonMalformed {
				l.counters.IncMalformedSACN()
			}
			continue
		}
		port, found := l.table().FindPort(routing.ProtocolSACN, universe)
		if !found {
			continue
		}
		l.merger.Input(port, src.IP, priority, data, l.nowMS())
		if l.activity != nil {
			l.activity.Record(routing.ProtocolSACN, universe, src.IP)
		}
	}
	return true
}

// Stop requests a clean shutdown and blocks until every ingestion
// goroutine has exited, all sACN multicast memberships have been left,
// and both sockets are closed.
func (l *Loop) Stop() {
	close(l.stop)
	if l.artnetConn != nil {
		l.artnetConn.Close()
	}
	if l.sacnConn != nil {
		l.sacnConn.Close()
	}
	l.wg.Wait()
	if l.mcast != nil {
		l.mcast.ClearSocket()
	}
}
