package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gopatchy/dmxnode/config"
	"github.com/gopatchy/dmxnode/core"
	"github.com/gopatchy/dmxnode/failsafe"
)

func init() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
}

// fileSnapshotStore is a minimal filesystem-backed failsafe.SnapshotStore:
// one raw 512-byte file per port under a configured directory.
type fileSnapshotStore struct {
	dir string
}

func (s *fileSnapshotStore) pathFor(port int) string {
	return filepath.Join(s.dir, fmt.Sprintf("snapshot_%d.bin", port))
}

func (s *fileSnapshotStore) Load(port int) (data [512]byte, ok bool) {
	b, err := os.ReadFile(s.pathFor(port))
	if err != nil || len(b) != 512 {
		return data, false
	}
	copy(data[:], b)
	return data, true
}

func (s *fileSnapshotStore) Save(port int, data [512]byte) error {
	return os.WriteFile(s.pathFor(port), data[:], 0o644)
}

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	snapshotDir := flag.String("snapshot-dir", ".", "directory for per-port fail-safe snapshots")
	flag.Parse()

	cfgSource, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("[config] load error: %v", err)
	}
	defer cfgSource.Close()

	log.Printf("[config] loaded %s", *configPath)

	var store failsafe.SnapshotStore = &fileSnapshotStore{dir: *snapshotDir}

	c := core.New(store)
	if err := c.Start(cfgSource); err != nil {
		log.Fatalf("[core] start error: %v", err)
	}
	log.Printf("[core] started")

	go statsPrinter(c)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[main] shutting down")
	c.Stop()
}

func statsPrinter(c *core.Core) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		snap := c.Metrics()
		log.Printf("[stats] malformed_artnet=%d malformed_sacn=%d socket_errors=%d igmp_failures=%d",
			snap.MalformedArtNet, snap.MalformedSACN, snap.SocketErrors, snap.IGMPFailures)

		for _, src := range c.Activity() {
			log.Printf("[stats]   %s universe=%d src=%s last_seen=%s", src.Protocol, src.Universe, src.IP, src.LastSeen.Format(time.RFC3339))
		}
	}
}
