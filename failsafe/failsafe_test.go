package failsafe

import (
	"testing"

	"github.com/gopatchy/dmxnode/buffer"
	"github.com/gopatchy/dmxnode/routing"
)

type memStore struct {
	data map[int][512]byte
}

func newMemStore() *memStore { return &memStore{data: map[int][512]byte{}} }

func (m *memStore) Load(port int) ([512]byte, bool) {
	d, ok := m.data[port]
	return d, ok
}

func (m *memStore) Save(port int, data [512]byte) error {
	m.data[port] = data
	return nil
}

// TestFailsafeSubstitution covers the Normal -> InFailsafe transition
// and blackout substitution either side of the timeout.
func TestFailsafeSubstitution(t *testing.T) {
	bufs := buffer.New()
	var full [512]byte
	for i := range full {
		full[i] = 255
	}
	bufs.Ports[0].Update(&full, 0)

	sup := New(bufs, newMemStore())
	cfg := routing.FailsafeConfig{Mode: routing.FailsafeBlackout, TimeoutMS: 2000}

	frame := sup.Frame(0, cfg, 1999)
	if frame != full {
		t.Fatalf("before timeout, frame should still be the held value")
	}
	if sup.State(0) != Normal {
		t.Fatalf("state should be Normal before timeout")
	}

	frame = sup.Frame(0, cfg, 2001)
	if frame != ([512]byte{}) {
		t.Fatalf("after timeout with Blackout mode, frame should be all zero")
	}
	if sup.State(0) != InFailsafe {
		t.Fatalf("state should be InFailsafe after timeout")
	}
}

func TestFailsafeSnapshotMode(t *testing.T) {
	bufs := buffer.New()
	store := newMemStore()
	var snap [512]byte
	for i := range snap {
		snap[i] = 0xAB
	}
	store.Save(3, snap)

	sup := New(bufs, store)
	cfg := routing.FailsafeConfig{Mode: routing.FailsafeSnapshot, TimeoutMS: 2000, HasSnapshot: true}

	frame := sup.Frame(3, cfg, 2001)
	if frame != snap {
		t.Fatalf("snapshot mode should transmit the restored snapshot")
	}
}

func TestFailsafeHoldMode(t *testing.T) {
	bufs := buffer.New()
	var data [512]byte
	data[0] = 42
	bufs.Ports[1].Update(&data, 0)

	sup := New(bufs, newMemStore())
	cfg := routing.FailsafeConfig{Mode: routing.FailsafeHold, TimeoutMS: 2000}

	frame := sup.Frame(1, cfg, 999999)
	if frame != data {
		t.Fatalf("hold mode should keep transmitting the last current[p] value")
	}
}

func TestRequestSnapshotPersists(t *testing.T) {
	bufs := buffer.New()
	var data [512]byte
	data[10] = 7
	bufs.Ports[2].Update(&data, 0)

	store := newMemStore()
	sup := New(bufs, store)

	if err := sup.RequestSnapshot(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	saved, ok := store.Load(2)
	if !ok || saved != data {
		t.Fatalf("snapshot was not persisted correctly")
	}
}
