package output

import (
	"testing"
	"time"

	"github.com/gopatchy/dmxnode/routing"
)

func TestBuildFrame(t *testing.T) {
	var data [512]byte
	data[0] = 0x11
	data[3] = 0x44

	f := BuildFrame(data)
	if f[0] != 0x00 {
		t.Fatalf("frame byte 0 must be the null start code, got 0x%02x", f[0])
	}
	if f[1] != 0x11 || f[4] != 0x44 {
		t.Fatalf("channel data not copied correctly: %v", f[:5])
	}
	if len(f) != 513 {
		t.Fatalf("frame must be 513 bytes, got %d", len(f))
	}
}

type fakeBackend struct {
	submitted []Frame
	timing    []TimingUS
	err       error
	closed    bool
}

func (f *fakeBackend) Submit(frame Frame, timing TimingUS) error {
	f.submitted = append(f.submitted, frame)
	f.timing = append(f.timing, timing)
	return f.err
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

type fakeFrameSource struct {
	data [512]byte
}

func (f *fakeFrameSource) Frame(port int, cfg routing.FailsafeConfig, nowMS uint64) [512]byte {
	return f.data
}

type fakeConfigSource struct {
	cfg routing.Config
}

func (f *fakeConfigSource) Snapshot() routing.Config { return f.cfg }

func TestEngineTicksAndSubmits(t *testing.T) {
	var data [512]byte
	data[0] = 0xAB
	frames := &fakeFrameSource{data: data}

	cfg := routing.Config{Ports: [routing.PortCount]routing.PortConfig{
		{Enabled: true, Timing: routing.Timing{BreakUS: 176, MABUS: 12, RefreshHz: 40}},
	}}
	config := &fakeConfigSource{cfg: cfg}

	backend := &fakeBackend{}
	var backends [routing.PortCount]Backend
	backends[0] = backend

	e := New(frames, config, backends, func() uint64 { return 0 })
	e.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(backend.submitted) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	e.Stop()

	if len(backend.submitted) == 0 {
		t.Fatalf("backend never received a submitted frame")
	}
	if backend.submitted[0][1] != 0xAB {
		t.Fatalf("submitted frame did not carry the fail-safe frame source's data")
	}
	if !backend.closed {
		t.Fatalf("Stop must close every backend")
	}
}

func TestEngineSkipsDisabledPort(t *testing.T) {
	frames := &fakeFrameSource{}
	cfg := routing.Config{Ports: [routing.PortCount]routing.PortConfig{
		{Enabled: false, Timing: routing.DefaultTiming()},
	}}
	config := &fakeConfigSource{cfg: cfg}

	backend := &fakeBackend{}
	var backends [routing.PortCount]Backend
	backends[0] = backend

	e := New(frames, config, backends, func() uint64 { return 0 })
	e.Start()
	time.Sleep(100 * time.Millisecond)
	e.Stop()

	if len(backend.submitted) != 0 {
		t.Fatalf("disabled port must never submit a frame")
	}
}
