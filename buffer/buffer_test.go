package buffer

import "testing"

func TestUpdateSuppressesIdenticalFrames(t *testing.T) {
	s := New()
	p := &s.Ports[0]

	var data [512]byte
	data[0] = 1

	if !p.Update(&data, 100) {
		t.Fatalf("first write of new data must report a change")
	}
	if p.Update(&data, 200) {
		t.Fatalf("identical rewrite must be suppressed")
	}
	if p.LastActivity() != 100 {
		t.Fatalf("suppressed write must not bump the activity stamp")
	}

	data[0] = 2
	if !p.Update(&data, 300) {
		t.Fatalf("changed data must report a change")
	}
	if p.LastActivity() != 300 {
		t.Fatalf("real change must bump the activity stamp")
	}
}

func TestReadReturnsConsistentView(t *testing.T) {
	s := New()
	var data [512]byte
	data[511] = 0xFF
	s.Ports[2].Update(&data, 42)

	var got [512]byte
	last := s.Ports[2].Read(&got)
	if last != 42 {
		t.Fatalf("want activity stamp 42, got %d", last)
	}
	if got != data {
		t.Fatalf("read frame does not match written frame")
	}
}

func TestFPS(t *testing.T) {
	s := New()
	p := &s.Ports[0]

	if p.FPS() != 0 {
		t.Fatalf("empty ring must report 0 fps")
	}

	var data [512]byte
	data[0] = 0xFF
	p.Update(&data, 0)
	if p.FPS() != 0 {
		t.Fatalf("a single sample must report 0 fps")
	}

	// Distinct frames every 25ms: 40 changes over one second.
	for i := 1; i <= 40; i++ {
		data[0] = byte(i)
		p.Update(&data, uint64(i)*25)
	}
	fps := p.FPS()
	if fps < 38 || fps > 42 {
		t.Fatalf("want ~40 fps, got %d", fps)
	}
}

func TestFPSClamp(t *testing.T) {
	s := New()
	p := &s.Ports[0]

	// Frames 1ms apart estimate to 1000 fps; the readout clamps at 200.
	var data [512]byte
	for i := 1; i <= 10; i++ {
		data[0] = byte(i)
		p.Update(&data, uint64(i))
	}
	if got := p.FPS(); got != 200 {
		t.Fatalf("want clamped 200 fps, got %d", got)
	}
}

func TestFPSRingWraps(t *testing.T) {
	s := New()
	p := &s.Ports[0]

	var data [512]byte
	for i := 1; i <= fpsRingSize+50; i++ {
		data[0] = byte(i)
		data[1] = byte(i >> 8)
		p.Update(&data, uint64(i)*100)
	}
	// Only the newest fpsRingSize samples remain: 99 intervals of 100ms.
	if got := p.FPS(); got != 10 {
		t.Fatalf("want 10 fps after wrap, got %d", got)
	}
}
