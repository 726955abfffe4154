package sacn

import "testing"

func TestParseDMPRoundTrip(t *testing.T) {
	cid := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(255 - i)
	}

	pkt := BuildDMP(1, 0, 150, "test-source", cid, data)

	universe, gotData, priority, ok, reason := ParseDMP(pkt)
	if !ok {
		t.Fatalf("ParseDMP rejected a well-formed packet, reason=%d", reason)
	}
	if universe != 1 {
		t.Fatalf("universe mismatch: got %d", universe)
	}
	if priority != 150 {
		t.Fatalf("priority mismatch: got %d", priority)
	}
	if len(gotData) != 512 {
		t.Fatalf("data length mismatch: got %d", len(gotData))
	}
	for i := range data {
		if gotData[i] != data[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}

func TestParseDMPPriorityClamp(t *testing.T) {
	cid := [16]byte{}
	pkt := BuildDMP(1, 0, 0, "s", cid, make([]byte, 10))
	_, _, priority, ok, _ := ParseDMP(pkt)
	if !ok {
		t.Fatalf("rejected")
	}
	if priority != minPriority {
		t.Fatalf("priority 0 should clamp to %d, got %d", minPriority, priority)
	}

	pkt = BuildDMP(1, 0, 255, "s", cid, make([]byte, 10))
	_, _, priority, ok, _ = ParseDMP(pkt)
	if !ok {
		t.Fatalf("rejected")
	}
	if priority != maxPriority {
		t.Fatalf("priority 255 should clamp to %d, got %d", maxPriority, priority)
	}
}

func TestParseDMPRejectsNonNullStartCode(t *testing.T) {
	cid := [16]byte{}
	pkt := BuildDMP(1, 0, 100, "s", cid, make([]byte, 10))
	pkt[offsetStartCode] = 0xCC

	_, _, _, ok, reason := ParseDMP(pkt)
	if ok {
		t.Fatalf("accepted a non-null start code")
	}
	if reason != ReasonUnsupportedStartCode {
		t.Fatalf("want ReasonUnsupportedStartCode, got %d", reason)
	}
}

func TestParseDMPRejectsShortPackets(t *testing.T) {
	for l := 0; l < minPacketLen; l++ {
		buf := make([]byte, l)
		if _, _, _, ok, reason := ParseDMP(buf); ok || reason != ReasonMalformed {
			t.Fatalf("length %d: want malformed reject, got ok=%v reason=%d", l, ok, reason)
		}
	}
}

func TestParseDMPRejectsBadIdentifier(t *testing.T) {
	cid := [16]byte{}
	pkt := BuildDMP(1, 0, 100, "s", cid, make([]byte, 10))
	pkt[5] = 'X'
	if _, _, _, ok, reason := ParseDMP(pkt); ok || reason != ReasonMalformed {
		t.Fatalf("accepted a packet with a corrupted identifier")
	}
}

func FuzzParseDMPNeverPanics(f *testing.F) {
	cid := [16]byte{}
	f.Add(BuildDMP(1, 0, 100, "s", cid, make([]byte, 512)))
	f.Add([]byte{})
	f.Add(make([]byte, minPacketLen-1))
	f.Add(make([]byte, minPacketLen))

	f.Fuzz(func(t *testing.T, buf []byte) {
		universe, data, priority, ok, _ := ParseDMP(buf)
		if !ok {
			if universe != 0 || data != nil || priority != 0 {
				t.Fatalf("rejected packet returned non-zero results")
			}
			return
		}
		if len(data) > 512 {
			t.Fatalf("accepted packet with data length %d", len(data))
		}
		if priority < minPriority || priority > maxPriority {
			t.Fatalf("priority %d out of clamp range", priority)
		}
	})
}
