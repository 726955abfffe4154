package activity

import (
	"net"
	"testing"
	"time"

	"github.com/gopatchy/dmxnode/routing"
)

func TestRecordAndAll(t *testing.T) {
	tr := New()
	tr.Record(routing.ProtocolArtNet, 1, net.ParseIP("10.0.0.1"))
	tr.Record(routing.ProtocolSACN, 2, net.ParseIP("10.0.0.2"))

	all := tr.All()
	if len(all) != 2 {
		t.Fatalf("want 2 entries, got %d", len(all))
	}
}

func TestExpire(t *testing.T) {
	tr := New()
	tr.Record(routing.ProtocolArtNet, 1, net.ParseIP("10.0.0.1"))

	tr.Expire(-time.Second) // everything is "older" than a negative cutoff offset
	if len(tr.All()) != 0 {
		t.Fatalf("expire with a negative max age should clear all entries")
	}
}

func TestRecordOverwritesSameSource(t *testing.T) {
	tr := New()
	ip := net.ParseIP("10.0.0.1")
	tr.Record(routing.ProtocolArtNet, 1, ip)
	tr.Record(routing.ProtocolArtNet, 1, ip)

	if len(tr.All()) != 1 {
		t.Fatalf("re-recording the same source must not duplicate entries")
	}
}
