// Package artnet decodes Art-Net ArtDMX packets (opcode 0x5000).
//
// Parsing is a pure function: given a raw UDP payload it returns a
// universe and a data slice, or rejects the packet outright. Nothing
// here allocates beyond the returned slice header, and nothing touches
// shared state; callers are responsible for counting rejections and
// routing accepted frames.
package artnet

import (
	"encoding/binary"
	"fmt"
)

const (
	// Port is the standard Art-Net UDP port.
	Port = 6454

	opDMX = 0x5000

	minPacketLen    = 18
	protocolVersion = 14
)

// ArtNetID is the 8-byte Art-Net packet identifier ("Art-Net\0").
var ArtNetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// Universe is a 15-bit Art-Net universe address.
//
// Bits 14-8: Net (0-127), bits 7-4: SubNet (0-15), bits 3-0: Universe (0-15).
type Universe uint16

// NewUniverse builds a Universe from its Net/SubNet/Universe components.
func NewUniverse(net, subnet, universe uint8) Universe {
	return Universe((uint16(net&0x7F) << 8) | (uint16(subnet&0x0F) << 4) | uint16(universe&0x0F))
}

func (u Universe) Net() uint8      { return uint8((u >> 8) & 0x7F) }
func (u Universe) SubNet() uint8   { return uint8((u >> 4) & 0x0F) }
func (u Universe) Universe() uint8 { return uint8(u & 0x0F) }

func (u Universe) String() string {
	return fmt.Sprintf("%d.%d.%d", u.Net(), u.SubNet(), u.Universe())
}

// ParseDMX decodes an ArtDMX packet from a raw UDP payload.
//
// A packet is accepted when it is at least 18 bytes, carries the 8-byte
// Art-Net ID, the 0x5000 opcode (little-endian at offset 8), a 1..512
// big-endian length at offset 16, and at least 18+length bytes in all.
// The universe is reassembled from Net and SubUni with the net field
// masked to 7 bits, so it is always a legal 15-bit value.
func ParseDMX(buf []byte) (universe Universe, data []byte, ok bool) {
	if len(buf) < minPacketLen {
		return 0, nil, false
	}
	if [8]byte(buf[0:8]) != ArtNetID {
		return 0, nil, false
	}
	if binary.LittleEndian.Uint16(buf[8:10]) != opDMX {
		return 0, nil, false
	}

	length := binary.BigEndian.Uint16(buf[16:18])
	if length < 1 || length > 512 {
		return 0, nil, false
	}
	if len(buf) < minPacketLen+int(length) {
		// An oversized declared length is dropped, never truncated.
		return 0, nil, false
	}

	subUni := buf[14]
	net := buf[15]
	universe = NewUniverse(net, subUni>>4, subUni&0x0F)

	return universe, buf[18 : 18+int(length)], true
}

// BuildDMX constructs a raw ArtDMX packet. Used by tests and by any
// external tool that needs to originate Art-Net traffic; the core itself
// never transmits Art-Net.
func BuildDMX(universe Universe, sequence uint8, data []byte) []byte {
	dataLen := len(data)
	if dataLen > 512 {
		dataLen = 512
	}
	if dataLen%2 != 0 {
		dataLen++
	}

	buf := make([]byte, minPacketLen+dataLen)
	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], opDMX)
	binary.BigEndian.PutUint16(buf[10:12], protocolVersion)
	buf[12] = sequence
	buf[13] = 0

	net := universe.Net()
	subUni := (universe.SubNet() << 4) | universe.Universe()
	buf[14] = subUni
	buf[15] = net

	binary.BigEndian.PutUint16(buf[16:18], uint16(dataLen))
	n := dataLen
	if n > len(data) {
		n = len(data)
	}
	copy(buf[18:], data[:n])

	return buf
}
