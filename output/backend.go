package output

import "time"

// TimingUS carries the per-transmit BREAK/MAB durations a backend must
// honor for this frame.
type TimingUS struct {
	BreakUS int
	MABUS   int
}

// bitPeriod is one DMX512 bit cell at 250,000 bit/s.
const bitPeriod = 4 * time.Microsecond

// Backend is a port's transmit peripheral: given a complete frame and
// its timing, emit BREAK, MAB, then the serial byte stream onto the
// line. Submit must not block past the current tick's budget; an error
// return means the tick is dropped and the caller must not bump
// activity for it.
type Backend interface {
	Submit(frame Frame, timing TimingUS) error
	Close() error
}
