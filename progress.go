// This file implements C10: the typed progress-event bus the scanner emits
// on and an external dashboard/reporter consumes from. Go has no enum with
// payload, so the event sum type is expressed as an interface implemented
// by four concrete structs, matching the original's ScanProgress enum
// re-expressed in the teacher's idiom.

package exfatrecovery

// ProgressEvent is the sum type sent over the progress bus.
type ProgressEvent interface {
	isProgressEvent()
}

// ProgressBytesScanned reports a delta of bytes scanned.
type ProgressBytesScanned struct {
	Count uint64
}

func (ProgressBytesScanned) isProgressEvent() {}

// ProgressChunkCompleted reports that a chunk finished processing
// (successfully or not).
type ProgressChunkCompleted struct {
	ChunkIndex uint64
}

func (ProgressChunkCompleted) isProgressEvent() {}

// ProgressHotFragment carries a freshly emitted hot fragment.
type ProgressHotFragment struct {
	Fragment HotFragment
}

func (ProgressHotFragment) isProgressEvent() {}

// ProgressChunkError carries a non-fatal per-chunk panic, recorded rather
// than propagated.
type ProgressChunkError struct {
	Offset  uint64
	Message string
}

func (ProgressChunkError) isProgressEvent() {}

// ProgressBus is a single-producer-per-worker, many-producer-overall,
// single-consumer typed event channel. Sends never block the scanner: a
// channel with room left accepts the send; a closed or full channel drops
// the event rather than blocking, per §4.10's "a slow
// consumer must not deadlock the scanner" rule.
type ProgressBus struct {
	events chan ProgressEvent
	closed bool
}

// NewProgressBus returns a bus with the given channel capacity. A capacity
// of 0 is legal (every send not immediately received is dropped).
func NewProgressBus(capacity int) *ProgressBus {
	return &ProgressBus{
		events: make(chan ProgressEvent, capacity),
	}
}

// Send delivers event without blocking. If the channel is closed (soft
// cancellation, §4.6 "Cancellation") the event is silently dropped; if the
// channel is open but full, the event is also dropped rather than blocking
// the caller — the channel having room is the only case in which the send
// actually succeeds and is observed by the consumer.
func (b *ProgressBus) Send(event ProgressEvent) {
	if b == nil {
		return
	}

	defer func() {
		// A send on a closed channel panics; closing is how a consumer
		// signals soft-cancel (§4.6), and that must never propagate back
		// into the scanner as a fatal error.
		_ = recover()
	}()

	select {
	case b.events <- event:
	default:
	}
}

// Events returns the receive side of the bus for a consumer to range over.
func (b *ProgressBus) Events() <-chan ProgressEvent {
	return b.events
}

// Close closes the bus. After Close, every subsequent Send is a no-op.
// Closing is the soft-cancellation signal described in §4.6: outstanding
// work drains to its panic-isolation boundary and the scan still returns a
// result.
func (b *ProgressBus) Close() {
	if b.closed {
		return
	}

	b.closed = true
	close(b.events)
}
