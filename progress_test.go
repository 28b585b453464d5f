package exfatrecovery

import "testing"

func TestProgressBus_sendAndReceive(t *testing.T) {
	bus := NewProgressBus(4)

	bus.Send(ProgressBytesScanned{Count: 1024})
	bus.Send(ProgressChunkCompleted{ChunkIndex: 1})

	first := <-bus.Events()
	if ev, ok := first.(ProgressBytesScanned); !ok || ev.Count != 1024 {
		t.Fatalf("expected first event to be ProgressBytesScanned{1024}, got %+v", first)
	}

	second := <-bus.Events()
	if ev, ok := second.(ProgressChunkCompleted); !ok || ev.ChunkIndex != 1 {
		t.Fatalf("expected second event to be ProgressChunkCompleted{1}, got %+v", second)
	}
}

func TestProgressBus_sendNeverBlocksWhenFull(t *testing.T) {
	bus := NewProgressBus(1)

	bus.Send(ProgressBytesScanned{Count: 1})

	done := make(chan struct{})
	go func() {
		// The channel has capacity 1 and is already full; Send must not
		// block the caller even though nothing is draining it.
		bus.Send(ProgressBytesScanned{Count: 2})
		close(done)
	}()

	<-done
}

func TestProgressBus_sendAfterCloseDoesNotPanic(t *testing.T) {
	bus := NewProgressBus(1)
	bus.Close()

	bus.Send(ProgressChunkError{Offset: 10, Message: "boom"})
}

func TestProgressBus_closeIsIdempotent(t *testing.T) {
	bus := NewProgressBus(1)
	bus.Close()
	bus.Close()
}

func TestProgressBus_nilReceiverSendIsNoop(t *testing.T) {
	var bus *ProgressBus
	bus.Send(ProgressBytesScanned{Count: 1})
}
