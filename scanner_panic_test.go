package exfatrecovery

import (
	"context"
	"testing"
)

// TestProcessChunkSafely_recoversFromOutOfRangeChunk exercises the one
// place a panic is an expected, recoverable event: a chunk whose offset
// has run past the shared map (as could happen if CreateChunks and the
// map disagreed on image size) must come back as a ChunkError, not a
// propagated panic.
func TestProcessChunkSafely_recoversFromOutOfRangeChunk(t *testing.T) {
	scanner := NewScanner(DefaultScanConfig())
	bus := NewProgressBus(4)

	data := make([]byte, 10)
	badChunk := chunkInfo{Offset: 1000, Length: 10}

	_, chunkErr := scanner.processChunkSafely(data, badChunk, bus)

	if chunkErr == nil {
		t.Fatalf("expected an out-of-range chunk to be recovered as a ChunkError")
	}

	if chunkErr.Offset != badChunk.Offset {
		t.Fatalf("expected the ChunkError to carry the chunk's offset, got %d", chunkErr.Offset)
	}

	if chunkErr.Message == "" {
		t.Fatalf("expected a non-empty panic message")
	}
}

func TestScan_wellFormedImageReportsNoChunkErrors(t *testing.T) {
	// A scan over a well-formed image never triggers the panic path;
	// this asserts the companion invariant - that panics are purely
	// per-chunk and a normal scan reports zero chunk errors.
	dir := t.TempDir()

	data := make([]byte, 256*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}

	img := writeCheckpointTestImage(t, dir, data)

	cfg := DefaultScanConfig()
	cfg.ChunkSize = 64 * 1024

	scanner := NewScanner(cfg)
	bus := NewProgressBus(64)

	result, err := scanner.Scan(context.Background(), img, 0, bus)
	if err != nil {
		t.Fatalf("expected scan to succeed, got %s", err)
	}

	if len(result.ChunkErrors) != 0 {
		t.Fatalf("expected zero chunk errors for a well-formed image, got %d", len(result.ChunkErrors))
	}
}
