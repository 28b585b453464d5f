// This file implements C6: chunking, parallel dispatch over a worker pool,
// per-chunk panic isolation, progress-bus emission, and the per-chunk
// pipeline that applies the composite scoring formula (see scoring.go) to
// decide hot-fragment emission.

package exfatrecovery

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sort"

	"github.com/dsoprea/go-logging"
	"golang.org/x/sync/errgroup"
)

// ScanConfig controls chunking and dispatch for a scan.
type ScanConfig struct {
	ChunkSize         uint64
	OverlapSize       uint64
	WorkerCount       int
	Deduplicate       bool
	MinConfidence     float64
	Reverse           bool
	NvmeOptimization  bool
	HotFragmentFloor  float64
	EnableExfat       bool
}

// DefaultScanConfig mirrors the original's ScanConfig defaults.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		ChunkSize:        256 * 1024 * 1024,
		OverlapSize:      64 * 1024,
		WorkerCount:      0,
		Deduplicate:      true,
		MinConfidence:    0.0,
		Reverse:          false,
		NvmeOptimization: false,
		HotFragmentFloor: 20.0,
		EnableExfat:      false,
	}
}

const chunkAlignment = 64

// alignedChunkSize rounds size down to the nearest multiple of 64 bytes, with
// a floor of 64.
func alignedChunkSize(size uint64) uint64 {
	aligned := (size / chunkAlignment) * chunkAlignment
	if aligned == 0 {
		return chunkAlignment
	}

	return aligned
}

// chunkInfo is one (base_offset, length) window of the image.
type chunkInfo struct {
	Offset uint64
	Length uint64
}

// CreateChunks produces an ordered list of overlapping, 64-byte-aligned
// chunks covering [start, imageSize). Every base_offset is 64-byte aligned;
// chunk_size is constant except possibly the last. If reverse is set, the
// list is returned back-to-front.
func CreateChunks(start, imageSize uint64, cfg ScanConfig) []chunkInfo {
	chunkSize := alignedChunkSize(cfg.ChunkSize)

	chunks := make([]chunkInfo, 0)

	offset := (start / chunkAlignment) * chunkAlignment

	for offset < imageSize {
		length := chunkSize + cfg.OverlapSize
		if offset+length > imageSize {
			length = imageSize - offset
		}

		chunks = append(chunks, chunkInfo{Offset: offset, Length: length})

		offset += chunkSize
	}

	if cfg.Reverse {
		for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
			chunks[i], chunks[j] = chunks[j], chunks[i]
		}
	}

	return chunks
}

// ChunkError records a panic caught while processing one chunk.
type ChunkError struct {
	Offset  uint64
	Message string
}

// ScanStats accumulates scan-wide counters. Each field is isolated to its
// own cache line to avoid false sharing under concurrent relaxed-add
// updates from scanner workers.
type ScanStats struct {
	bytesScanned    paddedCounter
	chunksCompleted paddedCounter
	chunksErrored   paddedCounter
	fragmentsFound  paddedCounter
}

type paddedCounter struct {
	value uint64
	_     [56]byte // pad to a 64-byte cache line alongside the uint64
}

func (c *paddedCounter) add(delta uint64) {
	atomicAddUint64(&c.value, delta)
}

func (c *paddedCounter) get() uint64 {
	return atomicLoadUint64(&c.value)
}

// BytesScanned returns the running total of bytes scanned so far.
func (s *ScanStats) BytesScanned() uint64 { return s.bytesScanned.get() }

// ChunksCompleted returns the running total of completed chunks.
func (s *ScanStats) ChunksCompleted() uint64 { return s.chunksCompleted.get() }

// ChunksErrored returns the running total of chunks that panicked.
func (s *ScanStats) ChunksErrored() uint64 { return s.chunksErrored.get() }

// FragmentsFound returns the running total of emitted hot fragments.
func (s *ScanStats) FragmentsFound() uint64 { return s.fragmentsFound.get() }

// ScanResult is the aggregate output of a full scan.
type ScanResult struct {
	Tokens       []Token
	HotFragments []HotFragment
	ChunkErrors  []ChunkError
	Stats        *ScanStats
}

// Scanner runs the C6 parallel scan pipeline over an Image.
type Scanner struct {
	Config  ScanConfig
	Matcher *Matcher
}

// NewScanner returns a Scanner with the given config and a fresh matcher
// bound to the shared compiled pattern set.
func NewScanner(cfg ScanConfig) *Scanner {
	return &Scanner{
		Config:  cfg,
		Matcher: NewMatcher(),
	}
}

// Scan partitions [startOffset, image.Size()) into overlapping chunks and
// dispatches them to a worker pool. Each chunk's task is wrapped in a
// recover boundary: a panic is recorded as a ChunkError and never aborts
// the scan. Progress events are sent on bus in a non-blocking fashion.
func (s *Scanner) Scan(ctx context.Context, image *Image, startOffset uint64, bus *ProgressBus) (*ScanResult, error) {
	stats := &ScanStats{}

	imageSize := uint64(image.Size())
	if imageSize == 0 {
		return &ScanResult{Stats: stats}, nil
	}

	chunks := CreateChunks(startOffset, imageSize, s.Config)

	workerCount := s.Config.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	data := image.SharedMap()

	type chunkResult struct {
		tokens    []Token
		fragments []HotFragment
	}

	results := make([]chunkResult, len(chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workerCount)

	var chunkErrorsCollected []ChunkError

	for idx, chunk := range chunks {
		idx, chunk := idx, chunk

		group.Go(func() (err error) {
			select {
			case <-groupCtx.Done():
				return nil
			default:
			}

			result, chunkErr := s.processChunkSafely(data, chunk, bus)

			if chunkErr != nil {
				chunkErrorsCollected = append(chunkErrorsCollected, *chunkErr)
				stats.chunksErrored.add(1)
				bus.Send(ProgressChunkError{Offset: chunkErr.Offset, Message: chunkErr.Message})
			} else {
				results[idx] = result
			}

			// Count only the bytes this chunk adds beyond the previous
			// chunk's start, so the overlap is not counted twice.
			scanned := chunk.Length
			if step := alignedChunkSize(s.Config.ChunkSize); scanned > step {
				scanned = step
			}

			stats.bytesScanned.add(scanned)
			stats.chunksCompleted.add(1)
			bus.Send(ProgressChunkCompleted{ChunkIndex: uint64(idx)})
			bus.Send(ProgressBytesScanned{Count: scanned})

			return nil
		})
	}

	if errWait := group.Wait(); errWait != nil {
		return nil, errWait
	}

	allTokens := make([]Token, 0)
	allFragments := make([]HotFragment, 0)

	for _, r := range results {
		allTokens = append(allTokens, r.tokens...)
		allFragments = append(allFragments, r.fragments...)

		for _, fragment := range r.fragments {
			stats.fragmentsFound.add(1)
			bus.Send(ProgressHotFragment{Fragment: fragment})
		}
	}

	if s.Config.Deduplicate {
		allTokens = DeduplicateTokens(allTokens)
	}

	filtered := allTokens[:0]
	for _, tok := range allTokens {
		if tok.Confidence >= s.Config.MinConfidence {
			filtered = append(filtered, tok)
		}
	}
	allTokens = filtered

	sort.Slice(allTokens, func(i, j int) bool {
		return allTokens[i].Offset < allTokens[j].Offset
	})

	sort.Slice(allFragments, func(i, j int) bool {
		return allFragments[i].Offset < allFragments[j].Offset
	})

	return &ScanResult{
		Tokens:       allTokens,
		HotFragments: allFragments,
		ChunkErrors:  chunkErrorsCollected,
		Stats:        stats,
	}, nil
}

// processChunkSafely runs the per-chunk pipeline inside a recover boundary,
// translating a panic into a ChunkError instead of propagating it. This is
// the one place in the core where a panic is an expected, non-fatal event
// rather than a programming-error signal.
func (s *Scanner) processChunkSafely(data []byte, chunk chunkInfo, bus *ProgressBus) (result struct {
	tokens    []Token
	fragments []HotFragment
}, chunkErr *ChunkError) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			message := fmt.Sprintf("%v", errRaw)
			if err, ok := errRaw.(error); ok {
				message = err.Error()
			} else {
				_ = reflect.TypeOf(errRaw)
			}

			chunkErr = &ChunkError{Offset: chunk.Offset, Message: message}
		}
	}()

	end := chunk.Offset + chunk.Length
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}

	chunkData := data[chunk.Offset:end]

	tokens, fragment := s.scanChunkPipeline(chunkData, Offset(chunk.Offset))

	result.tokens = tokens
	if fragment != nil {
		result.fragments = append(result.fragments, *fragment)
	}

	return result, nil
}

// scanChunkPipeline is the per-chunk body described in §4.6:
// classify every cache-aligned 64-byte window, run the token matcher,
// compute content features, and compose the final score. No exFAT
// entry-set parse is attempted here.
func (s *Scanner) scanChunkPipeline(chunkData []byte, baseOffset Offset) ([]Token, *HotFragment) {
	var (
		isEmpty        = true
		hasMetadata    bool
		hotPopcount    int
		jsonMarkers    int
		cyrillicHits   int
	)

	windowCount := 0

	for i := 0; i+64 <= len(chunkData); i += 64 {
		class := ClassifyBlock(chunkData[i : i+64])

		if !class.IsEmpty {
			isEmpty = false
		}

		if i == 0 && class.HasMetadata {
			hasMetadata = true
		}

		hotPopcount += popcount32(class.HotMaskLo) + popcount32(class.HotMaskHi)
		windowCount++
	}

	if len(chunkData)%64 != 0 {
		tail := chunkData[windowCount*64:]
		class := ClassifyBlock(tail)

		if !class.IsEmpty {
			isEmpty = false
		}
	}

	jsonMarkers = CountJSONMarkers(chunkData)
	cyrillicDensity := CyrillicDensity(chunkData)
	if cyrillicDensity > 0 {
		cyrillicHits = 1
	}
	_ = cyrillicHits

	matcher := s.Matcher.FreshClone()
	tokens := matcher.ScanChunk(chunkData, baseOffset, s.Config.Deduplicate)

	entropy := ShannonEntropy(chunkData)

	fileType := guessFileTypeFast(chunkData)

	score := ComputeFragmentScore(chunkData, len(tokens), cyrillicDensity, jsonMarkers > 0, entropy)

	if s.Config.EnableExfat && hasMetadata {
		// No C4 entry-set parse is run here: a full ExFatBootParams is not
		// available mid-chunk without the boot sector, so EnableExfat and
		// the metadata marker have no effect on the tokens or the fragment
		// this pipeline returns.
	}

	if score.OverallScore <= s.Config.HotFragmentFloor || isEmpty {
		return tokens, nil
	}

	fragment := &HotFragment{
		Offset:          baseOffset,
		Size:            Size(len(chunkData)),
		TokenCount:      len(tokens),
		CyrillicDensity: cyrillicDensity,
		JSONMarkerCount: jsonMarkers,
		HasValidJSON:    score.IsValidJSON,
		Entropy:         entropy,
		FileType:        fileType,
		Score:           score,
	}

	return tokens, fragment
}

// guessFileTypeFast assigns a coarse file-type tag based on cheap prefix and
// substring checks.
func guessFileTypeFast(data []byte) string {
	if len(data) == 0 {
		return "unknown"
	}

	switch data[0] {
	case '{', '[':
		return "json"
	case '<':
		return "html"
	}

	if _, ok := FindFirst(data, []byte("http")); ok {
		return "txt"
	}

	return "unknown"
}

func popcount32(x uint32) int {
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}

	return count
}
