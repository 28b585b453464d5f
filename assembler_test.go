package exfatrecovery

import "testing"

func makeStreamFragment(offset uint64, size uint64, fileType string, fill byte) StreamFragment {
	data := make([]byte, size)
	for i := range data {
		data[i] = fill
	}

	return StreamFragment{
		Offset:    Offset(offset),
		Size:      Size(size),
		FileType:  fileType,
		Frequency: FrequencyFromBytes(data),
	}
}

// TestAssembleStreams_interleavedPairsSeparateByType matches scenario 6:
// two json fragments at 0 and 140 and two html fragments at 50 and 190,
// each 8 bytes, with max_gap=200. The assembler must recover two streams of
// two fragments each, despite the fragments interleaving by offset.
func TestAssembleStreams_interleavedPairsSeparateByType(t *testing.T) {
	fragments := []StreamFragment{
		makeStreamFragment(0, 8, "json", 'a'),
		makeStreamFragment(50, 8, "html", 'z'),
		makeStreamFragment(140, 8, "json", 'a'),
		makeStreamFragment(190, 8, "html", 'z'),
	}

	weights := DefaultStreamScoringWeights()
	weights.MaxGap = 200

	streams := AssembleStreams(fragments, weights)

	if len(streams) != 2 {
		t.Fatalf("expected exactly 2 streams, got %d", len(streams))
	}

	for _, stream := range streams {
		if len(stream.Fragments) != 2 {
			t.Fatalf("expected each stream to have 2 fragments, got %d", len(stream.Fragments))
		}

		first := stream.Fragments[0].FileType
		for _, f := range stream.Fragments {
			if f.FileType != first {
				t.Fatalf("expected a type-homogeneous stream, found %q and %q", first, f.FileType)
			}
		}

		for i := 1; i < len(stream.Fragments); i++ {
			if stream.Fragments[i].Offset < stream.Fragments[i-1].Offset {
				t.Fatalf("expected monotone non-decreasing offsets within a stream")
			}
		}
	}

	if streams[0].Fragments[0].FileType == streams[1].Fragments[0].FileType {
		t.Fatalf("expected the two streams to be separated by file type")
	}
}

func TestAssembleStreams_emptyPool(t *testing.T) {
	streams := AssembleStreams(nil, DefaultStreamScoringWeights())
	if len(streams) != 0 {
		t.Fatalf("expected no streams from an empty pool, got %d", len(streams))
	}
}

func TestAssembleStreams_singleFragmentStream(t *testing.T) {
	fragments := []StreamFragment{
		makeStreamFragment(0, 16, "json", 'a'),
	}

	streams := AssembleStreams(fragments, DefaultStreamScoringWeights())

	if len(streams) != 1 {
		t.Fatalf("expected exactly one stream, got %d", len(streams))
	}

	if len(streams[0].Fragments) != 1 {
		t.Fatalf("expected a single-fragment stream, got %d", len(streams[0].Fragments))
	}

	if streams[0].Confidence() != streams[0].TotalScore {
		t.Fatalf("expected confidence to equal total score for a single-fragment stream")
	}
}

func TestAssembleStreams_respectsStreamCap(t *testing.T) {
	weights := DefaultStreamScoringWeights()
	weights.StreamCap = 1
	weights.MaxGap = 8

	fragments := []StreamFragment{
		makeStreamFragment(0, 8, "json", 'a'),
		makeStreamFragment(1_000_000, 8, "json", 'a'),
	}

	streams := AssembleStreams(fragments, weights)
	if len(streams) != 1 {
		t.Fatalf("expected StreamCap to bound the number of streams to 1, got %d", len(streams))
	}
}

func TestEdgeScore_farApartFragmentsProduceNoEdge(t *testing.T) {
	weights := DefaultStreamScoringWeights()
	weights.MaxGap = 1024

	a := makeStreamFragment(0, 8, "json", 'a')
	b := makeStreamFragment(1_000_000, 8, "json", 'a')

	if _, ok := edgeScore(a, b, weights); ok {
		t.Fatalf("expected a gap far beyond MaxGap to produce no edge")
	}
}
