// This file implements C8: the dynamic-programming stream assembler.
// Given an unordered pool of candidate fragments it repeatedly finds the
// highest-scoring offset-ordered path through them, using a bounded
// lookback window, and removes each chosen path's fragments from the pool
// until it is empty or the stream cap is reached.

package exfatrecovery

import "sort"

// StreamFragment is the assembler's view of one candidate fragment: its
// position, the base score C6 assigned it, its coarse file-type tag, the
// token URLs found inside it, its byte-frequency vector, and its
// FragmentScore.
type StreamFragment struct {
	Offset    Offset
	Size      Size
	Score     float64
	FileType  string
	TokenURLs map[string]struct{}
	Frequency ByteFrequency
	Features  FragmentScore
}

// EndOffset returns Offset + Size.
func (sf StreamFragment) EndOffset() Offset {
	return Offset(uint64(sf.Offset) + uint64(sf.Size))
}

// AssembledStream is one ordered path of fragments chosen by the
// assembler. Fragments are strictly non-decreasing in offset.
type AssembledStream struct {
	Fragments  []StreamFragment
	TotalScore float64
	Reasons    []string
}

// Confidence is TotalScore / |Fragments|.
func (as AssembledStream) Confidence() float64 {
	if len(as.Fragments) == 0 {
		return 0
	}

	return as.TotalScore / float64(len(as.Fragments))
}

// StreamScoringWeights parameterizes the DP's edge and gap/overlap scoring,
// defaulting per §4.8.
type StreamScoringWeights struct {
	MaxGap               uint64
	MaxOverlap           uint64
	GapPenalty           float64
	OverlapPenalty       float64
	TypeMatchBonus       float64
	TypeMismatchPenalty  float64
	CosineWeight         float64
	JaccardWeight        float64
	StructureBonus       float64
	MinEdgeScore         float64
	MaxLookback          int
	StreamCap            int
}

// DefaultStreamScoringWeights mirrors §4.8's defaults.
func DefaultStreamScoringWeights() StreamScoringWeights {
	return StreamScoringWeights{
		MaxGap:              1024 * 1024,
		MaxOverlap:          64 * 1024,
		GapPenalty:          15,
		OverlapPenalty:      20,
		TypeMatchBonus:      8,
		TypeMismatchPenalty: 5,
		CosineWeight:        25,
		JaccardWeight:       10,
		StructureBonus:      6,
		MinEdgeScore:        5,
		MaxLookback:         200,
		StreamCap:           3,
	}
}

// AssembleStreams repeatedly finds the best-scoring path through the
// remaining fragment pool, builds an AssembledStream from it, removes its
// fragments from the pool, and repeats until the pool is empty or
// weights.StreamCap streams have been produced.
func AssembleStreams(fragments []StreamFragment, weights StreamScoringWeights) []AssembledStream {
	pool := make([]StreamFragment, len(fragments))
	copy(pool, fragments)

	streams := make([]AssembledStream, 0, weights.StreamCap)

	for len(pool) > 0 && len(streams) < weights.StreamCap {
		path, pathScore, avgEdge := findBestPath(pool, weights)
		if len(path) == 0 {
			break
		}

		stream := buildStream(path, pathScore, avgEdge)
		streams = append(streams, stream)

		pool = removeFragments(pool, path)
	}

	return streams
}

// findBestPath sorts remaining fragments by offset, runs the longest-
// best-score DP with the max_lookback window, and reconstructs the
// highest-scoring path.
func findBestPath(pool []StreamFragment, weights StreamScoringWeights) ([]StreamFragment, float64, float64) {
	if len(pool) == 0 {
		return nil, 0, 0
	}

	sorted := make([]StreamFragment, len(pool))
	copy(sorted, pool)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	n := len(sorted)
	best := make([]float64, n)
	previous := make([]int, n)
	edgeScoreTo := make([]float64, n)

	for i := range previous {
		previous[i] = -1
	}

	for i := 0; i < n; i++ {
		best[i] = sorted[i].Score

		lookbackStart := i - weights.MaxLookback
		if lookbackStart < 0 {
			lookbackStart = 0
		}

		for j := lookbackStart; j < i; j++ {
			edge, ok := edgeScore(sorted[j], sorted[i], weights)
			if !ok {
				continue
			}

			candidate := best[j] + edge
			if candidate > best[i] {
				best[i] = candidate
				previous[i] = j
				edgeScoreTo[i] = edge
			}
		}
	}

	bestIdx := 0
	for i := 1; i < n; i++ {
		if best[i] > best[bestIdx] {
			bestIdx = i
		}
	}

	pathIdx := make([]int, 0)
	for idx := bestIdx; idx != -1; idx = previous[idx] {
		pathIdx = append(pathIdx, idx)
	}

	path := make([]StreamFragment, len(pathIdx))
	edgeSum := 0.0
	edgeCount := 0

	for k, idx := range pathIdx {
		path[len(pathIdx)-1-k] = sorted[idx]

		if previous[idx] != -1 {
			edgeSum += edgeScoreTo[idx]
			edgeCount++
		}
	}

	avgEdge := 0.0
	if edgeCount > 0 {
		avgEdge = edgeSum / float64(edgeCount)
	}

	return path, best[bestIdx], avgEdge
}

// edgeScore computes the directed edge score from a (earlier offset) to b
// (later offset): a gap/overlap penalty within caps, a same/mismatched
// file-type adjustment, cosine and Jaccard similarity contributions, and a
// structure-match bonus. The edge is undefined (ok=false) when the gap or
// overlap exceeds its cap, or when the resulting score is below
// MinEdgeScore.
func edgeScore(a, b StreamFragment, weights StreamScoringWeights) (float64, bool) {
	aEnd := uint64(a.EndOffset())
	bStart := uint64(b.Offset)

	score := 0.0

	if bStart >= aEnd {
		gap := bStart - aEnd
		if gap > weights.MaxGap {
			return 0, false
		}

		score -= weights.GapPenalty * (float64(gap) / float64(weights.MaxGap))
	} else {
		overlap := aEnd - bStart
		if overlap > weights.MaxOverlap {
			return 0, false
		}

		score -= weights.OverlapPenalty * (float64(overlap) / float64(weights.MaxOverlap))
	}

	if a.FileType == b.FileType {
		score += weights.TypeMatchBonus
	} else {
		score -= weights.TypeMismatchPenalty
	}

	score += weights.CosineWeight * CosineSimilarity(a.Frequency, b.Frequency)
	score += weights.JaccardWeight * JaccardSimilarity(a.TokenURLs, b.TokenURLs)

	if a.Features.IsValidStructure() && b.Features.IsValidStructure() {
		score += weights.StructureBonus
	}

	if score < weights.MinEdgeScore {
		return 0, false
	}

	return score, true
}

func buildStream(path []StreamFragment, totalScore, avgEdgeScore float64) AssembledStream {
	return AssembledStream{
		Fragments:  path,
		TotalScore: totalScore,
		Reasons: []string{
			formatReason("fragment count", float64(len(path))),
			formatReason("avg edge score", avgEdgeScore),
			formatReason("path score", totalScore),
		},
	}
}

func formatReason(label string, value float64) string {
	return label + "=" + formatFloat(value)
}

func removeFragments(pool []StreamFragment, used []StreamFragment) []StreamFragment {
	usedSet := make(map[Offset]bool, len(used))
	for _, f := range used {
		usedSet[f.Offset] = true
	}

	remaining := make([]StreamFragment, 0, len(pool))
	for _, f := range pool {
		if !usedSet[f.Offset] {
			remaining = append(remaining, f)
		}
	}

	return remaining
}
