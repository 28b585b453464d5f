// This file implements C7: pairwise fragment affinity. Each channel
// (cosine similarity of byte-frequency vectors, Jaccard similarity of
// token-URL sets, and an exFAT filesystem-hint match) contributes to the
// total score only once it clears its own threshold; a physical-distance
// decay then discounts fragments that are far apart in the image.

package exfatrecovery

import "math"

// FilesystemHint is the optional exFAT provenance a fragment may carry,
// when C4's opportunistic entry-set parse found one nearby.
type FilesystemHint struct {
	Filename     string
	FirstCluster uint32
	Size         uint64
}

// FragmentDescriptor is the linker's view of one fragment: its
// byte-frequency vector, the set of token URLs found inside it, its
// absolute offset (for the distance decay), and an optional filesystem
// hint.
type FragmentDescriptor struct {
	Offset    Offset
	Frequency ByteFrequency
	TokenURLs map[string]struct{}
	Hint      *FilesystemHint
}

// NewFragmentDescriptor builds a descriptor from a slice of token URLs.
func NewFragmentDescriptor(offset Offset, freq ByteFrequency, urls []string, hint *FilesystemHint) FragmentDescriptor {
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}

	return FragmentDescriptor{Offset: offset, Frequency: freq, TokenURLs: set, Hint: hint}
}

// LinkScore is the per-channel and total affinity between two fragments.
type LinkScore struct {
	Cosine  float64
	Jaccard float64
	ExFat   float64
	Total   float64
}

// LinkerConfig holds the weights, per-channel thresholds, and
// distance-decay parameters the spec defaults.
type LinkerConfig struct {
	CosineWeight     float64
	CosineThreshold  float64
	JaccardWeight    float64
	JaccardThreshold float64
	ExFatWeight      float64
	ExFatThreshold   float64
	DecayK           float64
	DecayFloor       float64
	EdgeFloor        float64
}

// DefaultLinkerConfig mirrors §4.7's defaults.
func DefaultLinkerConfig() LinkerConfig {
	return LinkerConfig{
		CosineWeight:     0.55,
		CosineThreshold:  0.92,
		JaccardWeight:    0.25,
		JaccardThreshold: 0.30,
		ExFatWeight:      0.20,
		ExFatThreshold:   1.0,
		DecayK:           10,
		DecayFloor:       0.1,
		EdgeFloor:        0.75,
	}
}

// FragmentLinker computes pairwise affinity between fragment descriptors.
type FragmentLinker struct {
	Config LinkerConfig
}

// NewFragmentLinker returns a linker with cfg.
func NewFragmentLinker(cfg LinkerConfig) *FragmentLinker {
	return &FragmentLinker{Config: cfg}
}

// Score computes the LinkScore between a and b and reports whether it
// clears the configured edge floor (and the distance-decay floor) to be
// recorded as an edge at all.
func (fl *FragmentLinker) Score(a, b FragmentDescriptor) (LinkScore, bool) {
	cfg := fl.Config

	cosine := CosineSimilarity(a.Frequency, b.Frequency)
	jaccard := JaccardSimilarity(a.TokenURLs, b.TokenURLs)
	exfat := exFatMatchScore(a.Hint, b.Hint)

	total := 0.0

	if cosine > cfg.CosineThreshold {
		total += cfg.CosineWeight * cosine
	}

	if jaccard > cfg.JaccardThreshold {
		total += cfg.JaccardWeight * jaccard
	}

	if exfat >= cfg.ExFatThreshold {
		total += cfg.ExFatWeight * exfat
	}

	distance := byteDistance(a.Offset, b.Offset)
	decay := math.Exp(-cfg.DecayK * distance / (100 * bytesPerMiB))

	score := LinkScore{Cosine: cosine, Jaccard: jaccard, ExFat: exfat, Total: total * decay}

	if decay < cfg.DecayFloor {
		return score, false
	}

	return score, score.Total >= cfg.EdgeFloor
}

// exFatMatchScore is 0 if either hint is absent (no signal, so no match);
// otherwise it is 1.0 when any one of filename (case-insensitive, non-empty),
// first_cluster (non-zero), or size (non-zero) matches between the two
// hints, else 0.
func exFatMatchScore(a, b *FilesystemHint) float64 {
	if a == nil || b == nil {
		return 0
	}

	if equalFoldASCII(a.Filename, b.Filename) && a.Filename != "" {
		return 1.0
	}

	if a.FirstCluster == b.FirstCluster && a.FirstCluster != 0 {
		return 1.0
	}

	if a.Size == b.Size && a.Size != 0 {
		return 1.0
	}

	return 0
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]

		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}

		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}

		if ca != cb {
			return false
		}
	}

	return true
}

func byteDistance(a, b Offset) float64 {
	if a > b {
		a, b = b, a
	}

	return float64(uint64(b) - uint64(a))
}

// JaccardSimilarity computes |A∩B| / |A∪B| over string sets, in [0,1].
// jaccard(A,A) = 1 for non-empty A; jaccard(A,∅) = 0.
func JaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}
