// This file implements the §4.6 composite scoring formula: the weighted
// base sum (link density, Cyrillic density, JSON markers), the size
// bonus/penalty, and the additive structural-validator bonuses that
// together decide whether a chunk clears the hot-fragment emission floor.

package exfatrecovery

const (
	targetSizeLow  = 15 * 1024
	targetSizeHigh = 350 * 1024
	outerSizeLow   = 5 * 1024
	outerSizeHigh  = 400 * 1024

	bytesPerMiB = 1024 * 1024
	maxLinkDensity = 100.0
)

// ComputeFragmentScore composes the final FragmentScore for a chunk, per
// §4.6's "Scoring" paragraph. chunkData is the full chunk; tokenCount,
// cyrillicDensity, hasJSONMarkers and entropy are pre-computed by the
// caller (the scanner) since it already has them on hand from the
// classification pass.
func ComputeFragmentScore(chunkData []byte, tokenCount int, cyrillicDensity float64, hasJSONMarkers bool, entropy float64) FragmentScore {
	reasons := make([]string, 0, 4)

	size := len(chunkData)

	linkDensity := 0.0
	if size > 0 {
		linkDensity = float64(tokenCount) / (float64(size) / bytesPerMiB)
	}
	if linkDensity > maxLinkDensity {
		linkDensity = maxLinkDensity
	}

	score := 0.4*linkDensity + 0.3*(cyrillicDensity*100) + jsonMarkerTerm(hasJSONMarkers)

	if size >= targetSizeLow && size <= targetSizeHigh {
		score += 15
		reasons = append(reasons, "target size range")
	} else if size < outerSizeLow || size > outerSizeHigh {
		score *= 0.5
		reasons = append(reasons, "outside plausible size range")
	}

	structuredText := IsStructuredText(chunkData)
	if structuredText {
		score += 20
		reasons = append(reasons, "structured text entropy")
	}

	if entropy >= 3.5 && entropy <= 6.5 {
		score += 10
		reasons = append(reasons, "optimal entropy")
	}

	compressed := IsCompressedLike(chunkData)
	if compressed {
		score -= 25
		reasons = append(reasons, "compressed-like entropy")
	}

	validJSON := IsValidJSON(chunkData)
	probablyJSON := IsProbablyJSON(chunkData)

	switch {
	case validJSON:
		score += 30
		reasons = append(reasons, "valid JSON")
	case probablyJSON:
		score += 15
		reasons = append(reasons, "probably JSON")
	}

	// The matcher (C3) only ever emits tokens whose identifier already
	// passed the strict character-class check, so there is no weaker
	// "probably a token URL" signal available at this layer: every token
	// the scanner counted is already a validated one.
	validToken := tokenCount > 0
	if validToken {
		score += 25
		reasons = append(reasons, "valid token URL")
	}

	validHTML := IsValidHTML(chunkData)
	if validHTML {
		score += 20
		reasons = append(reasons, "valid HTML")
	}

	validCSV := IsValidCSV(chunkData)
	if validCSV {
		score += 15
		reasons = append(reasons, "valid CSV")
	}

	if score < 0 {
		score = 0
	}

	return FragmentScore{
		OverallScore:      score,
		IsValidJSON:       validJSON,
		IsProbablyJSON:    probablyJSON,
		IsValidHTML:       validHTML,
		IsValidCSV:        validCSV,
		IsValidToken:      validToken,
		HasStructuredText: structuredText,
		IsCompressed:      compressed,
		Reasons:           reasons,
	}
}

func jsonMarkerTerm(hasJSONMarkers bool) float64 {
	if hasJSONMarkers {
		return 0.15 * 100
	}

	return 0
}
