// This file implements C3: the token matcher. It owns the immutable
// compiled pattern set (patterns.go) and a per-scan-context deduplication
// set, and implements the scan_chunk contract.

package exfatrecovery

import (
	"html"
	"strings"
)

// Token is a validated URL-like substring with a fixed-shape identifier and
// optional title.
type Token struct {
	URL         string
	Identifier  string
	Title       string
	HasTitle    bool
	Offset      Offset
	PatternName string
	Confidence  float64
}

// Matcher scans chunks for tokens using the shared pattern set and a
// thread-local dedup set.
type Matcher struct {
	patterns []TokenPattern
	seen     map[string]struct{}
}

// NewMatcher returns a Matcher bound to the shared, package-level pattern
// set, with an empty local dedup set.
func NewMatcher() *Matcher {
	return &Matcher{
		patterns: TokenPatterns,
		seen:     make(map[string]struct{}),
	}
}

// FreshClone returns a new Matcher sharing this one's compiled pattern set
// (read-only, never copied) with an empty local dedup set. This is the
// cheap per-worker clone the parallel scanner uses.
func (m *Matcher) FreshClone() *Matcher {
	return &Matcher{
		patterns: m.patterns,
		seen:     make(map[string]struct{}),
	}
}

const (
	windowBefore  = 100
	windowAfter   = 50
	titleContext  = 1000
	identifierLen = 11
)

// isValidIdentifier reports whether id is exactly 11 characters, all
// alphanumeric, '-', or '_'.
func isValidIdentifier(id []byte) bool {
	if len(id) != identifierLen {
		return false
	}

	for _, b := range id {
		isAlnum := (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
		if !isAlnum && b != '-' && b != '_' {
			return false
		}
	}

	return true
}

// ScanChunk implements the C3 scan_chunk contract: needle pre-filter, window
// expansion, full pattern match, identifier validation, optional dedup,
// absolute offset computation, and title extraction.
func (m *Matcher) ScanChunk(data []byte, baseOffset Offset, deduplicate bool) []Token {
	tokens := make([]Token, 0)

	pos := 0
	for pos < len(data) {
		hitOffset, hitLen := m.firstNeedleHit(data[pos:])
		if hitOffset < 0 {
			break
		}

		hit := pos + hitOffset

		windowStart := hit - windowBefore
		if windowStart < 0 {
			windowStart = 0
		}

		windowEnd := hit + hitLen + windowAfter
		if windowEnd > len(data) {
			windowEnd = len(data)
		}

		window := data[windowStart:windowEnd]

		for _, pattern := range m.patterns {
			loc := pattern.Regex.FindSubmatchIndex(window)
			if loc == nil || len(loc) < 4 {
				continue
			}

			identifier := window[loc[2]:loc[3]]
			if !isValidIdentifier(identifier) {
				continue
			}

			identifierStr := string(identifier)

			if deduplicate {
				if _, ok := m.seen[identifierStr]; ok {
					continue
				}

				m.seen[identifierStr] = struct{}{}
			}

			matchStart := loc[0]
			absoluteOffset, _ := baseOffset.CheckedAdd(Size(windowStart + matchStart))

			title, hasTitle := extractTitle(data, windowStart+matchStart)

			tokens = append(tokens, Token{
				URL:         string(window[loc[0]:loc[1]]),
				Identifier:  identifierStr,
				Title:       title,
				HasTitle:    hasTitle,
				Offset:      absoluteOffset,
				PatternName: pattern.Name,
				Confidence:  float64(pattern.Priority) / 10.0,
			})
		}

		// Advance past this needle hit; the window may still contain
		// further needle hits, which the next loop iteration will find.
		pos = hit + 1
	}

	return tokens
}

// firstNeedleHit scans data for the first occurrence of any configured
// needle, returning its offset and length, or (-1, 0) if none is present.
func (m *Matcher) firstNeedleHit(data []byte) (int, int) {
	best := -1
	bestLen := 0

	for _, needle := range needlePrefilter {
		if idx, ok := FindFirst(data, needle); ok {
			if best < 0 || idx < best {
				best = idx
				bestLen = len(needle)
			}
		}
	}

	return best, bestLen
}

// extractTitle tries each title pattern in turn against a +-1000 byte
// context window around matchOffset, decodes HTML entities, trims, and
// applies the length/platform-name filters.
func extractTitle(data []byte, matchOffset int) (string, bool) {
	start := matchOffset - titleContext
	if start < 0 {
		start = 0
	}

	end := matchOffset + titleContext
	if end > len(data) {
		end = len(data)
	}

	context := data[start:end]

	for _, pattern := range TitlePatterns {
		loc := pattern.FindSubmatchIndex(context)
		if loc == nil || len(loc) < 4 {
			continue
		}

		candidate := html.UnescapeString(string(context[loc[2]:loc[3]]))
		candidate = strings.TrimSpace(candidate)

		if len(candidate) < 4 || len(candidate) >= 200 {
			continue
		}

		if strings.Contains(strings.ToLower(candidate), "example") {
			continue
		}

		return candidate, true
	}

	return "", false
}

// DeduplicateTokens is the global, single-threaded dedup pass run after the
// parallel scan phase: tokens are grouped by identifier, the record with a
// title wins, ties go to higher confidence, and remaining ties keep the
// first one seen.
func DeduplicateTokens(tokens []Token) []Token {
	best := make(map[string]Token)
	order := make([]string, 0)

	for _, tok := range tokens {
		existing, ok := best[tok.Identifier]
		if !ok {
			best[tok.Identifier] = tok
			order = append(order, tok.Identifier)
			continue
		}

		if isBetterToken(tok, existing) {
			best[tok.Identifier] = tok
		}
	}

	result := make([]Token, 0, len(order))
	for _, id := range order {
		result = append(result, best[id])
	}

	return result
}

func isBetterToken(candidate, existing Token) bool {
	if candidate.HasTitle != existing.HasTitle {
		return candidate.HasTitle
	}

	return candidate.Confidence > existing.Confidence
}
