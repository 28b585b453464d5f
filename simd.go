// This file implements the SIMD-style primitives the scanner screens every
// chunk with: a fast first-byte-then-verify search, and a 64-byte block
// classifier. Dispatch between the "wide" (word-at-a-time) and "narrow"
// (byte-at-a-time) strategies is decided once at package init, per the
// design's "no per-call dispatch inside hot loops" rule; both strategies
// are required to produce bit-identical results for any input.

package exfatrecovery

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// hotBytes are the byte values whose positions are tracked in a block's hot
// mask: 'y', 'h', '{', 'v', '/' — calibrated to the URL/JSON patterns C3
// looks for. If the pattern set changes, this set and the scoring weights
// that lean on it must be recalibrated together (see the Open Questions in
// SPEC_FULL.md).
var hotBytes = [5]byte{'y', 'h', '{', 'v', '/'}

// BlockClass is the result of classifying a 64-byte block.
type BlockClass struct {
	IsEmpty     bool
	HasMetadata bool
	HotMaskLo   uint32
	HotMaskHi   uint32
	ZeroCount   int
	HighEntropy bool
}

var useWidePath bool

func init() {
	// The bit tricks below are plain Go arithmetic, not actual vector
	// instructions, so correctness never depends on this probe. It only
	// decides which of the two equivalent strategies runs, mirroring the
	// original's is_x86_feature_detected! gate and satisfying the "decide
	// dispatch once, at startup" design rule.
	useWidePath = cpu.X86.HasAVX2 || cpu.X86.HasSSE2 || cpu.ARM64.HasASIMD
}

// FindFirst returns the smallest offset in haystack at which needle
// appears, or (0, false) if it does not appear. An empty needle never
// matches.
func FindFirst(haystack, needle []byte) (int, bool) {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return 0, false
	}

	if useWidePath {
		return findFirstWide(haystack, needle)
	}

	return findFirstNarrow(haystack, needle)
}

// ClassifyBlock classifies a block of up to 64 bytes. Blocks shorter than
// 64 bytes (a trailing tail) always use the narrow, scalar path.
func ClassifyBlock(block []byte) BlockClass {
	if len(block) < 64 {
		return classifyBlockNarrow(block)
	}

	if useWidePath {
		return classifyBlockWide(block)
	}

	return classifyBlockNarrow(block)
}

// findFirstNarrow is the byte-at-a-time reference implementation.
func findFirstNarrow(haystack, needle []byte) (int, bool) {
	limit := len(haystack) - len(needle)

	for i := 0; i <= limit; i++ {
		if haystack[i] != needle[0] {
			continue
		}

		if bytesEqual(haystack[i:i+len(needle)], needle) {
			return i, true
		}
	}

	return 0, false
}

// findFirstWide scans 8 bytes at a time for candidate positions of
// needle[0] using the classic SWAR "has value byte" trick, verifying full
// equality at each candidate. It must agree with findFirstNarrow for every
// input.
func findFirstWide(haystack, needle []byte) (int, bool) {
	n := len(haystack)
	needleLen := len(needle)
	limit := n - needleLen

	first := needle[0]
	broadcast := uint64(first) * 0x0101010101010101

	i := 0
	for i+8 <= n {
		word := binary.LittleEndian.Uint64(haystack[i : i+8])
		matches := hasValueByte(word, broadcast)

		for matches != 0 {
			bitPos := trailingZeros64(matches)
			bytePos := i + bitPos/8

			if bytePos > limit {
				matches &^= uint64(0xff) << uint(bitPos)
				continue
			}

			if bytesEqual(haystack[bytePos:bytePos+needleLen], needle) {
				return bytePos, true
			}

			matches &^= uint64(0xff) << uint(bitPos)
		}

		i += 8
	}

	// Tail: fewer than 8 bytes remain in the window that could still start
	// a match.
	for ; i <= limit; i++ {
		if haystack[i] == first && bytesEqual(haystack[i:i+needleLen], needle) {
			return i, true
		}
	}

	return 0, false
}

// hasValueByte returns a word with the high bit of each byte lane set where
// that lane of word equals the broadcast value, 0 elsewhere. Standard SWAR
// "has value" trick: XOR leaves a zero byte exactly where word matched the
// broadcast value, then hasZeroByte finds it.
func hasValueByte(word, broadcast uint64) uint64 {
	return hasZeroByte(word ^ broadcast)
}

// hasZeroByte returns a word with the high bit of each byte lane set exactly
// where that lane of word is zero. The low seven bits of each lane are added
// separately so no carry or borrow crosses into a neighbouring lane.
func hasZeroByte(word uint64) uint64 {
	const low7 = 0x7f7f7f7f7f7f7f7f

	return ^(((word & low7) + low7) | word | low7)
}

func trailingZeros64(x uint64) int {
	if x == 0 {
		return 64
	}

	n := 0
	for x&1 == 0 {
		n++
		x >>= 1
	}

	return n
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
