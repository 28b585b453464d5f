package exfatrecovery

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFindFirst_basic(t *testing.T) {
	haystack := []byte("the quick brown fox jumps over the lazy dog")

	idx, ok := FindFirst(haystack, []byte("brown"))
	if !ok || idx != 10 {
		t.Fatalf("expected match at 10, got (%d, %v)", idx, ok)
	}

	if _, ok := FindFirst(haystack, []byte("zzz")); ok {
		t.Fatalf("expected no match")
	}

	if _, ok := FindFirst(haystack, nil); ok {
		t.Fatalf("empty needle must never match")
	}

	if _, ok := FindFirst([]byte("ab"), []byte("abc")); ok {
		t.Fatalf("needle longer than haystack must never match")
	}
}

func TestFindFirst_wideAndNarrowAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		haystack := make([]byte, rng.Intn(300))
		rng.Read(haystack)

		needle := make([]byte, 1+rng.Intn(8))
		rng.Read(needle)

		wideIdx, wideOk := findFirstWide(haystack, needle)
		narrowIdx, narrowOk := findFirstNarrow(haystack, needle)

		if wideOk != narrowOk || (wideOk && wideIdx != narrowIdx) {
			t.Fatalf("wide/narrow disagree for haystack=%x needle=%x: wide=(%d,%v) narrow=(%d,%v)",
				haystack, needle, wideIdx, wideOk, narrowIdx, narrowOk)
		}
	}
}

func TestClassifyBlock_emptyAndMetadata(t *testing.T) {
	zero := make([]byte, 64)

	class := ClassifyBlock(zero)
	if !class.IsEmpty {
		t.Fatalf("all-zero block must classify as empty")
	}

	meta := make([]byte, 64)
	meta[0] = 0x85

	class = ClassifyBlock(meta)
	if class.IsEmpty {
		t.Fatalf("block with non-zero byte must not classify as empty")
	}

	if !class.HasMetadata {
		t.Fatalf("block starting with 0x85 must classify HasMetadata")
	}
}

func TestClassifyBlock_hotMask(t *testing.T) {
	block := bytes.Repeat([]byte{'y'}, 64)

	class := ClassifyBlock(block)

	if popcount32(class.HotMaskLo)+popcount32(class.HotMaskHi) != 64 {
		t.Fatalf("expected every position to be hot for an all-'y' block")
	}
}

func TestClassifyBlock_wideNarrowAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		block := make([]byte, 64)
		rng.Read(block)

		wide := classifyBlockWide(block)
		narrow := classifyBlockNarrow(block)

		if wide != narrow {
			t.Fatalf("wide/narrow classify disagree for block=%x: wide=%+v narrow=%+v", block, wide, narrow)
		}
	}

	// A handful of adversarial, structured inputs in addition to random ones.
	adversarial := [][]byte{
		make([]byte, 64),
		bytes.Repeat([]byte{0xFF}, 64),
		append([]byte{0x85}, make([]byte, 63)...),
		bytes.Repeat([]byte("yh{v/"), 13)[:64],
	}

	for _, block := range adversarial {
		wide := classifyBlockWide(block)
		narrow := classifyBlockNarrow(block)

		if wide != narrow {
			t.Fatalf("wide/narrow classify disagree for adversarial block=%x", block)
		}
	}
}
