package exfatrecovery

import (
	"bytes"
	"math"
	"testing"
)

func TestShannonEntropy_range(t *testing.T) {
	if e := ShannonEntropy(nil); e != 0 {
		t.Fatalf("expected entropy 0 for empty input, got %f", e)
	}

	allEqual := bytes.Repeat([]byte{0x42}, 4096)
	if e := ShannonEntropy(allEqual); e != 0 {
		t.Fatalf("expected entropy 0 for all-equal bytes, got %f", e)
	}

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}

	e := ShannonEntropy(data)
	if e < 0 || e > 8 {
		t.Fatalf("entropy out of [0,8] range: %f", e)
	}

	if math.Abs(e-8.0) > 0.001 {
		t.Fatalf("expected near-maximal entropy for uniform byte distribution, got %f", e)
	}
}

func TestFrequencyFromBytes_normalization(t *testing.T) {
	empty := FrequencyFromBytes(nil)

	sum := 0.0
	for _, v := range empty.Values {
		sum += v
	}

	if sum != 0 {
		t.Fatalf("expected zero vector for empty input, sum=%f", sum)
	}

	data := []byte("hello world")
	freq := FrequencyFromBytes(data)

	sum = 0.0
	for _, v := range freq.Values {
		sum += v
	}

	if math.Abs(sum-1.0) > 1e-9 {
		t.Fatalf("expected normalized frequency to sum to 1, got %f", sum)
	}
}

func TestCosineSimilarity_bounds(t *testing.T) {
	a := FrequencyFromBytes([]byte("aaaabbbb"))
	b := FrequencyFromBytes([]byte("aaaabbbb"))

	if c := CosineSimilarity(a, a); math.Abs(c-1.0) > 1e-9 {
		t.Fatalf("expected cosine(A,A)=1 for non-zero A, got %f", c)
	}

	if c := CosineSimilarity(a, b); c < 0 || c > 1 {
		t.Fatalf("cosine out of [0,1]: %f", c)
	}

	zero := ByteFrequency{}
	if c := CosineSimilarity(zero, a); c != 0 {
		t.Fatalf("expected cosine with a zero vector to be 0, got %f", c)
	}
}

func TestJaccardSimilarity_bounds(t *testing.T) {
	empty := map[string]struct{}{}
	a := map[string]struct{}{"x": {}, "y": {}}

	if j := JaccardSimilarity(a, a); j != 1 {
		t.Fatalf("expected jaccard(A,A)=1 for non-empty A, got %f", j)
	}

	if j := JaccardSimilarity(a, empty); j != 0 {
		t.Fatalf("expected jaccard(A,empty)=0, got %f", j)
	}

	if j := JaccardSimilarity(empty, empty); j < 0 || j > 1 {
		t.Fatalf("jaccard out of [0,1]: %f", j)
	}

	b := map[string]struct{}{"y": {}, "z": {}}
	j := JaccardSimilarity(a, b)
	if j < 0 || j > 1 {
		t.Fatalf("jaccard out of [0,1]: %f", j)
	}

	if math.Abs(j-1.0/3.0) > 1e-9 {
		t.Fatalf("expected jaccard 1/3 for one shared of three union elements, got %f", j)
	}
}

func TestStructuralValidators(t *testing.T) {
	if !IsValidJSON([]byte(`{"a": 1, "b": "two", "c": [1,2,3]}`)) {
		t.Fatalf("expected valid JSON to be recognised")
	}

	if IsValidJSON([]byte(`{not json`)) {
		t.Fatalf("expected malformed JSON to be rejected")
	}

	if !IsValidHTML([]byte(`<html><body><div>hi</div></body></html>`)) {
		t.Fatalf("expected HTML structure to be recognised")
	}

	if IsValidHTML([]byte(`just plain text`)) {
		t.Fatalf("expected plain text to not be recognised as HTML")
	}

	csv := "a,b,c\n1,2,3\n4,5,6\n"
	if !IsValidCSV([]byte(csv)) {
		t.Fatalf("expected consistent CSV to be recognised")
	}

	if IsValidCSV([]byte("just one line")) {
		t.Fatalf("expected a single line to be rejected as CSV")
	}
}

func TestIsCompressedLikeAndStructuredText(t *testing.T) {
	highEntropy := make([]byte, 4096)
	for i := range highEntropy {
		highEntropy[i] = byte(i * 131)
	}

	if !IsCompressedLike(highEntropy) {
		t.Fatalf("expected near-uniform byte distribution to register as compressed-like, entropy=%f", ShannonEntropy(highEntropy))
	}

	text := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 50)

	if IsStructuredText(text) == false {
		t.Fatalf("expected repeated English text to register as structured text, entropy=%f", ShannonEntropy(text))
	}
}
