package exfatrecovery

import (
	"bytes"
	"testing"
)

func TestComputeFragmentScore_clampedAtZero(t *testing.T) {
	data := bytes.Repeat([]byte{0x00}, 1024)

	score := ComputeFragmentScore(data, 0, 0, false, ShannonEntropy(data))

	if score.OverallScore < 0 {
		t.Fatalf("expected score clamped at 0, got %f", score.OverallScore)
	}
}

func TestComputeFragmentScore_validJSONBonus(t *testing.T) {
	data := []byte(`{"a": 1, "b": [1,2,3], "c": "hello world this is text"}`)

	score := ComputeFragmentScore(data, 0, 0, CountJSONMarkers(data) > 0, ShannonEntropy(data))

	if !score.IsValidJSON {
		t.Fatalf("expected valid JSON")
	}

	if !score.IsValidStructure() {
		t.Fatalf("expected IsValidStructure true when JSON valid")
	}
}

func TestComputeFragmentScore_sizeBonusAndPenalty(t *testing.T) {
	small := bytes.Repeat([]byte("a"), 100)
	target := append(bytes.Repeat([]byte("a"), 20*1024), []byte("http")...)

	smallScore := ComputeFragmentScore(small, 0, 0, false, ShannonEntropy(small))
	targetScore := ComputeFragmentScore(target, 0, 0, false, ShannonEntropy(target))

	if targetScore.OverallScore <= smallScore.OverallScore {
		t.Fatalf("expected target-size fragment to score higher than a tiny one: small=%f target=%f",
			smallScore.OverallScore, targetScore.OverallScore)
	}
}
