package exfatrecovery

import (
	"bytes"
	"testing"
)

func TestMatcher_ScanChunk_scenario3(t *testing.T) {
	chunk := bytes.Repeat([]byte("https://example.invalid/watch?v=dQw4w9WgXcQ "), 90)

	m := NewMatcher()
	tokens := m.ScanChunk(chunk, 0, true)

	deduped := DeduplicateTokens(tokens)

	if len(deduped) != 1 {
		t.Fatalf("expected exactly one token after dedup, got %d", len(deduped))
	}

	tok := deduped[0]

	if tok.Identifier != "dQw4w9WgXcQ" {
		t.Fatalf("expected identifier dQw4w9WgXcQ, got %q", tok.Identifier)
	}

	if tok.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0, got %f", tok.Confidence)
	}

	if tok.HasTitle {
		t.Fatalf("expected no title for a bare repeated URL")
	}
}

func TestIsValidIdentifier(t *testing.T) {
	valid := []string{"dQw4w9WgXcQ", "ABCDEFGHIJK", "a-b_c-d_e-f", "01234567890"}
	for _, id := range valid {
		if !isValidIdentifier([]byte(id)) {
			t.Fatalf("expected %q to be a valid identifier", id)
		}
	}

	invalid := []string{"short", "waytoolongidentifier", "has space!!", "has!illegal"}
	for _, id := range invalid {
		if isValidIdentifier([]byte(id)) {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}

func TestDeduplicateTokens_idempotent(t *testing.T) {
	tokens := []Token{
		{Identifier: "aaaaaaaaaaa", Confidence: 0.5, HasTitle: false},
		{Identifier: "aaaaaaaaaaa", Confidence: 0.9, HasTitle: false},
		{Identifier: "aaaaaaaaaaa", Confidence: 0.3, HasTitle: true, Title: "hello there"},
		{Identifier: "bbbbbbbbbbb", Confidence: 0.7},
	}

	once := DeduplicateTokens(tokens)
	twice := DeduplicateTokens(once)

	if len(once) != len(twice) {
		t.Fatalf("expected dedup to be idempotent in length: once=%d twice=%d", len(once), len(twice))
	}

	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("expected dedup to be idempotent at index %d: once=%+v twice=%+v", i, once[i], twice[i])
		}
	}

	var aRecord Token
	for _, tok := range once {
		if tok.Identifier == "aaaaaaaaaaa" {
			aRecord = tok
		}
	}

	if !aRecord.HasTitle || aRecord.Title != "hello there" {
		t.Fatalf("expected the titled record to win dedup, got %+v", aRecord)
	}
}

func TestMatcher_FreshClone_independentDedup(t *testing.T) {
	m := NewMatcher()

	chunk := []byte("https://example.invalid/watch?v=dQw4w9WgXcQ")
	first := m.ScanChunk(chunk, 0, true)
	second := m.ScanChunk(chunk, 0, true)

	if len(first) == 0 {
		t.Fatalf("expected at least one token on first scan")
	}

	if len(second) != 0 {
		t.Fatalf("expected the same matcher's local dedup to suppress a repeat scan, got %d tokens", len(second))
	}

	clone := m.FreshClone()
	third := clone.ScanChunk(chunk, 0, true)

	if len(third) == 0 {
		t.Fatalf("expected a fresh clone's empty dedup set to allow the same token again")
	}
}
