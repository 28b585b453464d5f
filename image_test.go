package exfatrecovery

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempImage(t *testing.T, data []byte) string {
	t.Helper()

	dir := t.TempDir()
	p := filepath.Join(dir, "image.bin")

	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("failed to write temp image: %s", err)
	}

	return p
}

func TestOpenImage_empty(t *testing.T) {
	p := writeTempImage(t, nil)

	img, err := OpenImage(p)
	if err != nil {
		t.Fatalf("expected empty image to open, got error: %s", err)
	}
	defer img.Close()

	if img.Size() != 0 {
		t.Fatalf("expected size 0, got %d", img.Size())
	}

	if _, err := img.Slice(0, 1); err == nil {
		t.Fatalf("expected Slice on empty image to fail")
	}
}

func TestOpenImage_notFound(t *testing.T) {
	_, err := OpenImage(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatalf("expected error opening nonexistent image")
	}

	re, ok := err.(*RecoveryError)
	if !ok || re.Kind != ErrorKindFileNotFound {
		t.Fatalf("expected FileNotFound error kind, got %v", err)
	}
}

func TestImage_Slice_bounds(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}

	p := writeTempImage(t, data)

	img, err := OpenImage(p)
	if err != nil {
		t.Fatalf("failed to open image: %s", err)
	}
	defer img.Close()

	if img.Size() != 1024 {
		t.Fatalf("expected size 1024, got %d", img.Size())
	}

	slice, err := img.Slice(10, 20)
	if err != nil {
		t.Fatalf("expected valid slice to succeed: %s", err)
	}

	if len(slice.Data) != 20 || slice.Data[0] != 10 {
		t.Fatalf("unexpected slice contents")
	}

	if _, err := img.Slice(1024, 1); err == nil {
		t.Fatalf("expected InvalidOffset at offset == size")
	}

	if _, err := img.Slice(1020, 10); err == nil {
		t.Fatalf("expected InvalidSize when offset+len exceeds size")
	}

	if _, err := img.Slice(10, ^uint64(0)); err == nil {
		t.Fatalf("expected InvalidSize on overflow")
	}
}
