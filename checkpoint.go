// This file implements C9: idempotent, atomic checkpoint snapshots keyed
// by image fingerprint, and the background agent that serializes saves
// off the scanner's hot path.

package exfatrecovery

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

const checkpointVersion = 1
const fingerprintSampleSize = 1024 * 1024

// Checkpoint is a resumable snapshot of scan progress.
type Checkpoint struct {
	Version     int             `json:"version"`
	Timestamp   int64           `json:"timestamp"`
	ImagePath   string          `json:"image_path"`
	ImageHash   string          `json:"image_hash"`
	Position    uint64          `json:"position"`
	State       json.RawMessage `json:"state"`
}

// Fingerprint computes the SHA-256 over the first 1 MiB of the image
// (or the whole image, if shorter) concatenated with the image's total
// length as a little-endian 8-byte integer.
func Fingerprint(image *Image) string {
	h := sha256.New()

	sampleLen := uint64(fingerprintSampleSize)
	if sampleLen > uint64(image.Size()) {
		sampleLen = uint64(image.Size())
	}

	if sampleLen > 0 {
		slice, err := image.Slice(0, sampleLen)
		if err == nil {
			h.Write(slice.Data)
		}
	}

	var lengthBytes [8]byte
	binary.LittleEndian.PutUint64(lengthBytes[:], uint64(image.Size()))
	h.Write(lengthBytes[:])

	return hexEncode(h.Sum(nil))
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"

	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}

	return string(out)
}

// NewCheckpoint builds a Checkpoint for image at position, with an opaque
// caller-supplied state blob.
func NewCheckpoint(image *Image, position uint64, nowUnix int64, state interface{}) (Checkpoint, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return Checkpoint{}, errors.Wrap(err, "failed to marshal checkpoint state")
	}

	return Checkpoint{
		Version:   checkpointVersion,
		Timestamp: nowUnix,
		ImagePath: image.Path(),
		ImageHash: Fingerprint(image),
		Position:  position,
		State:     raw,
	}, nil
}

// SaveCheckpoint writes checkpoint to path atomically: serialize, write to
// path+".tmp", fsync, optionally best-effort copy the existing path to
// path+".bak", then rename the tmp file onto path.
func SaveCheckpoint(path string, checkpoint Checkpoint, backupEnabled bool) error {
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint")
	}

	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open checkpoint tmp file")
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to write checkpoint tmp file")
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to fsync checkpoint tmp file")
	}

	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to close checkpoint tmp file")
	}

	if backupEnabled {
		if _, err := os.Stat(path); err == nil {
			copyFileBestEffort(path, path+".bak")
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "failed to rename checkpoint tmp file into place")
	}

	return nil
}

// copyFileBestEffort copies src to dst, swallowing any error: the backup
// is a nice-to-have, never a save-blocking requirement.
func copyFileBestEffort(src, dst string) {
	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return
	}
	defer out.Close()

	_, _ = io.Copy(out, in)
}

// LoadCheckpoint reads and unmarshals the checkpoint JSON at path.
func LoadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, errors.Wrap(err, "failed to read checkpoint file")
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return Checkpoint{}, errors.Wrap(err, "failed to parse checkpoint file")
	}

	return checkpoint, nil
}

// ValidateResume fails when checkpoint's image_path differs from image's,
// the fingerprint differs (the image content changed), or the checkpoint's
// position is beyond the image's current size.
func ValidateResume(image *Image, checkpoint Checkpoint) error {
	if checkpoint.ImagePath != image.Path() {
		return errors.Errorf("checkpoint image path %q does not match %q", checkpoint.ImagePath, image.Path())
	}

	if checkpoint.ImageHash != Fingerprint(image) {
		return errors.New("checkpoint image fingerprint does not match current image contents")
	}

	if checkpoint.Position > uint64(image.Size()) {
		return errors.Errorf("checkpoint position %d exceeds image size %d", checkpoint.Position, uint64(image.Size()))
	}

	return nil
}

// checkpointSaveRequest and checkpointShutdownRequest are the two message
// shapes the checkpoint agent accepts over its bounded queue.
type checkpointSaveRequest struct {
	path          string
	checkpoint    Checkpoint
	backupEnabled bool
	done          chan error
}

type checkpointShutdownRequest struct {
	done chan struct{}
}

// CheckpointAgent runs checkpoint writes on its own goroutine, off the
// scanner's hot path, accepting Save and Shutdown requests over a bounded
// queue.
type CheckpointAgent struct {
	saves    chan checkpointSaveRequest
	shutdown chan checkpointShutdownRequest
}

// NewCheckpointAgent starts the agent with a bounded save queue of the
// given depth.
func NewCheckpointAgent(queueDepth int) *CheckpointAgent {
	agent := &CheckpointAgent{
		saves:    make(chan checkpointSaveRequest, queueDepth),
		shutdown: make(chan checkpointShutdownRequest),
	}

	go agent.run()

	return agent
}

func (a *CheckpointAgent) run() {
	for {
		select {
		case req := <-a.saves:
			err := SaveCheckpoint(req.path, req.checkpoint, req.backupEnabled)
			if req.done != nil {
				req.done <- err
			}

		case req := <-a.shutdown:
			// Drain any saves still queued before acknowledging shutdown,
			// so the last save is guaranteed to flush.
			for {
				select {
				case pending := <-a.saves:
					err := SaveCheckpoint(pending.path, pending.checkpoint, pending.backupEnabled)
					if pending.done != nil {
						pending.done <- err
					}
				default:
					close(req.done)
					return
				}
			}
		}
	}
}

// Save enqueues a checkpoint write and blocks until it has been flushed,
// returning any error SaveCheckpoint produced.
func (a *CheckpointAgent) Save(path string, checkpoint Checkpoint, backupEnabled bool) error {
	done := make(chan error, 1)
	a.saves <- checkpointSaveRequest{path: path, checkpoint: checkpoint, backupEnabled: backupEnabled, done: done}
	return <-done
}

// Shutdown stops the agent, waiting for the last queued save to flush
// before returning.
func (a *CheckpointAgent) Shutdown() {
	done := make(chan struct{})
	a.shutdown <- checkpointShutdownRequest{done: done}
	<-done
}
