package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	exfatrecovery "github.com/dsoprea/go-exfat-recovery"
)

// rootParameters is the CLI surface documented in spec.md §6. Kept as a
// single flat struct, matching the teacher's own `cmd/*/main.go` binaries.
type rootParameters struct {
	Positional struct {
		Image string `positional-arg-name:"image" description:"Path to the raw disk image to recover from"`
	} `positional-args:"yes" required:"yes"`

	TargetSizeMinKB int `long:"target-size-min" description:"Minimum candidate fragment size, in KB" default:"15"`
	TargetSizeMaxKB int `long:"target-size-max" description:"Maximum candidate fragment size, in KB" default:"300"`
	ChunkMinKB      int `long:"chunk-min" description:"Minimum scan chunk size, in KB" default:"32"`
	ChunkMaxKB      int `long:"chunk-max" description:"Maximum scan chunk size, in KB" default:"2048"`

	Reverse             bool `long:"reverse" description:"Scan the image back-to-front"`
	Nvme                bool `long:"nvme" description:"Bias chunk size for NVMe-class random I/O"`
	EarlyExit           int  `long:"early-exit" description:"Use only the first N hot fragments for linking and assembly; the scan itself runs to completion (0 = no limit)" default:"0"`
	Output              string `long:"output" description:"Directory recovered streams and reports are written to" default:"./recovery_output"`
	EnableExfat         bool `long:"enable-exfat" description:"Set the scanner's EnableExfat option; the scanner runs no mid-scan exFAT entry-set parse, so results are unchanged"`
	FullExfatRecovery   bool `long:"full-exfat-recovery" description:"Prefer a live exFAT directory walk when a valid boot sector is found" default:"true"`
	NoLive              bool `long:"no-live" description:"Suppress live progress output"`
	LinksOnly           bool `long:"links-only" description:"Stop after computing fragment linkage; skip stream assembly"`
	SemanticScan        bool `long:"semantic-scan" description:"Reserved for a future content-aware scan pass; currently a no-op"`
}

var rootArguments = new(rootParameters)

// config is the validated, byte-unit-converted form of rootParameters, per
// SPEC_FULL.md's "CLI validation and byte-unit conversion helpers"
// supplement.
type config struct {
	params rootParameters
}

func (c config) Validate() error {
	if c.params.TargetSizeMinKB <= 0 {
		return exfatrecovery.NewInvalidArgumentError("target-size-min must be > 0")
	}

	if c.params.TargetSizeMinKB > c.params.TargetSizeMaxKB {
		return exfatrecovery.NewInvalidArgumentError("target-size-min must be <= target-size-max")
	}

	if c.params.ChunkMinKB <= 0 {
		return exfatrecovery.NewInvalidArgumentError("chunk-min must be > 0")
	}

	if c.params.ChunkMinKB > c.params.ChunkMaxKB {
		return exfatrecovery.NewInvalidArgumentError("chunk-min must be <= chunk-max")
	}

	return nil
}

func (c config) TargetSizeMinBytes() uint64 { return uint64(c.params.TargetSizeMinKB) * 1024 }
func (c config) TargetSizeMaxBytes() uint64 { return uint64(c.params.TargetSizeMaxKB) * 1024 }
func (c config) ChunkMinBytes() uint64      { return uint64(c.params.ChunkMinKB) * 1024 }
func (c config) ChunkMaxBytes() uint64      { return uint64(c.params.ChunkMaxKB) * 1024 }

// resolveChunkSize picks a concrete chunk size between the configured
// chunk-min and chunk-max, biased toward the upper bound when nvme
// optimization is requested (more bytes per dispatched task suits an NVMe
// device's random-access throughput better than many small chunks).
func (c config) resolveChunkSize() uint64 {
	if c.params.Nvme {
		return c.ChunkMaxBytes()
	}

	return c.ChunkMinBytes()
}

func main() {
	defer func() {
		if state := recover(); state != nil {
			err, ok := state.(error)
			if !ok {
				err = log.Errorf("panic: %v", state)
			}

			log.PrintError(log.Wrap(err))
			os.Exit(3)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	if _, err := p.Parse(); err != nil {
		os.Exit(1)
	}

	cfg := config{params: *rootArguments}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(exfatrecovery.ExitCode(err))
	}
}

func run(cfg config) error {
	image, err := exfatrecovery.OpenImage(cfg.params.Positional.Image)
	if err != nil {
		return err
	}
	defer image.Close()

	if err := os.MkdirAll(cfg.params.Output, 0o755); err != nil {
		return exfatrecovery.NewIoError("failed to create output directory", err)
	}

	if cfg.params.FullExfatRecovery {
		if recovered, err := tryLiveRecovery(cfg); err == nil {
			fmt.Printf("live exFAT recovery: %d file(s) recovered to %s\n", recovered, cfg.params.Output)
			return nil
		}
	}

	return runForensicScan(cfg, image)
}

// tryLiveRecovery attempts the happy-path recovery: a valid, mountable
// exFAT directory tree at offset 0. It walks the tree with
// Tree.CollectDescriptors, which folds every discovered file's content
// through the same C5/C7 FragmentDescriptor machinery the forensic
// byte-scan path uses, runs the C7 linker over the resulting descriptors to
// surface related files, then writes the in-memory content out.
func tryLiveRecovery(cfg config) (int, error) {
	f, err := os.Open(cfg.params.Positional.Image)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	er := exfatrecovery.NewExfatReader(f)

	if err := er.Parse(); err != nil {
		return 0, err
	}

	tree := exfatrecovery.NewTree(er)

	if err := tree.Load(); err != nil {
		return 0, err
	}

	recoveredFiles, err := tree.CollectDescriptors()
	if err != nil {
		return 0, err
	}

	linker := exfatrecovery.NewFragmentLinker(exfatrecovery.DefaultLinkerConfig())
	linked := 0

	for i := 0; i < len(recoveredFiles); i++ {
		for j := i + 1; j < len(recoveredFiles); j++ {
			if _, ok := linker.Score(recoveredFiles[i].Descriptor, recoveredFiles[j].Descriptor); ok {
				linked++
			}
		}
	}

	recovered := 0

	for _, rf := range recoveredFiles {
		outPath := filepath.Join(cfg.params.Output, sanitizeRelativePath(rf.Path))
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			continue
		}

		if err := os.WriteFile(outPath, rf.Content, 0o644); err != nil {
			continue
		}

		recovered++
	}

	if !cfg.params.NoLive {
		fmt.Printf("live recovery: wrote %d file(s), found %d related pair(s) by content affinity\n", recovered, linked)
	}

	return recovered, nil
}

func sanitizeRelativePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "/")
	return filepath.FromSlash(path)
}

// runForensicScan is the scan-score-assemble pipeline: C6 over the whole
// image, C7 pairwise linkage over the resulting hot fragments, and
// (unless --links-only) C8 stream assembly, writing each assembled stream
// to the output directory.
func runForensicScan(cfg config, image *exfatrecovery.Image) error {
	scanCfg := exfatrecovery.DefaultScanConfig()
	scanCfg.ChunkSize = cfg.resolveChunkSize()
	scanCfg.Reverse = cfg.params.Reverse
	scanCfg.NvmeOptimization = cfg.params.Nvme
	scanCfg.EnableExfat = cfg.params.EnableExfat

	scanner := exfatrecovery.NewScanner(scanCfg)

	bus := exfatrecovery.NewProgressBus(256)

	checkpointAgent := exfatrecovery.NewCheckpointAgent(8)
	defer checkpointAgent.Shutdown()

	checkpointPath := filepath.Join(cfg.params.Output, "checkpoint.json")

	done := make(chan struct{})

	go consumeProgress(cfg, bus, image, checkpointAgent, checkpointPath, done)

	result, err := scanner.Scan(context.Background(), image, 0, bus)

	bus.Close()
	<-done

	if err != nil {
		return exfatrecovery.NewIoError("scan failed", err)
	}

	fmt.Printf(
		"scanned %s, %d hot fragment(s), %d token(s), %d chunk error(s)\n",
		humanize.Bytes(result.Stats.BytesScanned()),
		len(result.HotFragments),
		len(result.Tokens),
		len(result.ChunkErrors))

	fragments := buildStreamFragments(result, cfg, image)
	if cfg.params.EarlyExit > 0 && len(fragments) > cfg.params.EarlyExit {
		fragments = fragments[:cfg.params.EarlyExit]
	}

	descriptors := buildFragmentDescriptors(fragments)

	linker := exfatrecovery.NewFragmentLinker(exfatrecovery.DefaultLinkerConfig())

	edges := 0
	for i := 0; i < len(descriptors); i++ {
		for j := i + 1; j < len(descriptors); j++ {
			if _, ok := linker.Score(descriptors[i], descriptors[j]); ok {
				edges++
			}
		}
	}

	fmt.Printf("fragment linkage: %d edge(s) above threshold\n", edges)

	if cfg.params.LinksOnly {
		return nil
	}

	streams := exfatrecovery.AssembleStreams(fragments, exfatrecovery.DefaultStreamScoringWeights())

	for i, stream := range streams {
		outPath := filepath.Join(cfg.params.Output, fmt.Sprintf("stream_%03d.bin", i))

		if err := writeAssembledStream(image, stream, outPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %s\n", outPath, err)
			continue
		}

		fmt.Printf(
			"stream %03d: %d fragment(s), score %.2f, confidence %.2f -> %s\n",
			i, len(stream.Fragments), stream.TotalScore, stream.Confidence(), outPath)
	}

	return nil
}

func buildStreamFragments(result *exfatrecovery.ScanResult, cfg config, image *exfatrecovery.Image) []exfatrecovery.StreamFragment {
	fragments := make([]exfatrecovery.StreamFragment, 0, len(result.HotFragments))

	urlsByOffsetRange := tokenURLsByFragment(result)

	for _, hf := range result.HotFragments {
		urls := urlsByOffsetRange(hf.Offset, hf.Size)

		var freq exfatrecovery.ByteFrequency
		if slice, err := image.Slice(hf.Offset, uint64(hf.Size)); err == nil {
			freq = exfatrecovery.FrequencyFromBytes(slice.Data)
		}

		fragments = append(fragments, exfatrecovery.StreamFragment{
			Offset:    hf.Offset,
			Size:      hf.Size,
			Score:     hf.Score.OverallScore,
			FileType:  hf.FileType,
			TokenURLs: urls,
			Frequency: freq,
			Features:  hf.Score,
		})
	}

	return fragments
}

// tokenURLsByFragment returns a closure mapping a fragment's
// [offset, offset+size) range to the set of token URLs the scan found
// inside it.
func tokenURLsByFragment(result *exfatrecovery.ScanResult) func(exfatrecovery.Offset, exfatrecovery.Size) map[string]struct{} {
	return func(offset exfatrecovery.Offset, size exfatrecovery.Size) map[string]struct{} {
		urls := make(map[string]struct{})

		start := uint64(offset)
		end := start + uint64(size)

		for _, tok := range result.Tokens {
			to := uint64(tok.Offset)
			if to >= start && to < end {
				urls[tok.URL] = struct{}{}
			}
		}

		return urls
	}
}

func buildFragmentDescriptors(fragments []exfatrecovery.StreamFragment) []exfatrecovery.FragmentDescriptor {
	descriptors := make([]exfatrecovery.FragmentDescriptor, 0, len(fragments))

	for _, f := range fragments {
		urls := make([]string, 0, len(f.TokenURLs))
		for u := range f.TokenURLs {
			urls = append(urls, u)
		}

		descriptors = append(descriptors, exfatrecovery.NewFragmentDescriptor(f.Offset, f.Frequency, urls, nil))
	}

	return descriptors
}

func writeAssembledStream(image *exfatrecovery.Image, stream exfatrecovery.AssembledStream, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, frag := range stream.Fragments {
		slice, err := image.Slice(frag.Offset, uint64(frag.Size))
		if err != nil {
			return err
		}

		if _, err := out.Write(slice.Data); err != nil {
			return err
		}
	}

	return nil
}

// consumeProgress drains the progress bus, optionally printing a line per
// event (unless --no-live), and periodically asks the checkpoint agent to
// snapshot the running byte count. It returns (via done) once the bus is
// closed and fully drained.
func consumeProgress(cfg config, bus *exfatrecovery.ProgressBus, image *exfatrecovery.Image, agent *exfatrecovery.CheckpointAgent, checkpointPath string, done chan struct{}) {
	defer close(done)

	var scanned uint64
	const checkpointStride = 64 * 1024 * 1024
	var lastCheckpointed uint64

	for event := range bus.Events() {
		switch e := event.(type) {
		case exfatrecovery.ProgressBytesScanned:
			scanned += e.Count

			if scanned-lastCheckpointed >= checkpointStride {
				lastCheckpointed = scanned

				checkpoint, err := exfatrecovery.NewCheckpoint(image, scanned, time.Now().Unix(), map[string]uint64{"bytes_scanned": scanned})
				if err == nil {
					_ = agent.Save(checkpointPath, checkpoint, true)
				}
			}

		case exfatrecovery.ProgressHotFragment:
			if !cfg.params.NoLive {
				fmt.Printf("hot fragment @ %d (%s, score %.1f)\n",
					e.Fragment.Offset, e.Fragment.FileType, e.Fragment.Score.OverallScore)
			}

		case exfatrecovery.ProgressChunkError:
			fmt.Fprintf(os.Stderr, "chunk error @ %d: %s\n", e.Offset, e.Message)

		case exfatrecovery.ProgressChunkCompleted:
			// Only meaningful to a live dashboard; nothing to do here.
		}
	}
}
