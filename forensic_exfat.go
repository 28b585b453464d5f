// This file implements the forensic half of C4: boot-sector discovery at an
// arbitrary offset (not just offset 0) and directory-entry-set parsing at a
// given offset of a byte slice. The scanner does not call into this file
// mid-chunk. It is the byte-exact counterpart to structures.go's
// "assume a valid filesystem starting at offset 0" path, used when the
// scanner is walking possibly-damaged raw bytes rather than a mounted
// volume.

package exfatrecovery

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

const (
	entryFile          = 0x85
	entryDeletedFile   = 0x05
	entryStream        = 0xC0
	entryDeletedStream = 0x40
	entryFilename      = 0xC1
	entryDeletedName   = 0x41

	bsFileSystemName        = 3
	bsFatOffset             = 80
	bsFatLength             = 84
	bsClusterHeapOffset     = 88
	bsClusterCount          = 92
	bsFirstClusterOfRoot    = 96
	bsBytesPerSectorShift   = 108
	bsSectorsPerClusterShift = 109

	seGeneralFlags = 1
	seNameLength   = 3
	seFirstCluster = 20
	seDataLength   = 24

	fnFileName = 2

	directoryEntrySize  = 32
	maxClusterSize      = 32 * 1024 * 1024
	maxExtractSize      = 250 * 1024 * 1024
	bootSectorScanLimit = 4 * 1024 * 1024
)

// ExFatBootParams is the forensic C4 output of boot sector discovery.
type ExFatBootParams struct {
	SectorSize         uint32
	ClusterSize        uint32
	FatOffset          uint64
	FatLengthSectors    uint32
	ClusterHeapOffset   uint64
	ClusterCount        uint32
	RootDirCluster      uint32
	BootSectorOffset    uint64
}

// FindBootSector scans image for a valid exFAT boot sector, trying offset 0
// first and then every 512 bytes up to 4 MiB. It returns (params, false) if
// no structurally valid boot sector is found; it never errors, per the
// "parsing fails silently" design rule.
func FindBootSector(data []byte) (ExFatBootParams, bool) {
	if params, ok := parseBootSectorAt(data, 0); ok {
		return params, true
	}

	limit := bootSectorScanLimit
	if limit > len(data) {
		limit = len(data)
	}

	for offset := 512; offset+bsSectorsPerClusterShift+1 <= limit; offset += 512 {
		if params, ok := parseBootSectorAt(data, offset); ok {
			return params, true
		}
	}

	return ExFatBootParams{}, false
}

func parseBootSectorAt(data []byte, offset int) (ExFatBootParams, bool) {
	if offset+512 > len(data) {
		return ExFatBootParams{}, false
	}

	if offset+bsFileSystemName+8 > len(data) {
		return ExFatBootParams{}, false
	}

	if string(data[offset+bsFileSystemName:offset+bsFileSystemName+8]) != "EXFAT   " {
		return ExFatBootParams{}, false
	}

	sectorShift := data[offset+bsBytesPerSectorShift]
	if sectorShift < 9 || sectorShift > 12 {
		return ExFatBootParams{}, false
	}

	clusterShift := data[offset+bsSectorsPerClusterShift]
	if clusterShift > 25 {
		return ExFatBootParams{}, false
	}

	sectorSize := uint32(1) << sectorShift
	clusterSize := sectorSize << clusterShift

	if clusterSize > maxClusterSize || clusterSize == 0 {
		return ExFatBootParams{}, false
	}

	fatOffsetSectors := binary.LittleEndian.Uint32(data[offset+bsFatOffset : offset+bsFatOffset+4])
	fatLengthSectors := binary.LittleEndian.Uint32(data[offset+bsFatLength : offset+bsFatLength+4])
	clusterHeapOffsetSectors := binary.LittleEndian.Uint32(data[offset+bsClusterHeapOffset : offset+bsClusterHeapOffset+4])
	clusterCount := binary.LittleEndian.Uint32(data[offset+bsClusterCount : offset+bsClusterCount+4])
	rootCluster := binary.LittleEndian.Uint32(data[offset+bsFirstClusterOfRoot : offset+bsFirstClusterOfRoot+4])

	if fatOffsetSectors == 0 || clusterHeapOffsetSectors == 0 {
		return ExFatBootParams{}, false
	}

	return ExFatBootParams{
		SectorSize:        sectorSize,
		ClusterSize:       clusterSize,
		FatOffset:         uint64(fatOffsetSectors) * uint64(sectorSize),
		FatLengthSectors:  fatLengthSectors,
		ClusterHeapOffset: uint64(clusterHeapOffsetSectors) * uint64(sectorSize),
		ClusterCount:      clusterCount,
		RootDirCluster:    rootCluster,
		BootSectorOffset:  uint64(offset),
	}, true
}

// ClusterToOffset converts a cluster index to its absolute byte offset
// within the image. Clusters below 2 are not addressable.
func ClusterToOffset(params ExFatBootParams, cluster uint32) (uint64, bool) {
	if cluster < 2 {
		return 0, false
	}

	return params.ClusterHeapOffset + uint64(cluster-2)*uint64(params.ClusterSize), true
}

// ExFatEntry is the forensic C4 output of directory-entry-set parsing.
type ExFatEntry struct {
	Offset       uint64
	DataOffset   *uint64
	IsDeleted    bool
	Filename     string
	Size         uint64
	FirstCluster uint32
	NoFatChain   bool
}

// ParseEntrySetAt attempts to parse a file directory-entry set (primary
// file entry, stream extension entry, one or more filename entries)
// starting at offset within data. It requires at least 3 total entries and
// validates the stream and filename entry type codes; any structural
// discrepancy yields (ExFatEntry{}, 0, false).
func ParseEntrySetAt(data []byte, offset int, params ExFatBootParams) (ExFatEntry, int, bool) {
	if offset+directoryEntrySize > len(data) {
		return ExFatEntry{}, 0, false
	}

	marker := data[offset]

	var isDeleted bool
	switch marker {
	case entryFile:
		isDeleted = false
	case entryDeletedFile:
		isDeleted = true
	default:
		return ExFatEntry{}, 0, false
	}

	secondaryCount := int(data[offset+1])
	if secondaryCount < 2 {
		return ExFatEntry{}, 0, false
	}

	streamOffset := offset + directoryEntrySize
	if streamOffset+directoryEntrySize > len(data) {
		return ExFatEntry{}, 0, false
	}

	streamType := data[streamOffset]
	if streamType != entryStream && streamType != entryDeletedStream {
		return ExFatEntry{}, 0, false
	}

	generalFlags := data[streamOffset+seGeneralFlags]
	noFatChain := generalFlags&0x02 != 0

	firstCluster := binary.LittleEndian.Uint32(data[streamOffset+seFirstCluster : streamOffset+seFirstCluster+4])
	dataLength := binary.LittleEndian.Uint64(data[streamOffset+seDataLength : streamOffset+seDataLength+8])

	if firstCluster < 2 && dataLength > 0 {
		return ExFatEntry{}, 0, false
	}

	filenameEntries := secondaryCount - 1

	nameBuilder := make([]uint16, 0, filenameEntries*15)

	consumed := 2
	done := false

	for i := 0; i < filenameEntries; i++ {
		entryOffset := streamOffset + directoryEntrySize*(i+1)
		if entryOffset+directoryEntrySize > len(data) {
			return ExFatEntry{}, 0, false
		}

		nameType := data[entryOffset]
		if nameType != entryFilename && nameType != entryDeletedName {
			return ExFatEntry{}, 0, false
		}

		consumed++

		if done {
			continue
		}

		for u := 0; u < 15; u++ {
			unitOffset := entryOffset + fnFileName + u*2
			unit := binary.LittleEndian.Uint16(data[unitOffset : unitOffset+2])

			if unit == 0 {
				done = true
				break
			}

			nameBuilder = append(nameBuilder, unit)
		}
	}

	filename, errDecode := decodeUTF16LE(nameBuilder)
	if errDecode != nil {
		return ExFatEntry{}, 0, false
	}

	entry := ExFatEntry{
		Offset:       uint64(offset),
		IsDeleted:    isDeleted,
		Filename:     filename,
		Size:         dataLength,
		FirstCluster: firstCluster,
		NoFatChain:   noFatChain,
	}

	if dataOffset, ok := ClusterToOffset(params, firstCluster); ok {
		entry.DataOffset = &dataOffset
	}

	return entry, consumed, true
}

// decodeUTF16LE decodes little-endian UTF-16 code units to a string, using
// the ecosystem UTF-16LE decoder rather than the teacher's own
// UnicodeFromAscii helper (which decodes one code unit at a time, so
// surrogate pairs are not combined, and skips NUL units rather than stopping
// at them).
func decodeUTF16LE(units []uint16) (string, error) {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:i*2+2], u)
	}

	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

	decoded, err := decoder.Bytes(raw)
	if err != nil {
		return "", err
	}

	return string(decoded), nil
}

// ExtractFileContent reconstructs a file's content by walking either the FAT
// chain or, when noFatChain is set, consecutive cluster numbers. Extraction
// terminates on cluster < 2, cluster >= 0xFFFFFFF7, a revisited cluster
// (cycle detection), running past the image bounds, or the 250 MiB output
// cap.
func ExtractFileContent(data []byte, params ExFatBootParams, firstCluster uint32, size uint64, noFatChain bool) []byte {
	if size > maxExtractSize {
		size = maxExtractSize
	}

	output := make([]byte, 0, size)
	visited := make(map[uint32]bool)

	cluster := firstCluster

	for uint64(len(output)) < size {
		if cluster < 2 || cluster >= 0xFFFFFFF7 {
			break
		}

		if visited[cluster] {
			break
		}

		visited[cluster] = true

		clusterOffset, ok := ClusterToOffset(params, cluster)
		if !ok || clusterOffset >= uint64(len(data)) {
			break
		}

		remaining := size - uint64(len(output))
		chunkLen := uint64(params.ClusterSize)
		if chunkLen > remaining {
			chunkLen = remaining
		}

		end := clusterOffset + chunkLen
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}

		if end <= clusterOffset {
			break
		}

		output = append(output, data[clusterOffset:end]...)

		if noFatChain {
			cluster++
			continue
		}

		next, ok := fatNextCluster(data, params, cluster)
		if !ok {
			break
		}

		cluster = next
	}

	return output
}

// fatNextCluster reads the next cluster in the FAT chain: a little-endian
// u32 at fat_offset + 4*cluster.
func fatNextCluster(data []byte, params ExFatBootParams, cluster uint32) (uint32, bool) {
	entryOffset := params.FatOffset + 4*uint64(cluster)
	if entryOffset+4 > uint64(len(data)) {
		return 0, false
	}

	return binary.LittleEndian.Uint32(data[entryOffset : entryOffset+4]), true
}
