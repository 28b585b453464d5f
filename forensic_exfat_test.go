package exfatrecovery

import (
	"encoding/binary"
	"testing"
)

// buildSyntheticBootSector builds a 512-byte exFAT boot sector per the
// concrete fields §6 names, matching spec.md scenario 4: sector-shift 9,
// cluster-shift 0, FAT at sector 1, cluster-heap at sector 2, cluster
// count 8, root cluster 2.
func buildSyntheticBootSector() []byte {
	sector := make([]byte, 512)

	copy(sector[bsFileSystemName:], []byte("EXFAT   "))

	binary.LittleEndian.PutUint32(sector[bsFatOffset:], 1)
	binary.LittleEndian.PutUint32(sector[bsFatLength:], 1)
	binary.LittleEndian.PutUint32(sector[bsClusterHeapOffset:], 2)
	binary.LittleEndian.PutUint32(sector[bsClusterCount:], 8)
	binary.LittleEndian.PutUint32(sector[bsFirstClusterOfRoot:], 2)

	sector[bsBytesPerSectorShift] = 9
	sector[bsSectorsPerClusterShift] = 0

	return sector
}

func TestFindBootSector_scenario4(t *testing.T) {
	params, ok := FindBootSector(buildSyntheticBootSector())
	if !ok {
		t.Fatalf("expected boot sector to be found")
	}

	if params.SectorSize != 512 {
		t.Fatalf("expected sector_size 512, got %d", params.SectorSize)
	}

	if params.ClusterSize != 512 {
		t.Fatalf("expected cluster_size 512, got %d", params.ClusterSize)
	}

	if params.FatOffset != 512 {
		t.Fatalf("expected fat_offset 512, got %d", params.FatOffset)
	}

	if params.ClusterHeapOffset != 1024 {
		t.Fatalf("expected cluster_heap_offset 1024, got %d", params.ClusterHeapOffset)
	}
}

func TestFindBootSector_notFound(t *testing.T) {
	data := make([]byte, 8192)

	if _, ok := FindBootSector(data); ok {
		t.Fatalf("expected no boot sector to be found in all-zero data")
	}
}

func TestFindBootSector_scansForward(t *testing.T) {
	data := make([]byte, 4096)
	copy(data[1024:], buildSyntheticBootSector())

	params, ok := FindBootSector(data)
	if !ok {
		t.Fatalf("expected boot sector at offset 1024 to be found")
	}

	if params.BootSectorOffset != 1024 {
		t.Fatalf("expected boot_sector_offset 1024, got %d", params.BootSectorOffset)
	}
}

// buildEntrySet builds a 3-entry directory entry set per scenario 5: file
// entry, stream extension entry (first_cluster=2, data_length=10), and one
// filename entry spelling "hello".
func buildEntrySet(isDeleted bool) []byte {
	data := make([]byte, directoryEntrySize*3)

	if isDeleted {
		data[0] = entryDeletedFile
	} else {
		data[0] = entryFile
	}
	data[1] = 2 // secondary count: stream + 1 filename entry

	streamOffset := directoryEntrySize
	data[streamOffset] = entryStream
	binary.LittleEndian.PutUint32(data[streamOffset+seFirstCluster:], 2)
	binary.LittleEndian.PutUint64(data[streamOffset+seDataLength:], 10)

	nameOffset := directoryEntrySize * 2
	data[nameOffset] = entryFilename

	name := []uint16{'h', 'e', 'l', 'l', 'o'}
	for i, u := range name {
		binary.LittleEndian.PutUint16(data[nameOffset+fnFileName+i*2:], u)
	}

	return data
}

func TestParseEntrySetAt_scenario5(t *testing.T) {
	data := buildEntrySet(false)

	params := ExFatBootParams{ClusterHeapOffset: 1024, ClusterSize: 512}

	entry, consumed, ok := ParseEntrySetAt(data, 0, params)
	if !ok {
		t.Fatalf("expected entry set to parse")
	}

	if consumed != 3 {
		t.Fatalf("expected 3 entries consumed, got %d", consumed)
	}

	if entry.Filename != "hello" {
		t.Fatalf("expected filename 'hello', got %q", entry.Filename)
	}

	if entry.Size != 10 {
		t.Fatalf("expected size 10, got %d", entry.Size)
	}

	if entry.FirstCluster != 2 {
		t.Fatalf("expected first_cluster 2, got %d", entry.FirstCluster)
	}

	if entry.DataOffset == nil || *entry.DataOffset != 1024 {
		t.Fatalf("expected data_offset 1024, got %v", entry.DataOffset)
	}
}

func TestParseEntrySetAt_rejectsClusterLessThanTwoWithSize(t *testing.T) {
	data := buildEntrySet(false)
	binary.LittleEndian.PutUint32(data[directoryEntrySize+seFirstCluster:], 0)

	params := ExFatBootParams{ClusterHeapOffset: 1024, ClusterSize: 512}

	if _, _, ok := ParseEntrySetAt(data, 0, params); ok {
		t.Fatalf("expected entry with first_cluster < 2 and size > 0 to be rejected")
	}
}

func TestParseEntrySetAt_rejectsBadMarker(t *testing.T) {
	data := buildEntrySet(false)
	data[0] = 0x41 // not a valid file/deleted-file marker

	params := ExFatBootParams{ClusterHeapOffset: 1024, ClusterSize: 512}

	if _, _, ok := ParseEntrySetAt(data, 0, params); ok {
		t.Fatalf("expected an unrecognised marker to fail to parse")
	}
}

func TestClusterToOffset(t *testing.T) {
	params := ExFatBootParams{ClusterHeapOffset: 1024, ClusterSize: 512}

	if _, ok := ClusterToOffset(params, 0); ok {
		t.Fatalf("expected cluster < 2 to be unaddressable")
	}

	offset, ok := ClusterToOffset(params, 2)
	if !ok || offset != 1024 {
		t.Fatalf("expected cluster 2 to map to the heap offset, got (%d, %v)", offset, ok)
	}

	offset, ok = ClusterToOffset(params, 3)
	if !ok || offset != 1536 {
		t.Fatalf("expected cluster 3 to map to heap_offset+cluster_size, got (%d, %v)", offset, ok)
	}
}

func TestExtractFileContent_cycleDetectionAndCap(t *testing.T) {
	params := ExFatBootParams{ClusterHeapOffset: 0, ClusterSize: 16, FatOffset: 4096}

	// Build an image large enough to hold the heap and a FAT chain that
	// cycles cluster 2 -> 3 -> 2 -> ...
	data := make([]byte, 8192)
	binary.LittleEndian.PutUint32(data[4096+4*2:], 3)
	binary.LittleEndian.PutUint32(data[4096+4*3:], 2)

	out := ExtractFileContent(data, params, 2, 1<<20, false)

	if len(out) == 0 {
		t.Fatalf("expected some output before the cycle is detected")
	}

	if uint64(len(out)) >= 1<<20 {
		t.Fatalf("expected cycle detection to terminate extraction well before the requested size")
	}
}

func TestExtractFileContent_capsAtMaxExtractSize(t *testing.T) {
	params := ExFatBootParams{ClusterHeapOffset: 0, ClusterSize: 1024}

	data := make([]byte, 2048)

	out := ExtractFileContent(data, params, 2, maxExtractSize+1<<20, true)

	if uint64(len(out)) > maxExtractSize {
		t.Fatalf("expected output capped at %d bytes, got %d", maxExtractSize, len(out))
	}
}
