package exfatrecovery

import (
	"bytes"
	"os"
	"path"
	"reflect"
	"testing"

	"github.com/dsoprea/go-logging"
)

func getTestFileAndParser() (f *os.File, er *ExfatReader) {
	filepath := path.Join(AssetPath, "test.exfat")

	f, err := os.Open(filepath)
	log.PanicIf(err)

	er = NewExfatReader(f)
	return f, er
}

func TestExfatReader_readBootSectorHead(t *testing.T) {
	f, er := getTestFileAndParser()

	defer f.Close()

	bsh, sectorSize, err := er.readBootSectorHead()
	log.PanicIf(err)

	if bsh.VolumeSerialNumber != 0x3d51a058 {
		t.Fatalf("Volume serial-number not correct: 0x%x", bsh.VolumeSerialNumber)
	} else if sectorSize != 512 {
		t.Fatalf("Sector-size not correct: (%d)", sectorSize)
	}
}

func TestExfatReader_readExtendedBootSector(t *testing.T) {
	f, er := getTestFileAndParser()

	defer f.Close()

	_, sectorSize, err := er.readBootSectorHead()
	log.PanicIf(err)

	extendedBootCode, err := er.readExtendedBootSector(sectorSize)
	log.PanicIf(err)

	nullExtendedBootCode := make(ExtendedBootCode, 508)
	if bytes.Equal(extendedBootCode, nullExtendedBootCode) != true {
		t.Fatalf("Extended boot-code not correct.")
	}
}

func TestExfatReader_readExtendedBootSectors(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	f, er := getTestFileAndParser()

	defer f.Close()

	_, sectorSize, err := er.readBootSectorHead()
	log.PanicIf(err)

	extendedBootCodeList, err := er.readExtendedBootSectors(sectorSize)
	log.PanicIf(err)

	var expectedExtendedBootCodeList [mainExtendedBootSectorCount]ExtendedBootCode

	for i := 0; i < mainExtendedBootSectorCount; i++ {
		nullExtendedBootCode := make(ExtendedBootCode, 508)
		expectedExtendedBootCodeList[i] = nullExtendedBootCode
	}

	if reflect.DeepEqual(extendedBootCodeList, expectedExtendedBootCodeList) != true {
		t.Fatalf("readExtendedBootSectors did not return correct data.")
	}
}

func TestBootSectorHeader_Dump(t *testing.T) {
	f, er := getTestFileAndParser()

	defer f.Close()

	bsh, _, err := er.readBootSectorHead()
	log.PanicIf(err)

	bsh.Dump()
}

func TestBootSectorHeader_Parse(t *testing.T) {
	f, er := getTestFileAndParser()

	defer f.Close()

	err := er.Parse()
	log.PanicIf(err)
}

func TestBootSectorHeader_readOemParameters(t *testing.T) {
	f, er := getTestFileAndParser()

	defer f.Close()

	_, sectorSize, err := er.readBootSectorHead()
	log.PanicIf(err)

	_, err = er.readExtendedBootSectors(sectorSize)
	log.PanicIf(err)

	oemParameters, err := er.readOemParameters(sectorSize)
	log.PanicIf(err)

	if len(oemParameters.Parameters) != 10 {
		t.Fatalf("Expected 10 OEM-parameter members: (%d)", len(oemParameters.Parameters))
	}

	for i, oemParameter := range oemParameters.Parameters {
		if len(oemParameter.Parameter) != 48 {
			t.Fatalf("OEM-parameter (%d) not correct size: (%d)", i, len(oemParameter.Parameter))
		}

		for j, c := range oemParameter.Parameter {
			if c != 0 {
				t.Fatalf("OEM-parameter not full of NULs as expected: (%d) (%d)", i, j)
			}
		}
	}
}

// TestExfatReader_RecoverFileDescriptor exercises the new bridge between the
// structured directory-walk path and the C5/C7 fragment-scoring machinery:
// a file's cluster chain is read into memory and folded into a
// FragmentDescriptor instead of being written straight to disk.
func TestExfatReader_RecoverFileDescriptor(t *testing.T) {
	f, er := getTestFileAndParser()

	defer f.Close()

	err := er.Parse()
	log.PanicIf(err)

	tree := NewTree(er)

	err = tree.Load()
	log.PanicIf(err)

	node, err := tree.Lookup([]string{"testdirectory2", "file1"})
	log.PanicIf(err)

	if node == nil {
		t.Fatalf("expected to find testdirectory2/file1 in the loaded tree")
	}

	sede := node.StreamDirectoryEntry()
	hint := sede.ToFilesystemHint(node.Name())
	useFat := !sede.GeneralSecondaryFlags.NoFatChain()

	fd, content, err := er.RecoverFileDescriptor(hint, sede.FirstCluster, sede.ValidDataLength, useFat)
	log.PanicIf(err)

	if uint64(len(content)) != sede.ValidDataLength {
		t.Fatalf("expected recovered content length (%d) to equal ValidDataLength (%d)", len(content), sede.ValidDataLength)
	}

	if fd.Hint == nil || fd.Hint.Filename != "file1" {
		t.Fatalf("expected descriptor to carry a filesystem hint for file1, got %v", fd.Hint)
	}
}
