// This file manages the shared, zero-copy, bounds-checked view over the
// disk image being scanned.

package exfatrecovery

import (
	"os"
	"reflect"

	"github.com/dsoprea/go-logging"
	"github.com/edsrzf/mmap-go"
)

// Offset is an image-absolute byte offset.
type Offset uint64

// Size is a byte count.
type Size uint64

// CheckedAdd returns offset+size, and false if that would overflow a
// uint64.
func (o Offset) CheckedAdd(s Size) (Offset, bool) {
	sum := uint64(o) + uint64(s)
	if sum < uint64(o) {
		return 0, false
	}

	return Offset(sum), true
}

// FragmentSlice is a borrowed, read-only view into an Image. No copying
// occurs when one is produced.
type FragmentSlice struct {
	Offset Offset
	Data   []byte
}

// Size returns the length of this slice.
func (fs FragmentSlice) Size() Size {
	return Size(len(fs.Data))
}

// Image is a zero-copy, memory-mapped, read-only view of a disk image. Image
// is safe to share across goroutines (slices it hands out are read-only).
// The mapping stays valid until Close, which unmaps it; slices obtained from
// Slice or SharedMap must not be used after Close.
type Image struct {
	f    *os.File
	mm   mmap.MMap
	size Size
	path string
}

// OpenImage memory-maps the file at path for read-only access. A
// zero-length image is accepted (mmap cannot map an empty file, so no
// mapping is created and Slice always fails with InvalidOffset for it).
func OpenImage(path string) (image *Image, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok != true {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	f, errOpen := os.Open(path)
	if errOpen != nil {
		if os.IsNotExist(errOpen) {
			log.PanicIf(NewFileNotFoundError(path))
		}

		log.PanicIf(NewIoError("failed to open image", errOpen))
	}

	fi, errStat := f.Stat()
	if errStat != nil {
		f.Close()
		log.PanicIf(NewIoError("failed to stat image", errStat))
	}

	size := Size(fi.Size())

	if size == 0 {
		return &Image{
			f:    f,
			size: 0,
			path: path,
		}, nil
	}

	mm, errMap := mmap.Map(f, mmap.RDONLY, 0)
	if errMap != nil {
		f.Close()
		log.PanicIf(NewIoError("failed to mmap image", errMap))
	}

	return &Image{
		f:    f,
		mm:   mm,
		size: size,
		path: path,
	}, nil
}

// Size returns the total size of the disk image.
func (img *Image) Size() Size {
	return img.size
}

// Path returns the path the image was opened from.
func (img *Image) Path() string {
	return img.path
}

// Slice returns a zero-copy, bounds-checked view of the image.
func (img *Image) Slice(offset Offset, length uint64) (fs FragmentSlice, err error) {
	if uint64(offset) >= uint64(img.size) {
		return FragmentSlice{}, NewInvalidOffsetError(uint64(offset), uint64(img.size))
	}

	end, ok := offset.CheckedAdd(Size(length))
	if ok != true || uint64(end) > uint64(img.size) {
		return FragmentSlice{}, NewInvalidSizeError(uint64(offset), length, uint64(img.size))
	}

	data := []byte(img.mm)[uint64(offset):uint64(end)]

	return FragmentSlice{Offset: offset, Data: data}, nil
}

// SharedMap returns the raw mapped bytes for direct, chunked access by
// scanner workers. Multiple goroutines may read the returned slice
// concurrently; no copying or re-mapping occurs.
func (img *Image) SharedMap() []byte {
	return []byte(img.mm)
}

// Close unmaps and closes the underlying file.
func (img *Image) Close() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok != true {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	if img.mm != nil {
		errUnmap := img.mm.Unmap()
		if errUnmap != nil {
			log.PanicIf(NewIoError("failed to unmap image", errUnmap))
		}
	}

	errClose := img.f.Close()
	if errClose != nil {
		log.PanicIf(NewIoError("failed to close image", errClose))
	}

	return nil
}
