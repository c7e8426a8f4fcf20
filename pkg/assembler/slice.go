package assembler

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"nvr/pkg/samplefile"
)

// Slice is one contribution to a virtual file's byte stream: a tagged set
// of byte producers (static bytes, a filler callback, a mmap'd sample-file
// range, or a composite of other slices) standing in for a polymorphic
// file-slice base class.
type Slice interface {
	// Size returns the slice's length in bytes.
	Size() int64
	// ReadAt copies into p the bytes of this slice starting at the
	// relative offset off, returning how many bytes were written. It may
	// return fewer than len(p) (and fewer than Size()-off) under lazy
	// back-pressure; the caller re-enters with an advanced offset.
	ReadAt(p []byte, off int64) (int, error)
}

// StaticSlice is a slice of bytes owned by the assembler (headers, fixed
// boxes).
type StaticSlice struct {
	Data []byte
}

// Size returns len(Data).
func (s StaticSlice) Size() int64 { return int64(len(s.Data)) }

// ReadAt copies from Data.
func (s StaticSlice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.Data)) {
		return 0, fmt.Errorf("assembler: static slice offset out of range")
	}
	return copy(p, s.Data[off:]), nil
}

// FillerSlice has a known size up front; its bytes are produced on first
// access by calling Fn, which must return exactly Size bytes.
type FillerSlice struct {
	SizeBytes int64
	Fn        func() ([]byte, error)

	cached []byte
}

// Size returns SizeBytes.
func (s *FillerSlice) Size() int64 { return s.SizeBytes }

// ReadAt generates (and caches) the filler bytes on first access.
func (s *FillerSlice) ReadAt(p []byte, off int64) (int, error) {
	if s.cached == nil {
		data, err := s.Fn()
		if err != nil {
			return 0, fmt.Errorf("assembler: filler: %w", err)
		}
		if int64(len(data)) != s.SizeBytes {
			return 0, fmt.Errorf("assembler: filler produced %d bytes, want %d", len(data), s.SizeBytes)
		}
		s.cached = data
	}
	if off < 0 || off > int64(len(s.cached)) {
		return 0, fmt.Errorf("assembler: filler slice offset out of range")
	}
	return copy(p, s.cached[off:]), nil
}

// SampleFileSlice is a half-open byte range of a named file in the sample
// directory, served by mmap so segments can be read without buffering the
// whole sample file in process memory.
type SampleFileSlice struct {
	Dir   string
	UUID  uuid.UUID
	Begin int64 // absolute offset within the file.
	End   int64 // absolute offset, exclusive.

	mapped       []byte // the page-aligned mmap, for Munmap.
	mapAlignBase int64
}

// Size returns End-Begin.
func (s *SampleFileSlice) Size() int64 { return s.End - s.Begin }

// ReadAt mmaps the covering page-aligned range on first access and copies
// from it thereafter.
func (s *SampleFileSlice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > s.Size() {
		return 0, fmt.Errorf("assembler: sample file slice offset out of range")
	}
	if s.mapped == nil {
		if err := s.open(); err != nil {
			return 0, err
		}
	}
	rel := s.Begin - s.mapAlignBase + off
	return copy(p, s.mapped[rel:]), nil
}

func (s *SampleFileSlice) open() error {
	f, err := os.Open(samplefile.Path(s.Dir, s.UUID))
	if err != nil {
		return fmt.Errorf("assembler: open sample file: %w", err)
	}
	defer f.Close()

	pageSize := int64(os.Getpagesize())
	s.mapAlignBase = s.Begin - (s.Begin % pageSize)
	length := s.End - s.mapAlignBase

	data, err := unix.Mmap(int(f.Fd()), s.mapAlignBase, int(length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("assembler: mmap sample file: %w", err)
	}
	s.mapped = data
	return nil
}

// Release unmaps the slice's memory, if mapped. Must be called once the
// HTTP response referencing this slice completes or is canceled.
func (s *SampleFileSlice) Release() error {
	if s.mapped == nil {
		return nil
	}
	err := unix.Munmap(s.mapped)
	s.mapped = nil
	return err
}

// CompositeSlice concatenates child slices. lazy[i] reports whether
// children[i] is lazily backed (e.g. a SampleFileSlice): when a read
// crosses from an earlier child into a lazy one, ReadAt stops at the
// boundary and returns only the bytes already gathered, so the caller can
// flush before causing the next mmap.
type CompositeSlice struct {
	Children []Slice
	Lazy     []bool

	offsets []int64 // cumulative starting offset of each child; built lazily.
}

// Size sums the children's sizes.
func (s *CompositeSlice) Size() int64 {
	var total int64
	for _, c := range s.Children {
		total += c.Size()
	}
	return total
}

func (s *CompositeSlice) buildOffsets() {
	if s.offsets != nil {
		return
	}
	s.offsets = make([]int64, len(s.Children)+1)
	for i, c := range s.Children {
		s.offsets[i+1] = s.offsets[i] + c.Size()
	}
}

// ReadAt copies from as many consecutive children as possible starting at
// relative offset off, stopping before crossing into a lazy child beyond
// the first.
func (s *CompositeSlice) ReadAt(p []byte, off int64) (int, error) {
	s.buildOffsets()

	idx := 0
	for idx < len(s.Children) && s.offsets[idx+1] <= off {
		idx++
	}
	if idx >= len(s.Children) {
		return 0, nil
	}

	written := 0
	for idx < len(s.Children) && written < len(p) {
		childOff := off + int64(written) - s.offsets[idx]
		n, err := s.Children[idx].ReadAt(p[written:], childOff)
		if err != nil {
			return written, err
		}
		written += n

		atChildEnd := off+int64(written) >= s.offsets[idx+1]
		if !atChildEnd {
			// The child itself returned fewer bytes than asked (its own
			// back-pressure); stop here and let the caller re-enter.
			break
		}
		idx++
		if idx < len(s.Children) && written < len(p) && s.Lazy[idx] {
			// Don't touch the next, lazily-backed child in this call.
			break
		}
	}
	return written, nil
}
