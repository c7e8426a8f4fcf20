// Package mp4 builds ISO/IEC 14496-12 boxes for the assembled virtual file.
//
// A box knows its own body size and how to marshal itself; a Boxes node
// pairs a box with its children and writes the 32-bit length at the front,
// summed from Size() before anything is marshaled. There is no type
// hierarchy for the container/leaf distinction —
// a builder over (four_cc, body_writer) rather than deep inheritance.
package mp4

import "nvr/pkg/mp4/bitio"

// BoxType is a four-character-code box type.
type BoxType [4]byte

// ImmutableBox is the common interface of a box body.
type ImmutableBox interface {
	// Type returns the BoxType.
	Type() BoxType

	// Size returns the marshaled body size in bytes, excluding the 8-byte
	// header. Must be known before marshaling since the header carries it.
	Size() int

	// Marshal writes the body to w.
	Marshal(w *bitio.Writer) error
}

// Boxes pairs a box with its children so a whole subtree can be marshaled
// and sized together.
type Boxes struct {
	Box      ImmutableBox
	Children []Boxes
}

// Size returns the total size of the box including its children.
func (b *Boxes) Size() int {
	total := b.Box.Size() + 8
	for _, child := range b.Children {
		total += child.Size()
	}
	return total
}

// Marshal writes the box and its children.
func (b *Boxes) Marshal(w *bitio.Writer) error {
	size := b.Size()

	if err := writeBoxInfo(w, uint32(size), b.Box.Type()); err != nil {
		return err
	}

	// The size of an empty box is 8 bytes (header only).
	if size != 8 {
		if err := b.Box.Marshal(w); err != nil {
			return err
		}
	}

	for i := range b.Children {
		if err := b.Children[i].Marshal(w); err != nil {
			return err
		}
	}
	return nil
}

func writeBoxInfo(w *bitio.Writer, size uint32, typ BoxType) error {
	w.TryWriteUint32(size)
	w.TryWrite(typ[:])
	return w.TryError
}

// WriteSingleBox writes a single box with no children.
func WriteSingleBox(w *bitio.Writer, b ImmutableBox) (int, error) {
	size := 8 + b.Size()

	if err := writeBoxInfo(w, uint32(size), b.Type()); err != nil {
		return 0, err
	}
	if size != 8 {
		if err := b.Marshal(w); err != nil {
			return 0, err
		}
	}
	return size, nil
}

// Container is a box whose body is empty and exists only to group children:
// moov, trak, mdia, minf, stbl, dinf, edts all have this shape.
type Container struct {
	FourCC BoxType
}

// Type returns the BoxType.
func (c Container) Type() BoxType { return c.FourCC }

// Size is always 0 for a pure container.
func (c Container) Size() int { return 0 }

// Marshal is a no-op; a container has no body.
func (c Container) Marshal(w *bitio.Writer) error { return nil }

// Raw wraps a pre-encoded box body (used for the shared VideoSampleEntry and
// the subtitle sample entry, both built outside this package).
type Raw struct {
	FourCC BoxType
	Body   []byte
}

// Type returns the BoxType.
func (r Raw) Type() BoxType { return r.FourCC }

// Size returns len(Body).
func (r Raw) Size() int { return len(r.Body) }

// Marshal writes Body verbatim.
func (r Raw) Marshal(w *bitio.Writer) error {
	w.TryWrite(r.Body)
	return w.TryError
}

func fourCC(s string) BoxType {
	var b BoxType
	copy(b[:], s)
	return b
}
