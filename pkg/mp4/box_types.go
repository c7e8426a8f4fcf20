package mp4

import (
	"encoding/binary"

	"nvr/pkg/mp4/bitio"
)

/************************* FullBox **************************/

// FullBox is the ISOBMFF FullBox prefix (version + 24-bit flags) embedded by
// boxes that carry one.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// FieldSize returns the marshaled size of the FullBox prefix.
func (b *FullBox) FieldSize() int { return 4 }

// MarshalField writes the FullBox prefix.
func (b *FullBox) MarshalField(w *bitio.Writer) error {
	w.TryWriteByte(b.Version)
	w.TryWrite(b.Flags[:])
	return w.TryError
}

/*************************** ftyp ****************************/

// Ftyp is the file type box.
type Ftyp struct {
	MajorBrand       BoxType
	MinorVersion     uint32
	CompatibleBrands []BoxType
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType { return fourCC("ftyp") }

// Size returns the marshaled size in bytes.
func (b *Ftyp) Size() int { return 8 + 4*len(b.CompatibleBrands) }

// Marshal writes the box body.
func (b *Ftyp) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.MajorBrand[:])
	w.TryWriteUint32(b.MinorVersion)
	for _, cb := range b.CompatibleBrands {
		w.TryWrite(cb[:])
	}
	return w.TryError
}

/*************************** mvhd ****************************/

// Mvhd is the movie header box.
type Mvhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	Timescale          uint32
	DurationV0         uint32
	DurationV1         uint64
	Rate               int32
	Volume             int16
	Reserved           int16
	Reserved2          [2]uint32
	Matrix             [9]int32
	PreDefined         [6]uint32
	NextTrackID        uint32
}

// Type returns the BoxType.
func (*Mvhd) Type() BoxType { return fourCC("mvhd") }

// Size returns the marshaled size in bytes.
func (b *Mvhd) Size() int {
	if b.Version == 1 {
		return 112
	}
	return 100
}

// Marshal writes the box body.
func (b *Mvhd) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	if b.Version == 1 {
		w.TryWriteUint64(b.CreationTimeV1)
		w.TryWriteUint64(b.ModificationTimeV1)
		w.TryWriteUint32(b.Timescale)
		w.TryWriteUint64(b.DurationV1)
	} else {
		w.TryWriteUint32(b.CreationTimeV0)
		w.TryWriteUint32(b.ModificationTimeV0)
		w.TryWriteUint32(b.Timescale)
		w.TryWriteUint32(b.DurationV0)
	}
	w.TryWriteUint32(uint32(b.Rate))
	w.TryWriteUint16(uint16(b.Volume))
	w.TryWriteUint16(uint16(b.Reserved))
	w.TryWriteUint32(b.Reserved2[0])
	w.TryWriteUint32(b.Reserved2[1])
	for _, m := range b.Matrix {
		w.TryWriteUint32(uint32(m))
	}
	for _, p := range b.PreDefined {
		w.TryWriteUint32(p)
	}
	w.TryWriteUint32(b.NextTrackID)
	return w.TryError
}

/*************************** tkhd ****************************/

// Tkhd is the track header box.
type Tkhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	TrackID            uint32
	Reserved0          uint32
	DurationV0         uint32
	DurationV1         uint64
	Reserved1          [2]uint32
	Layer              int16
	AlternateGroup     int16
	Volume             int16
	Reserved2          int16
	Matrix             [9]int32
	Width              uint32 // 16.16 fixed point
	Height             uint32 // 16.16 fixed point
}

// Type returns the BoxType.
func (*Tkhd) Type() BoxType { return fourCC("tkhd") }

// Size returns the marshaled size in bytes.
func (b *Tkhd) Size() int {
	if b.Version == 1 {
		return 4 + 8 + 8 + 4 + 4 + 8 + 60
	}
	return 4 + 4 + 4 + 4 + 4 + 4 + 60
}

// Marshal writes the box body.
func (b *Tkhd) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	if b.Version == 1 {
		w.TryWriteUint64(b.CreationTimeV1)
		w.TryWriteUint64(b.ModificationTimeV1)
		w.TryWriteUint32(b.TrackID)
		w.TryWriteUint32(b.Reserved0)
		w.TryWriteUint64(b.DurationV1)
	} else {
		w.TryWriteUint32(b.CreationTimeV0)
		w.TryWriteUint32(b.ModificationTimeV0)
		w.TryWriteUint32(b.TrackID)
		w.TryWriteUint32(b.Reserved0)
		w.TryWriteUint32(b.DurationV0)
	}
	w.TryWriteUint32(b.Reserved1[0])
	w.TryWriteUint32(b.Reserved1[1])
	w.TryWriteUint16(uint16(b.Layer))
	w.TryWriteUint16(uint16(b.AlternateGroup))
	w.TryWriteUint16(uint16(b.Volume))
	w.TryWriteUint16(uint16(b.Reserved2))
	for _, m := range b.Matrix {
		w.TryWriteUint32(uint32(m))
	}
	w.TryWriteUint32(b.Width)
	w.TryWriteUint32(b.Height)
	return w.TryError
}

/*************************** elst ****************************/

// ElstEntry is one edit-list entry.
type ElstEntry struct {
	SegmentDurationV0 uint32
	MediaTimeV0       int32
	SegmentDurationV1 uint64
	MediaTimeV1       int64
	MediaRateInteger  int16
	MediaRateFraction int16
}

// Elst is the edit list box.
type Elst struct {
	FullBox
	Entries []ElstEntry
}

// Type returns the BoxType.
func (*Elst) Type() BoxType { return fourCC("elst") }

// Size returns the marshaled size in bytes.
func (b *Elst) Size() int {
	entrySize := 12
	if b.Version == 1 {
		entrySize = 20
	}
	return 4 + 4 + entrySize*len(b.Entries)
}

// Marshal writes the box body.
func (b *Elst) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		if b.Version == 1 {
			w.TryWriteUint64(e.SegmentDurationV1)
			w.TryWriteUint64(uint64(e.MediaTimeV1))
		} else {
			w.TryWriteUint32(e.SegmentDurationV0)
			w.TryWriteUint32(uint32(e.MediaTimeV0))
		}
		w.TryWriteUint16(uint16(e.MediaRateInteger))
		w.TryWriteUint16(uint16(e.MediaRateFraction))
	}
	return w.TryError
}

/*************************** mdhd ****************************/

// Mdhd is the media header box.
type Mdhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	Timescale          uint32
	DurationV0         uint32
	DurationV1         uint64
	Language           uint16 // ISO-639-2/T packed
	PreDefined         uint16
}

// Type returns the BoxType.
func (*Mdhd) Type() BoxType { return fourCC("mdhd") }

// Size returns the marshaled size in bytes.
func (b *Mdhd) Size() int {
	if b.Version == 1 {
		return 4 + 8 + 8 + 4 + 8 + 4
	}
	return 4 + 4 + 4 + 4 + 4 + 4
}

// Marshal writes the box body.
func (b *Mdhd) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	if b.Version == 1 {
		w.TryWriteUint64(b.CreationTimeV1)
		w.TryWriteUint64(b.ModificationTimeV1)
		w.TryWriteUint32(b.Timescale)
		w.TryWriteUint64(b.DurationV1)
	} else {
		w.TryWriteUint32(b.CreationTimeV0)
		w.TryWriteUint32(b.ModificationTimeV0)
		w.TryWriteUint32(b.Timescale)
		w.TryWriteUint32(b.DurationV0)
	}
	w.TryWriteUint16(b.Language)
	w.TryWriteUint16(b.PreDefined)
	return w.TryError
}

/*************************** hdlr ****************************/

// Hdlr is the handler reference box, shared by the video and subtitle
// tracks (only HandlerType and Name differ).
type Hdlr struct {
	FullBox
	PreDefined  uint32
	HandlerType BoxType
	Reserved    [3]uint32
	Name        string
}

// Type returns the BoxType.
func (*Hdlr) Type() BoxType { return fourCC("hdlr") }

// Size returns the marshaled size in bytes.
func (b *Hdlr) Size() int { return 4 + 4 + 4 + 12 + len(b.Name) + 1 }

// Marshal writes the box body.
func (b *Hdlr) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(b.PreDefined)
	w.TryWrite(b.HandlerType[:])
	for _, r := range b.Reserved {
		w.TryWriteUint32(r)
	}
	w.TryWrite([]byte(b.Name))
	w.TryWriteByte(0)
	return w.TryError
}

/*************************** vmhd ****************************/

// Vmhd is the video media header box.
type Vmhd struct {
	FullBox
	GraphicsMode uint16
	Opcolor      [3]uint16
}

// Type returns the BoxType.
func (*Vmhd) Type() BoxType { return fourCC("vmhd") }

// Size returns the marshaled size in bytes.
func (*Vmhd) Size() int { return 4 + 2 + 6 }

// Marshal writes the box body.
func (b *Vmhd) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint16(b.GraphicsMode)
	for _, c := range b.Opcolor {
		w.TryWriteUint16(c)
	}
	return w.TryError
}

/*************************** dref / url **********************/

// Dref is the data reference box; it always wraps exactly one Url child in
// this implementation.
type Dref struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Dref) Type() BoxType { return fourCC("dref") }

// Size returns the marshaled size in bytes.
func (*Dref) Size() int { return 4 + 4 }

// Marshal writes the box body.
func (b *Dref) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(b.EntryCount)
	return w.TryError
}

// Url is the data entry url box ("url ", trailing space). Self-contained
// (flag 0x000001 set) so it carries no body.
type Url struct {
	FullBox
}

// Type returns the BoxType.
func (*Url) Type() BoxType { return fourCC("url ") }

// Size returns the marshaled size in bytes.
func (*Url) Size() int { return 4 }

// Marshal writes the box body.
func (b *Url) Marshal(w *bitio.Writer) error { return b.MarshalField(w) }

/*************************** stsd ****************************/

// Stsd is the sample description box; its entries are ordinary box-tree
// children (the shared VideoSampleEntry or the subtitle sample entry),
// appended by the caller as Boxes.Children.
type Stsd struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Stsd) Type() BoxType { return fourCC("stsd") }

// Size returns the marshaled size in bytes.
func (*Stsd) Size() int { return 4 + 4 }

// Marshal writes the box body.
func (b *Stsd) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(b.EntryCount)
	return w.TryError
}

/*************************** stts ****************************/

// SttsEntry is one run of samples sharing a duration.
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Stts is the time-to-sample box.
type Stts struct {
	FullBox
	Entries []SttsEntry
}

// Type returns the BoxType.
func (*Stts) Type() BoxType { return fourCC("stts") }

// Size returns the marshaled size in bytes.
func (b *Stts) Size() int { return 4 + 4 + 8*len(b.Entries) }

// Marshal writes the box body.
func (b *Stts) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.TryWriteUint32(e.SampleCount)
		w.TryWriteUint32(e.SampleDelta)
	}
	return w.TryError
}

/*************************** stsc ****************************/

// StscEntry is one sample-to-chunk run.
type StscEntry struct {
	FirstChunk            uint32
	SamplesPerChunk       uint32
	SampleDescriptionIndex uint32
}

// Stsc is the sample-to-chunk box.
type Stsc struct {
	FullBox
	Entries []StscEntry
}

// Type returns the BoxType.
func (*Stsc) Type() BoxType { return fourCC("stsc") }

// Size returns the marshaled size in bytes.
func (b *Stsc) Size() int { return 4 + 4 + 12*len(b.Entries) }

// Marshal writes the box body.
func (b *Stsc) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.TryWriteUint32(e.FirstChunk)
		w.TryWriteUint32(e.SamplesPerChunk)
		w.TryWriteUint32(e.SampleDescriptionIndex)
	}
	return w.TryError
}

/*************************** stsz ****************************/

// Stsz is the sample-size box. SampleSize is always 0 here (variable
// per-sample sizes); EntrySize carries one entry per sample.
type Stsz struct {
	FullBox
	SampleSize  uint32
	SampleCount uint32
	EntrySize   []uint32
}

// Type returns the BoxType.
func (*Stsz) Type() BoxType { return fourCC("stsz") }

// Size returns the marshaled size in bytes.
func (b *Stsz) Size() int {
	n := 4 + 4 + 4
	if b.SampleSize == 0 {
		n += 4 * len(b.EntrySize)
	}
	return n
}

// Marshal writes the box body.
func (b *Stsz) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(b.SampleSize)
	w.TryWriteUint32(b.SampleCount)
	if b.SampleSize == 0 {
		for _, s := range b.EntrySize {
			w.TryWriteUint32(s)
		}
	}
	return w.TryError
}

/*************************** stss ****************************/

// Stss is the sync-sample box, listing 1-based sample numbers of keyframes.
type Stss struct {
	FullBox
	SampleNumber []uint32
}

// Type returns the BoxType.
func (*Stss) Type() BoxType { return fourCC("stss") }

// Size returns the marshaled size in bytes.
func (b *Stss) Size() int { return 4 + 4 + 4*len(b.SampleNumber) }

// Marshal writes the box body.
func (b *Stss) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.SampleNumber)))
	for _, s := range b.SampleNumber {
		w.TryWriteUint32(s)
	}
	return w.TryError
}

/*************************** co64 ****************************/

// Co64 is the 64-bit chunk-offset box, for assembled files that can exceed
// 4 GiB — Stco's exact field shape widened to uint64.
type Co64 struct {
	FullBox
	ChunkOffset []uint64
}

// Type returns the BoxType.
func (*Co64) Type() BoxType { return fourCC("co64") }

// Size returns the marshaled size in bytes.
func (b *Co64) Size() int { return 4 + 4 + 8*len(b.ChunkOffset) }

// Marshal writes the box body.
func (b *Co64) Marshal(w *bitio.Writer) error {
	if err := b.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.ChunkOffset)))
	for _, o := range b.ChunkOffset {
		w.TryWriteUint64(o)
	}
	return w.TryError
}

/*************************** tx3g ****************************/

// Tx3g is the timed-text subtitle sample entry box, used for the optional
// synthetic timestamp track.
type Tx3g struct {
	DataReferenceIndex uint16
	DisplayFlags       uint32
	FontID             uint16
	FontSize           uint8
	TextColorRGBA      [4]byte
}

// Type returns the BoxType.
func (*Tx3g) Type() BoxType { return fourCC("tx3g") }

// Size returns the marshaled size in bytes: 6 reserved + 2 data-ref-index +
// displayFlags(4) + justification(2) + backgroundColor(4) + defaultTextBox(8)
// + fontID/style/size(4) + textColor(4).
func (*Tx3g) Size() int { return 6 + 2 + 4 + 2 + 4 + 8 + 4 + 4 }

// Marshal writes the box body.
func (b *Tx3g) Marshal(w *bitio.Writer) error {
	var reserved [6]byte
	w.TryWrite(reserved[:])
	w.TryWriteUint16(b.DataReferenceIndex)
	w.TryWriteUint32(b.DisplayFlags)
	w.TryWriteUint16(1) // horizontal-center/vertical-center justification
	var bg [4]byte
	w.TryWrite(bg[:])
	var defaultBox [8]byte
	w.TryWrite(defaultBox[:])
	w.TryWriteUint16(b.FontID)
	w.TryWriteByte(0) // font-style-flags
	w.TryWriteByte(b.FontSize)
	w.TryWrite(b.TextColorRGBA[:])
	return w.TryError
}

/*************************** mdat (64-bit) ********************/

// MdatHeader returns the 16-byte header of a largesize mdat box: a
// placeholder 32-bit size of 1 (meaning "see largesize"), the "mdat"
// four-cc, and the real 64-bit size including this header. The payload
// itself is never held in memory; it is produced by the slice plane.
func MdatHeader(totalSize uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], 1)
	copy(buf[4:8], "mdat")
	binary.BigEndian.PutUint64(buf[8:16], totalSize)
	return buf
}
