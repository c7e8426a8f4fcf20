package assembler

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // contract is "streaming hash, fixed digest", not collision resistance.
	"encoding/binary"
	"fmt"
	"time"

	"nvr/pkg/db"
	"nvr/pkg/mp4"
	"nvr/pkg/mp4/bitio"
)

// VirtualFile is an assembled, byte-addressable MP4: a small in-memory
// header (ftyp/moov/mdat-header) followed by the sample-file byte ranges
// named by its segments, served without ever materializing the whole file
// and spanning an arbitrary ordered list of segments, not just one
// recording.
type VirtualFile struct {
	slice        *CompositeSlice
	fileSlices   []*SampleFileSlice
	size         int64
	etag         string
	lastModified int64 // wall time, 90kHz units, of the last segment's end.
}

// Size returns the virtual file's total length in bytes.
func (v *VirtualFile) Size() int64 { return v.size }

// ETag returns the quoted entity tag computed from the versioned digest
// formula in computeETag.
func (v *VirtualFile) ETag() string { return v.etag }

// LastModifiedWall90k returns the wall-clock end time (90kHz units) of the
// file's last contributing segment.
func (v *VirtualFile) LastModifiedWall90k() int64 { return v.lastModified }

// LastModified satisfies pkg/rangeserve.Source.
func (v *VirtualFile) LastModified() time.Time {
	return time.Unix(v.lastModified/timescale90k, (v.lastModified%timescale90k)*100000/9)
}

// MimeType satisfies pkg/rangeserve.Source.
func (v *VirtualFile) MimeType() string { return "video/mp4" }

// ReadAt serves a byte range of the assembled file, delegating into the
// slice plane; it may return fewer bytes than requested under the same
// back-pressure contract as Slice.ReadAt.
func (v *VirtualFile) ReadAt(p []byte, off int64) (int, error) {
	return v.slice.ReadAt(p, off)
}

// Release unmaps every sample-file slice backing this virtual file. Must be
// called once the response has been fully served or the request canceled.
func (v *VirtualFile) Release() {
	for _, s := range v.fileSlices {
		_ = s.Release()
	}
}

// Assemble builds a VirtualFile over segments, which must be given in
// presentation order and share one video sample entry. includeSubtitles
// adds a synthesized wall-clock timed-text track alongside the video track.
func Assemble(store *db.DB, sampleDir string, segments []Segment, includeSubtitles bool) (*VirtualFile, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("assembler: no segments")
	}

	resolved := make([]*resolvedSegment, len(segments))
	for i, seg := range segments {
		r, err := resolveSegment(seg)
		if err != nil {
			return nil, err
		}
		resolved[i] = r
	}

	entryID := segments[0].Recording.VideoSampleEntryID
	for _, seg := range segments {
		if seg.Recording.VideoSampleEntryID != entryID {
			return nil, fmt.Errorf("assembler: segments do not share a video sample entry")
		}
	}
	entryRow, ok := store.GetVideoSampleEntry(entryID)
	if !ok {
		return nil, fmt.Errorf("assembler: video sample entry %d not found", entryID)
	}

	table, err := buildSampleTable(resolved, 0)
	if err != nil {
		return nil, err
	}
	duration90k := videoDuration90k(resolved)
	edits := buildEditList(resolved)

	videoTrak := buildVideoTrak(resolved, table, entryRow, duration90k, edits)

	var subTable *subtitleTable
	var subtitleTrak mp4.Boxes
	if includeSubtitles {
		subTable = buildSubtitleTable(resolved)
		subtitleTrak = buildSubtitleTrak(subTable, duration90k)
	}

	moov := container("moov")
	moov.Children = append(moov.Children, leaf(&mp4.Mvhd{
		Timescale:   90000,
		DurationV0:  uint32(duration90k),
		Rate:        0x00010000,
		Volume:      0x0100,
		Matrix:      identityMatrix(),
		NextTrackID: 3,
	}))
	moov.Children = append(moov.Children, videoTrak)
	if includeSubtitles {
		moov.Children = append(moov.Children, subtitleTrak)
	}

	ftyp := mp4.Boxes{Box: &mp4.Ftyp{
		MajorBrand:       boxType("isom"),
		MinorVersion:     0x200,
		CompatibleBrands: []mp4.BoxType{boxType("isom"), boxType("iso2"), boxType("avc1"), boxType("mp41")},
	}}

	// co64 values are fixed-width, so shifting them by the real mdat payload
	// start (known only once ftyp+moov's size is fixed) changes no box's
	// size: compute the sizes first, shift, then marshal once.
	mdatPayloadStart := int64((&ftyp).Size()) + int64((&moov).Size()) + 16
	shiftCo64(videoTrak, mdatPayloadStart)

	mdatLen := table.mdatLen
	if includeSubtitles {
		// Subtitle payload bytes follow every video segment's bytes in mdat.
		shiftCo64(subtitleTrak, mdatPayloadStart+mdatLen)
		mdatLen += int64(len(subTable.payload))
	}

	var headerBuf bytes.Buffer
	w := bitio.NewWriter(&headerBuf)
	if err := ftyp.Marshal(w); err != nil {
		return nil, fmt.Errorf("assembler: marshal ftyp: %w", err)
	}
	if err := moov.Marshal(w); err != nil {
		return nil, fmt.Errorf("assembler: marshal moov: %w", err)
	}
	headerBuf.Write(mp4.MdatHeader(uint64(16 + mdatLen)))

	children := make([]Slice, 0, 2+len(table.payload))
	lazy := make([]bool, 0, cap(children))
	children = append(children, StaticSlice{Data: headerBuf.Bytes()})
	lazy = append(lazy, false)

	var fileSlices []*SampleFileSlice
	for _, seg := range table.payload {
		fs := &SampleFileSlice{
			Dir:   sampleDir,
			UUID:  seg.recording.SampleFileUUID,
			Begin: seg.begin,
			End:   seg.end,
		}
		fileSlices = append(fileSlices, fs)
		children = append(children, fs)
		lazy = append(lazy, true)
	}

	if includeSubtitles {
		children = append(children, StaticSlice{Data: subTable.payload})
		lazy = append(lazy, false)
	}

	composite := &CompositeSlice{Children: children, Lazy: lazy}

	etag := computeETag(resolved, includeSubtitles)

	last := resolved[len(resolved)-1]
	lastModified := last.seg.Recording.StartTime90k + last.seg.Recording.LocalTimeDelta90k + last.endSample90k

	return &VirtualFile{
		slice:        composite,
		fileSlices:   fileSlices,
		size:         composite.Size(),
		etag:         etag,
		lastModified: lastModified,
	}, nil
}

// shiftCo64 walks a trak subtree looking for its Co64 box and adds base to
// every chunk offset in place.
func shiftCo64(trak mp4.Boxes, base int64) {
	for i := range trak.Children {
		if co64, ok := trak.Children[i].Box.(*mp4.Co64); ok {
			for j := range co64.ChunkOffset {
				co64.ChunkOffset[j] += uint64(base)
			}
			return
		}
		shiftCo64(trak.Children[i], base)
	}
}

func buildVideoTrak(resolved []*resolvedSegment, table *sampleTable, entry db.VideoSampleEntryRow,
	duration90k int64, edits []editListEntry,
) mp4.Boxes {
	trak := container("trak")

	trak.Children = append(trak.Children, leaf(&mp4.Tkhd{
		FullBox:     mp4.FullBox{Flags: [3]byte{0, 0, 3}}, // track enabled + in movie
		TrackID:     1,
		DurationV0:  uint32(duration90k),
		Matrix:      identityMatrix(),
		Width:       uint32(entry.Width) << 16,
		Height:      uint32(entry.Height) << 16,
	}))

	if len(edits) > 0 {
		edts := container("edts")
		edts.Children = []mp4.Boxes{elstBox(edits)}
		trak.Children = append(trak.Children, edts)
	}

	mdia := container("mdia")
	mdia.Children = append(mdia.Children, leaf(&mp4.Mdhd{
		Timescale:  90000,
		DurationV0: uint32(duration90k),
		Language:   0x55c4, // "und"
	}))
	mdia.Children = append(mdia.Children, leaf(&mp4.Hdlr{
		HandlerType: boxType("vide"),
		Name:        "VideoHandler",
	}))

	minf := container("minf")
	minf.Children = append(minf.Children, leaf(&mp4.Vmhd{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}}))
	minf.Children = append(minf.Children, buildDinf())

	stbl := stblBox(table, sampleEntryBox("avc1", entry.Data))
	minf.Children = append(minf.Children, stbl)

	mdia.Children = append(mdia.Children, minf)
	trak.Children = append(trak.Children, mdia)

	return trak
}

// buildSubtitleTrak builds the sbtl trak over sub's real sample table: one
// tx3g sample per wall-clock second, with a matching stsz/co64 pair (co64
// still zeroed, shifted in place by shiftCo64 once mdat's layout is known).
func buildSubtitleTrak(sub *subtitleTable, duration90k int64) mp4.Boxes {
	trak := container("trak")
	trak.Children = append(trak.Children, leaf(&mp4.Tkhd{
		FullBox:    mp4.FullBox{Flags: [3]byte{0, 0, 3}},
		TrackID:    2,
		DurationV0: uint32(duration90k),
		Matrix:     identityMatrix(),
	}))

	mdia := container("mdia")
	mdia.Children = append(mdia.Children, leaf(&mp4.Mdhd{
		Timescale:  90000,
		DurationV0: uint32(duration90k),
		Language:   0x55c4,
	}))
	mdia.Children = append(mdia.Children, leaf(&mp4.Hdlr{
		HandlerType: boxType("sbtl"),
		Name:        "SubtitleHandler",
	}))

	minf := container("minf")
	minf.Children = append(minf.Children, container("gmhd")) // base media info, empty for timed text
	minf.Children = append(minf.Children, buildDinf())

	stbl := container("stbl")
	stsd := mp4.Boxes{Box: &mp4.Stsd{EntryCount: 1}, Children: []mp4.Boxes{subtitleSampleEntryBox()}}
	stbl.Children = []mp4.Boxes{
		stsd,
		leaf(&mp4.Stts{Entries: sub.stts}),
		leaf(&mp4.Stsc{Entries: []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: sub.count, SampleDescriptionIndex: 1}}}),
		leaf(&mp4.Stsz{SampleSize: 2 + timestampLength, SampleCount: sub.count}),
		leaf(&mp4.Co64{ChunkOffset: []uint64{0}}),
	}
	minf.Children = append(minf.Children, stbl)

	mdia.Children = append(mdia.Children, minf)
	trak.Children = append(trak.Children, mdia)
	return trak
}

func buildDinf() mp4.Boxes {
	dinf := container("dinf")
	dref := mp4.Boxes{
		Box: &mp4.Dref{EntryCount: 1},
		Children: []mp4.Boxes{
			leaf(&mp4.Url{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}}),
		},
	}
	dinf.Children = []mp4.Boxes{dref}
	return dinf
}

func identityMatrix() [9]int32 {
	return [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
}

// computeETag builds a versioned digest: sha1(0x01 || (":ts:" if subtitles)
// || for each segment: u64_be(begin) u64_be(end) sample_file_sha1).
func computeETag(resolved []*resolvedSegment, includeSubtitles bool) string {
	h := sha1.New() //nolint:gosec // contract is "cheap, versioned digest", not collision resistance.
	h.Write([]byte{0x01})
	if includeSubtitles {
		h.Write([]byte(":ts:"))
	}
	var buf [8]byte
	for _, s := range resolved {
		binary.BigEndian.PutUint64(buf[:], uint64(s.byteBegin))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(s.byteEnd))
		h.Write(buf[:])
		h.Write(s.seg.Recording.SampleFileSHA1[:])
	}
	return fmt.Sprintf("\"%x\"", h.Sum(nil))
}
