package assembler

import (
	"encoding/binary"
	"fmt"
	"time"

	"nvr/pkg/db"
	"nvr/pkg/mp4"
)

const timescale90k = 90000

// timestampLength is the fixed width of one subtitle sample's text payload:
// "YYYY-MM-DD HH:MM:SS +ZZZZ".
const timestampLength = 25

func container(fourCC string) mp4.Boxes {
	return mp4.Boxes{Box: mp4.Container{FourCC: boxType(fourCC)}}
}

func leaf(box mp4.ImmutableBox) mp4.Boxes {
	return mp4.Boxes{Box: box}
}

func boxType(s string) mp4.BoxType {
	var b mp4.BoxType
	copy(b[:], s)
	return b
}

// editListEntry is one coalesced run of segments sharing a contiguous media
// timeline.
type editListEntry struct {
	mediaTime90k int64
	duration90k  int64
}

// buildEditList computes the elst entries for a set of resolved segments,
// coalescing consecutive segments whose media time is contiguous. Returns
// nil if every segment starts exactly at its covering keyframe (no
// pre-trim anywhere): absence of the edts box implies a 1:1 media mapping.
func buildEditList(segments []*resolvedSegment) []editListEntry {
	anyTrim := false
	for _, s := range segments {
		if s.preTrim90k != 0 {
			anyTrim = true
			break
		}
	}
	if !anyTrim {
		return nil
	}

	var entries []editListEntry
	var mediaCursor int64
	for _, s := range segments {
		duration := s.endSample90k - s.seg.RelStart90k
		mediaTime := mediaCursor + s.preTrim90k

		if len(entries) > 0 {
			last := &entries[len(entries)-1]
			if last.mediaTime90k+last.duration90k == mediaTime {
				last.duration90k += duration
				mediaCursor += s.endSample90k - s.startSample90k
				continue
			}
		}
		entries = append(entries, editListEntry{mediaTime90k: mediaTime, duration90k: duration})
		mediaCursor += s.endSample90k - s.startSample90k
	}
	return entries
}

func elstBox(entries []editListEntry) mp4.Boxes {
	var mp4Entries []mp4.ElstEntry
	for _, e := range entries {
		mp4Entries = append(mp4Entries, mp4.ElstEntry{
			SegmentDurationV0: uint32(e.duration90k),
			MediaTimeV0:       int32(e.mediaTime90k),
			MediaRateInteger:  1,
		})
	}
	return mp4.Boxes{
		Box:      &mp4.Elst{Entries: mp4Entries},
		Children: nil,
	}
}

// sampleTable is the result of walking a set of resolved segments: the
// sample-table boxes (minus stsd, which the caller supplies since it knows
// the shared sample entry) plus the mdat payload slices in file order.
type sampleTable struct {
	stts []mp4.SttsEntry
	stsc []mp4.StscEntry
	stsz []uint32
	stss []uint32
	co64 []uint64

	payload []mp4Segment
	mdatLen int64
}

// mp4Segment names one sample-file byte range contributed to mdat, in order.
type mp4Segment struct {
	recording db.RecordingRow
	begin     int64
	end       int64
}

// buildSampleTable walks segments in presentation order, accumulating the
// sample-table box fields (stts/stsc/stsz/stss/co64) and the matching mdat
// payload slice list. mdatPayloadStart is the absolute offset (within the
// whole virtual file) at which the mdat payload begins; co64 entries are
// always absolute file offsets, not offsets relative to the mdat box.
func buildSampleTable(segments []*resolvedSegment, mdatPayloadStart int64) (*sampleTable, error) {
	t := &sampleTable{}

	sampleNumber := uint32(1)
	chunk := uint32(1)
	cursor := mdatPayloadStart

	for _, s := range segments {
		if len(s.samples) == 0 {
			return nil, fmt.Errorf("assembler: empty segment")
		}

		for _, sample := range s.samples {
			t.stts = append(t.stts, mp4.SttsEntry{SampleCount: 1, SampleDelta: uint32(sample.Duration90k)})
			t.stsz = append(t.stsz, uint32(sample.Bytes))
			if sample.IsKey {
				t.stss = append(t.stss, sampleNumber)
			}
			sampleNumber++
		}

		t.stsc = append(t.stsc, mp4.StscEntry{
			FirstChunk:             chunk,
			SamplesPerChunk:        uint32(len(s.samples)),
			SampleDescriptionIndex: 1,
		})
		chunk++

		t.co64 = append(t.co64, uint64(cursor))
		size := s.byteEnd - s.byteBegin
		t.payload = append(t.payload, mp4Segment{recording: s.seg.Recording, begin: s.byteBegin, end: s.byteEnd})
		cursor += size
		t.mdatLen += size
	}

	return t, nil
}

func stblBox(t *sampleTable, sampleEntry mp4.Boxes) mp4.Boxes {
	stsd := mp4.Boxes{
		Box:      &mp4.Stsd{EntryCount: 1},
		Children: []mp4.Boxes{sampleEntry},
	}
	stbl := container("stbl")
	stbl.Children = []mp4.Boxes{
		stsd,
		leaf(&mp4.Stts{Entries: t.stts}),
		leaf(&mp4.Stsc{Entries: t.stsc}),
		leaf(&mp4.Stsz{SampleCount: uint32(len(t.stsz)), EntrySize: t.stsz}),
		leaf(&mp4.Co64{ChunkOffset: t.co64}),
		leaf(&mp4.Stss{SampleNumber: t.stss}),
	}
	return stbl
}

// sampleEntryBox wraps a fully-serialized sample entry (8-byte header
// included, as produced by h264.BuildSampleEntry) into the mp4 tree's Raw
// leaf, which expects only the body.
func sampleEntryBox(fourCC string, full []byte) mp4.Boxes {
	return mp4.Boxes{Box: mp4.Raw{FourCC: boxType(fourCC), Body: full[8:]}}
}

func subtitleSampleEntryBox() mp4.Boxes {
	return mp4.Boxes{Box: &mp4.Tx3g{DataReferenceIndex: 1, FontSize: 12}}
}

// subtitleSample is one wall-clock-second text sample of the synthesized
// subtitle track.
type subtitleSample struct {
	duration90k int64
	text        string
}

// buildSubtitleSamples splits segments' presented spans into one sample per
// wall-clock second, clipping the first and last sample of each segment to
// the segment's actual boundaries, and renders each sample's local-time text.
func buildSubtitleSamples(segments []*resolvedSegment) []subtitleSample {
	var samples []subtitleSample
	for _, s := range segments {
		rec := s.seg.Recording
		cursor := rec.StartTime90k + rec.LocalTimeDelta90k + s.seg.RelStart90k
		remaining := s.endSample90k - s.seg.RelStart90k
		for remaining > 0 {
			secBoundary := (cursor/timescale90k + 1) * timescale90k
			dur := secBoundary - cursor
			if dur > remaining {
				dur = remaining
			}
			samples = append(samples, subtitleSample{
				duration90k: dur,
				text:        formatTimestamp(cursor, rec.LocalTimeDelta90k),
			})
			cursor += dur
			remaining -= dur
		}
	}
	return samples
}

// formatTimestamp renders local90k — wall-clock time already shifted by
// offset90k from UTC — as "YYYY-MM-DD HH:MM:SS ±ZZZZ".
func formatTimestamp(local90k, offset90k int64) string {
	t := time.Unix(local90k/timescale90k, 0).UTC()

	offsetSec := offset90k / timescale90k
	sign := byte('+')
	if offsetSec < 0 {
		sign = '-'
		offsetSec = -offsetSec
	}
	return fmt.Sprintf("%s %c%02d%02d", t.Format("2006-01-02 15:04:05"), sign, offsetSec/3600, (offsetSec%3600)/60)
}

// subtitlePayload concatenates samples into their mdat byte representation:
// a 2-byte big-endian length prefix followed by the fixed-width text, per
// sample, in presentation order.
func subtitlePayload(samples []subtitleSample) []byte {
	buf := make([]byte, 0, len(samples)*(2+timestampLength))
	var lenBuf [2]byte
	for _, s := range samples {
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s.text)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, s.text...)
	}
	return buf
}

// subtitleTable is the sample-table fields and mdat payload for a
// synthesized subtitle track. co64 is filled in by the caller once the
// mdat layout (and hence this track's absolute payload offset) is known.
type subtitleTable struct {
	stts    []mp4.SttsEntry
	count   uint32
	payload []byte
}

// buildSubtitleTable walks segments and produces the subtitle sample table.
func buildSubtitleTable(segments []*resolvedSegment) *subtitleTable {
	samples := buildSubtitleSamples(segments)
	t := &subtitleTable{count: uint32(len(samples))}
	for _, s := range samples {
		t.stts = append(t.stts, mp4.SttsEntry{SampleCount: 1, SampleDelta: uint32(s.duration90k)})
	}
	t.payload = subtitlePayload(samples)
	return t
}

// videoDuration90k returns the total presentation duration contributed by
// segments, used for mvhd/tkhd/mdhd.
func videoDuration90k(segments []*resolvedSegment) int64 {
	var total int64
	for _, s := range segments {
		total += s.endSample90k - s.seg.RelStart90k
	}
	return total
}
