// Package assembler synthesizes a virtual ISO/IEC 14496-12 MP4 file over an
// arbitrary time window by stitching pre-written sample files with freshly
// generated metadata boxes: precompute a byte-addressable virtual file and
// serve reads against it, accumulating per-sample stts/stsc/stsz/co64
// entries while walking a sample index across one or more already-recorded
// segments.
package assembler

import (
	"fmt"

	"nvr/pkg/db"
	"nvr/pkg/videoindex"
)

// Segment is one (recording, relative time range) contribution to an
// assembled file. All segments in a request must share the same video
// sample entry.
type Segment struct {
	Recording db.RecordingRow
	RelStart90k int64
	RelEnd90k   int64
}

// resolvedSegment is a Segment after walking its recording's video_index:
// the real sample range, byte range, and counts it contributes.
type resolvedSegment struct {
	seg Segment

	samples []videoindex.Sample // samples contributing to this segment, in order.

	byteBegin int64 // offset of first contributing sample within the sample file.
	byteEnd   int64 // end offset (exclusive) within the sample file.

	startSample90k int64 // real start time (the covering keyframe's start).
	endSample90k   int64 // actual end time = min(last sample's end, RelEnd90k).

	preTrim90k int64 // RelStart90k - startSample90k; drives the edit list.
}

// resolveSegment walks seg's recording's video_index to locate the segment's
// real sample range, applying the fast path when the caller asked for the
// recording's entire duration.
func resolveSegment(seg Segment) (*resolvedSegment, error) {
	rec := seg.Recording

	if seg.RelStart90k == 0 && seg.RelEnd90k >= rec.Duration90k {
		samples, err := videoindex.Decode(rec.VideoIndex)
		if err != nil {
			return nil, fmt.Errorf("assembler: decode index: %w", err)
		}
		return &resolvedSegment{
			seg:            seg,
			samples:        samples,
			byteBegin:      0,
			byteEnd:        rec.SampleFileBytes,
			startSample90k: 0,
			endSample90k:   rec.Duration90k,
			preTrim90k:     0,
		}, nil
	}

	all, err := videoindex.Decode(rec.VideoIndex)
	if err != nil {
		return nil, fmt.Errorf("assembler: decode index: %w", err)
	}

	startIdx := -1
	for i, s := range all {
		if s.IsKey && s.Start90k <= seg.RelStart90k {
			startIdx = i
		}
	}
	if startIdx == -1 {
		return nil, fmt.Errorf("assembler: no keyframe at or before %d", seg.RelStart90k)
	}

	endIdx := -1
	for i, s := range all {
		if s.Start90k < seg.RelEnd90k {
			endIdx = i
		}
	}
	if endIdx < startIdx {
		return nil, fmt.Errorf("assembler: no sample before %d", seg.RelEnd90k)
	}

	samples := make([]videoindex.Sample, endIdx-startIdx+1)
	copy(samples, all[startIdx:endIdx+1])

	last := &samples[len(samples)-1]
	actualEnd := last.End90k()
	if actualEnd > seg.RelEnd90k {
		last.Duration90k = int32(seg.RelEnd90k - last.Start90k)
		actualEnd = seg.RelEnd90k
	}

	return &resolvedSegment{
		seg:            seg,
		samples:        samples,
		byteBegin:      samples[0].Pos,
		byteEnd:        last.Pos + int64(last.Bytes),
		startSample90k: samples[0].Start90k,
		endSample90k:   actualEnd,
		preTrim90k:     seg.RelStart90k - samples[0].Start90k,
	}, nil
}
