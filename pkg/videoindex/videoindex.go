// Package videoindex encodes and decodes the per-recording sample index: a
// variable-length table of (duration, byte-size, is-key) tuples compressed
// with delta+zigzag+varint, as described in the data model's
// sample-index encoding. It carries no knowledge of the metadata store or
// the sample-file format; the pipeline wires the three together.
package videoindex

import (
	"errors"
	"fmt"

	"nvr/pkg/varint"
)

// Errors returned by Iterator.Next, matching the decode-error taxonomy.
var (
	ErrNegativeDuration  = errors.New("videoindex: negative duration")
	ErrNonPositiveBytes  = errors.New("videoindex: non-positive bytes")
	ErrZeroDurationNotEnd = errors.New("videoindex: zero duration only allowed at end")
)

// Sample is one decoded entry of the index.
type Sample struct {
	// Pos is the cumulative byte offset of this sample within the sample
	// file (i.e. the sum of all prior samples' Bytes).
	Pos int64
	// Start90k is this sample's presentation time, relative to the
	// recording's start_time_90k.
	Start90k int64
	Duration90k int32
	Bytes       int32
	IsKey       bool
}

// End90k is Start90k + Duration90k.
func (s Sample) End90k() int64 { return s.Start90k + int64(s.Duration90k) }

// Encoder accumulates samples into an index blob and the aggregate totals
// a recording row needs (duration, byte count, sample counts). It holds no
// reference to a metadata-store recording row; the caller copies the
// aggregates across after the last AddSample.
type Encoder struct {
	buf             []byte
	prevDuration    int32
	havePrevDur     bool
	prevKeyBytes    int32
	prevNonkeyBytes int32
	sawFinalSample  bool

	DurationTotal    int64
	SampleFileBytes  int64
	VideoSamples     int64
	VideoSyncSamples int64
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// AddSample appends one sample. duration must be >= 0, and 0 only for the
// final sample of a recording: once a zero-duration sample has been added,
// every further call returns ErrZeroDurationNotEnd. bytes must be > 0.
func (e *Encoder) AddSample(duration int32, bytes int32, isKey bool) error {
	if duration < 0 {
		return ErrNegativeDuration
	}
	if bytes <= 0 {
		return ErrNonPositiveBytes
	}
	if e.sawFinalSample {
		return ErrZeroDurationNotEnd
	}
	if duration == 0 {
		e.sawFinalSample = true
	}

	var durDelta int32
	if e.havePrevDur {
		durDelta = duration - e.prevDuration
	} else {
		durDelta = duration
	}
	e.prevDuration = duration
	e.havePrevDur = true

	durField := varint.ZigZag32(durDelta) << 1
	if isKey {
		durField |= 1
	}
	e.buf = varint.AppendUvarint32(e.buf, durField)

	prevBytes := &e.prevNonkeyBytes
	if isKey {
		prevBytes = &e.prevKeyBytes
	}
	byteDelta := bytes - *prevBytes
	*prevBytes = bytes
	e.buf = varint.AppendUvarint32(e.buf, varint.ZigZag32(byteDelta))

	e.DurationTotal += int64(duration)
	e.SampleFileBytes += int64(bytes)
	e.VideoSamples++
	if isKey {
		e.VideoSyncSamples++
	}
	return nil
}

// Bytes returns the encoded index blob built so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Iterator is a forward cursor over an encoded index blob.
type Iterator struct {
	data []byte
	off  int

	prevDuration    int32
	havePrevDur     bool
	prevKeyBytes    int32
	prevNonkeyBytes int32

	pos      int64
	start90k int64
	cur      Sample
	done     bool
	ended    bool // a zero-duration sample has been seen
}

// NewIterator returns an Iterator positioned before the first sample.
func NewIterator(data []byte) *Iterator {
	return &Iterator{data: data}
}

// Next advances to the next sample. It returns false (with a nil error)
// once the blob is exhausted with no trailing bytes.
func (it *Iterator) Next() (bool, error) {
	if it.off == len(it.data) {
		return false, nil
	}
	if it.ended {
		return false, ErrZeroDurationNotEnd
	}

	durField, n, err := varint.Uvarint32(it.data[it.off:])
	if err != nil {
		return false, fmt.Errorf("videoindex: duration field: %w", err)
	}
	it.off += n

	byteField, n, err := varint.Uvarint32(it.data[it.off:])
	if err != nil {
		return false, fmt.Errorf("videoindex: byte field: %w", err)
	}
	it.off += n

	isKey := durField&1 != 0
	durDelta := varint.UnZigZag32(durField >> 1)

	var duration int32
	if it.havePrevDur {
		duration = it.prevDuration + durDelta
	} else {
		duration = durDelta
	}
	if duration < 0 {
		return false, ErrNegativeDuration
	}
	it.prevDuration = duration
	it.havePrevDur = true
	if duration == 0 {
		it.ended = true
	}

	prevBytes := &it.prevNonkeyBytes
	if isKey {
		prevBytes = &it.prevKeyBytes
	}
	byteDelta := varint.UnZigZag32(byteField)
	bytes := *prevBytes + byteDelta
	if bytes <= 0 {
		return false, ErrNonPositiveBytes
	}
	*prevBytes = bytes

	it.cur = Sample{
		Pos:         it.pos,
		Start90k:    it.start90k,
		Duration90k: duration,
		Bytes:       bytes,
		IsKey:       isKey,
	}
	it.pos += int64(bytes)
	it.start90k += int64(duration)
	return true, nil
}

// Sample returns the sample the most recent successful Next call decoded.
func (it *Iterator) Sample() Sample { return it.cur }

// SkipToSample advances it past the first n samples, leaving the iterator
// positioned to yield sample n+1 next; this is the "scan from the start
// through sample N" fast path mentioned in the index codec's design: no
// allocation beyond the Iterator itself, just a bounded loop over Next.
func SkipToSample(it *Iterator, n int) error {
	for i := 0; i < n; i++ {
		ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("videoindex: index has fewer than %d samples", n)
		}
	}
	return nil
}

// Decode fully decodes data into a slice of samples, verifying the blob
// leaves no trailing bytes. Used by tests and by small recordings where
// materializing the whole sequence is cheap.
func Decode(data []byte) ([]Sample, error) {
	it := NewIterator(data)
	var out []Sample
	for {
		ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, it.Sample())
	}
	return out, nil
}
