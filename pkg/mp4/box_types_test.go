package mp4

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"nvr/pkg/mp4/bitio"
)

func marshalBox(t *testing.T, b ImmutableBox) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, b.Marshal(bitio.NewWriter(&buf)))
	require.Equal(t, b.Size(), buf.Len())
	return buf.Bytes()
}

func TestFtyp(t *testing.T) {
	b := &Ftyp{
		MajorBrand:       fourCC("isom"),
		MinorVersion:     1,
		CompatibleBrands: []BoxType{fourCC("isom"), fourCC("iso2")},
	}
	got := marshalBox(t, b)
	require.Equal(t, []byte("isom"), got[0:4])
	require.Equal(t, []byte{0, 0, 0, 1}, got[4:8])
	require.Equal(t, []byte("isom"), got[8:12])
	require.Equal(t, []byte("iso2"), got[12:16])
}

func TestMvhdVersion0(t *testing.T) {
	b := &Mvhd{Timescale: 90000, DurationV0: 12345, NextTrackID: 2}
	got := marshalBox(t, b)
	require.Equal(t, 100, len(got))
}

func TestMvhdVersion1(t *testing.T) {
	b := &Mvhd{FullBox: FullBox{Version: 1}, Timescale: 90000, DurationV1: 1 << 40, NextTrackID: 2}
	got := marshalBox(t, b)
	require.Equal(t, 4+8+8+4+8+80, len(got))
}

func TestTkhdSizesByVersion(t *testing.T) {
	v0 := &Tkhd{TrackID: 1, Width: 640 << 16, Height: 480 << 16}
	require.Equal(t, 4+4+4+4+4+4+60, v0.Size())

	v1 := &Tkhd{FullBox: FullBox{Version: 1}, TrackID: 1, DurationV1: 1 << 40}
	require.Equal(t, 4+8+8+4+4+8+60, v1.Size())
}

func TestElstEntriesSizeByVersion(t *testing.T) {
	b := &Elst{Entries: []ElstEntry{{SegmentDurationV0: 90000, MediaTimeV0: -1}}}
	require.Equal(t, 4+4+12, b.Size())
	got := marshalBox(t, b)
	require.Equal(t, []byte{0, 0, 0, 1}, got[4:8]) // entry count, after the FullBox prefix

	b1 := &Elst{FullBox: FullBox{Version: 1}, Entries: []ElstEntry{{SegmentDurationV1: 90000, MediaTimeV1: -1}}}
	require.Equal(t, 4+4+20, b1.Size())
}

func TestHdlrIncludesNameAndTerminator(t *testing.T) {
	b := &Hdlr{HandlerType: fourCC("vide"), Name: "core media video handler"}
	got := marshalBox(t, b)
	require.Equal(t, byte(0), got[len(got)-1])
	require.Equal(t, []byte("vide"), got[8:12])
}

func TestSttsRoundTrips(t *testing.T) {
	b := &Stts{Entries: []SttsEntry{{SampleCount: 5, SampleDelta: 3000}, {SampleCount: 1, SampleDelta: 0}}}
	got := marshalBox(t, b)
	require.Equal(t, b.Size(), len(got))
	require.Equal(t, []byte{0, 0, 0, 2}, got[4:8])
}

func TestStszVariableSizes(t *testing.T) {
	b := &Stsz{SampleCount: 3, EntrySize: []uint32{100, 200, 300}}
	require.Equal(t, 4+4+4+4*3, b.Size())
	got := marshalBox(t, b)
	require.Equal(t, []byte{0, 0, 0, 3}, got[8:12]) // sampleCount
}

func TestStssListsOneBasedSampleNumbers(t *testing.T) {
	b := &Stss{SampleNumber: []uint32{1, 4, 7}}
	got := marshalBox(t, b)
	require.Equal(t, []byte{0, 0, 0, 3}, got[4:8]) // entry count, after the FullBox prefix
	require.Equal(t, []byte{0, 0, 0, 7}, got[16:20])
}

func TestCo64WidensOffsetsTo64Bit(t *testing.T) {
	b := &Co64{ChunkOffset: []uint64{1 << 33}}
	got := marshalBox(t, b)
	require.Equal(t, 4+4+8, len(got))
	var offset uint64
	for _, bb := range got[8:16] {
		offset = offset<<8 | uint64(bb)
	}
	require.Equal(t, uint64(1<<33), offset)
}

func TestTx3gFixedSize(t *testing.T) {
	b := &Tx3g{DataReferenceIndex: 1, FontSize: 12}
	got := marshalBox(t, b)
	require.Equal(t, b.Size(), len(got))
}

func TestDrefAndUrl(t *testing.T) {
	dref := &Dref{EntryCount: 1}
	got := marshalBox(t, dref)
	require.Equal(t, []byte{0, 0, 0, 1}, got[4:8])

	url := &Url{FullBox: FullBox{Flags: [3]byte{0, 0, 1}}}
	require.Equal(t, 4, url.Size())
}
