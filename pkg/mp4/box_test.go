package mp4

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"nvr/pkg/mp4/bitio"
)

func TestBoxesSizeAndMarshalLeaf(t *testing.T) {
	boxes := Boxes{Box: Raw{FourCC: fourCC("free"), Body: []byte{1, 2, 3}}}
	require.Equal(t, 11, boxes.Size())

	var buf bytes.Buffer
	require.NoError(t, boxes.Marshal(bitio.NewWriter(&buf)))
	require.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x0b, // size = 11
		'f', 'r', 'e', 'e',
		1, 2, 3,
	}, buf.Bytes())
}

func TestBoxesSizeAndMarshalWithChildren(t *testing.T) {
	boxes := Boxes{
		Box: Container{FourCC: fourCC("moov")},
		Children: []Boxes{
			{Box: Raw{FourCC: fourCC("free"), Body: []byte{1}}},
			{Box: Raw{FourCC: fourCC("free"), Body: []byte{2, 3}}},
		},
	}
	// moov header(8) + empty body(0) + child1(8+1) + child2(8+2)
	require.Equal(t, 8+9+10, boxes.Size())

	var buf bytes.Buffer
	require.NoError(t, boxes.Marshal(bitio.NewWriter(&buf)))
	require.Equal(t, 8+9+10, buf.Len())
	require.Equal(t, []byte("moov"), buf.Bytes()[4:8])
}

func TestContainerIsEmptyBody(t *testing.T) {
	c := Container{FourCC: fourCC("trak")}
	require.Equal(t, 0, c.Size())
	require.Equal(t, fourCC("trak"), c.Type())

	var buf bytes.Buffer
	require.NoError(t, c.Marshal(bitio.NewWriter(&buf)))
	require.Empty(t, buf.Bytes())
}

func TestWriteSingleBox(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteSingleBox(bitio.NewWriter(&buf), Raw{FourCC: fourCC("mdat"), Body: []byte{9, 9}})
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, 10, buf.Len())
}

func TestMdatHeaderLargesize(t *testing.T) {
	header := MdatHeader(1 << 40)
	require.Len(t, header, 16)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, header[0:4])
	require.Equal(t, []byte("mdat"), header[4:8])

	var size uint64
	for _, b := range header[8:16] {
		size = size<<8 | uint64(b)
	}
	require.Equal(t, uint64(1<<40), size)
}
