package h264

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrAVCCInvalidLength is returned when a length-prefixed NAL unit's
// declared length runs past the end of the buffer.
var ErrAVCCInvalidLength = errors.New("h264: invalid AVCC length")

// AVCCNALUTooBigError reports an over-size NAL unit.
type AVCCNALUTooBigError struct {
	NALUSize int
}

func (e AVCCNALUTooBigError) Error() string {
	return fmt.Sprintf("h264: NAL unit size (%d) exceeds maximum (%d)", e.NALUSize, MaxNALUSize)
}

// AVCCUnmarshal splits a buffer of 4-byte-length-prefixed NAL units
// (lengthSizeMinusOne == 3) back into individual units.
func AVCCUnmarshal(buf []byte) ([][]byte, error) {
	bl := len(buf)
	pos := 0
	var ret [][]byte

	for pos < bl {
		if bl-pos < 4 {
			return nil, ErrAVCCInvalidLength
		}
		le := int(binary.BigEndian.Uint32(buf[pos:]))
		pos += 4
		if le < 0 || bl-pos < le {
			return nil, ErrAVCCInvalidLength
		}
		if le > MaxNALUSize {
			return nil, AVCCNALUTooBigError{NALUSize: le}
		}
		ret = append(ret, buf[pos:pos+le])
		pos += le
	}
	return ret, nil
}

func avccMarshalSize(nalus [][]byte) int {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}
	return n
}

// AVCCMarshal encodes NAL units in 4-byte-length-prefixed form.
func AVCCMarshal(nalus [][]byte) []byte {
	buf := make([]byte, avccMarshalSize(nalus))
	pos := 0
	for _, nalu := range nalus {
		binary.BigEndian.PutUint32(buf[pos:], uint32(len(nalu)))
		pos += 4
		pos += copy(buf[pos:], nalu)
	}
	return buf
}

// TransformAnnexBToAVCC rewrites one encoded sample from Annex-B framing to
// AVC length-prefixed framing, as required whenever the stream's need-
// transform flag is set.
func TransformAnnexBToAVCC(sample []byte) ([]byte, error) {
	nalus, err := SplitAnnexB(sample)
	if err != nil {
		return nil, fmt.Errorf("h264: transform sample: %w", err)
	}
	return AVCCMarshal(nalus), nil
}
