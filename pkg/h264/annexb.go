// Package h264 scans codec extradata for SPS/PPS, builds the AVC sample
// entry (avcC + avc1 body) the assembler embeds in every stsd, and
// transforms Annex-B samples into the AVC length-prefixed form the sample
// file stores.
package h264

import (
	"bytes"
	"errors"
	"fmt"
)

// NAL unit types relevant to sample-entry construction.
const (
	NALTypeSPS = 7
	NALTypePPS = 8
)

// MaxNALUSize bounds a single NAL unit under the AVCC length-prefix codec.
const MaxNALUSize = 3 * 1024 * 1024

var (
	// ErrNoStartCode is returned when extradata has no Annex-B start code
	// at all, i.e. it is presumed to already be an AVCDecoderConfigurationRecord.
	ErrNoStartCode = errors.New("h264: no Annex-B start code")
	// ErrMissingParameterSet means the extradata did not contain exactly
	// one SPS and one PPS.
	ErrMissingParameterSet = errors.New("h264: missing SPS or PPS")
	// ErrUnexpectedNALType means extradata contained some NAL unit other
	// than SPS/PPS, which this builder does not expect.
	ErrUnexpectedNALType = errors.New("h264: unexpected NAL unit type in extradata")
)

var startCode3 = []byte{0x00, 0x00, 0x01}
var startCode4 = []byte{0x00, 0x00, 0x00, 0x01}

// IsAnnexB reports whether data begins with an Annex-B start code.
func IsAnnexB(data []byte) bool {
	return bytes.HasPrefix(data, startCode4) || bytes.HasPrefix(data, startCode3)
}

// SplitAnnexB splits data into its constituent NAL units, recognizing both
// 3- and 4-byte start codes.
func SplitAnnexB(data []byte) ([][]byte, error) {
	if !IsAnnexB(data) {
		return nil, ErrNoStartCode
	}

	var starts []int
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			starts = append(starts, i+3)
		}
	}
	if len(starts) == 0 {
		return nil, ErrNoStartCode
	}

	nalus := make([][]byte, 0, len(starts))
	for i, start := range starts {
		// The next start code's match position is 3 bytes after its
		// 00 00 01, so backing off by 3 lands on that 00 00 01; one more
		// byte is dropped when it is the extra leading 00 of a 4-byte
		// start code — either way, precisely where this NAL unit's data ends.
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1] - 3
			if end > start && data[end-1] == 0 {
				end--
			}
		}
		nalu := data[start:end]
		if len(nalu) == 0 {
			continue
		}
		if len(nalu) > MaxNALUSize {
			return nil, fmt.Errorf("h264: NAL unit too large (%d bytes)", len(nalu))
		}
		nalus = append(nalus, nalu)
	}
	return nalus, nil
}

// NALType returns the NAL unit type (low 5 bits of the first byte).
func NALType(nalu []byte) int {
	if len(nalu) == 0 {
		return -1
	}
	return int(nalu[0] & 0x1f)
}
