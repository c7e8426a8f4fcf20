package h264

import (
	"crypto/sha1" //nolint:gosec // contract is "streaming hash, 20-byte digest"
	"fmt"
)

// SampleEntry is the result of scanning a camera's codec extradata: the
// fully serialized avc1 VisualSampleEntry (including its 8-byte box
// header), whether samples arriving from this source need Annex-B → AVC
// transformation, and the entry's SHA-1 for metadata-store deduplication.
type SampleEntry struct {
	Data          []byte
	NeedTransform bool
	SHA1          [20]byte
	Width         uint16
	Height        uint16
}

// BuildSampleEntry scans extradata for SPS/PPS (if it is Annex-B) or treats
// it as an already-built AVCDecoderConfigurationRecord, then wraps the
// result in a canonical avc1 VisualSampleEntry sized for width x height.
func BuildSampleEntry(extradata []byte, width, height uint16) (*SampleEntry, error) {
	var avcC []byte
	needTransform := false

	if IsAnnexB(extradata) {
		nalus, err := SplitAnnexB(extradata)
		if err != nil {
			return nil, fmt.Errorf("h264: sample entry: %w", err)
		}
		var sps, pps []byte
		for _, nalu := range nalus {
			switch NALType(nalu) {
			case NALTypeSPS:
				if sps != nil {
					return nil, fmt.Errorf("h264: sample entry: %w: duplicate SPS", ErrMissingParameterSet)
				}
				sps = nalu
			case NALTypePPS:
				if pps != nil {
					return nil, fmt.Errorf("h264: sample entry: %w: duplicate PPS", ErrMissingParameterSet)
				}
				pps = nalu
			default:
				return nil, fmt.Errorf("h264: sample entry: %w: NAL type %d", ErrUnexpectedNALType, NALType(nalu))
			}
		}
		if sps == nil || pps == nil || len(sps) < 4 {
			return nil, ErrMissingParameterSet
		}
		avcC = buildAVCDecoderConfigurationRecord(sps, pps)
		needTransform = true
	} else {
		avcC = extradata
	}

	data := buildAVC1(width, height, avcC)
	return &SampleEntry{
		Data:          data,
		NeedTransform: needTransform,
		SHA1:          sha1.Sum(data),
		Width:         width,
		Height:        height,
	}, nil
}

// buildAVCDecoderConfigurationRecord builds the raw configurationRecord body
// (no avcC box header) per ISO/IEC 14496-15: version 1, profile/compat/level
// copied from the SPS, lengthSizeMinusOne = 3, exactly one SPS and one PPS.
func buildAVCDecoderConfigurationRecord(sps, pps []byte) []byte {
	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf,
		1,       // configurationVersion
		sps[1],  // profile_idc
		sps[2],  // profile_compatibility
		sps[3],  // level_idc
		0xff,    // reserved(6) | lengthSizeMinusOne(2) = 3
		0xe1,    // reserved(3) | numOfSequenceParameterSets(5) = 1
	)
	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)
	buf = append(buf, 1) // numOfPictureParameterSets = 1
	buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)
	return buf
}

// buildAVC1 assembles the full serialized avc1 box (8-byte header + 78-byte
// fixed VisualSampleEntry fields + the avcC box wrapping avcc). Field
// layout and reserved-byte values per the sample-entry builder's spec.
func buildAVC1(width, height uint16, avcc []byte) []byte {
	avccBoxSize := 8 + len(avcc)
	total := 8 + 78 + avccBoxSize
	buf := make([]byte, total)
	pos := 0

	putU32 := func(v uint32) {
		buf[pos] = byte(v >> 24)
		buf[pos+1] = byte(v >> 16)
		buf[pos+2] = byte(v >> 8)
		buf[pos+3] = byte(v)
		pos += 4
	}
	putU16 := func(v uint16) {
		buf[pos] = byte(v >> 8)
		buf[pos+1] = byte(v)
		pos += 2
	}
	skip := func(n int) { pos += n }

	putU32(uint32(total))
	pos += copy(buf[pos:], "avc1")
	skip(6)             // reserved
	putU16(1)            // data_reference_index
	skip(16)             // pre_defined, reserved, pre_defined2[3]
	putU16(width)
	putU16(height)
	putU32(0x00480000) // horizresolution
	putU32(0x00480000) // vertresolution
	skip(4)              // reserved
	putU16(1)            // frame_count
	skip(32)             // compressorname
	putU16(0x0018)     // depth
	putU16(0xffff)     // pre_defined = -1

	putU32(uint32(avccBoxSize))
	pos += copy(buf[pos:], "avcC")
	pos += copy(buf[pos:], avcc)

	return buf
}
