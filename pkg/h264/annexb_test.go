package h264

import (
	"bytes"
	"testing"
)

func TestIsAnnexB(t *testing.T) {
	if !IsAnnexB([]byte{0x00, 0x00, 0x00, 0x01, 0x67}) {
		t.Fatalf("expected 4-byte start code to be recognized")
	}
	if !IsAnnexB([]byte{0x00, 0x00, 0x01, 0x67}) {
		t.Fatalf("expected 3-byte start code to be recognized")
	}
	if IsAnnexB([]byte{0x01, 0x42, 0x00, 0x1e}) {
		t.Fatalf("expected an AVCDecoderConfigurationRecord to not be Annex-B")
	}
}

func TestSplitAnnexBWith3And4ByteStartCodes(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1e}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	data := append(append(
		[]byte{0x00, 0x00, 0x00, 0x01}, sps...),
		append([]byte{0x00, 0x00, 0x01}, pps...)...,
	)

	nalus, err := SplitAnnexB(data)
	if err != nil {
		t.Fatalf("SplitAnnexB: %v", err)
	}
	if len(nalus) != 2 {
		t.Fatalf("expected 2 NAL units, got %d", len(nalus))
	}
	if !bytes.Equal(nalus[0], sps) {
		t.Fatalf("expected first NAL to be sps, got %x", nalus[0])
	}
	if !bytes.Equal(nalus[1], pps) {
		t.Fatalf("expected second NAL to be pps, got %x", nalus[1])
	}
}

func TestSplitAnnexBRejectsNoStartCode(t *testing.T) {
	if _, err := SplitAnnexB([]byte{0x01, 0x02, 0x03}); err != ErrNoStartCode {
		t.Fatalf("expected ErrNoStartCode, got %v", err)
	}
}

func TestSplitAnnexBRejectsOversizeNALU(t *testing.T) {
	data := append([]byte{0x00, 0x00, 0x01}, make([]byte, MaxNALUSize+1)...)
	if _, err := SplitAnnexB(data); err == nil {
		t.Fatalf("expected an error for a NAL unit exceeding MaxNALUSize")
	}
}

func TestNALType(t *testing.T) {
	if got := NALType([]byte{0x67}); got != NALTypeSPS {
		t.Fatalf("expected SPS type %d, got %d", NALTypeSPS, got)
	}
	if got := NALType([]byte{0x68}); got != NALTypePPS {
		t.Fatalf("expected PPS type %d, got %d", NALTypePPS, got)
	}
	if got := NALType(nil); got != -1 {
		t.Fatalf("expected -1 for an empty NAL unit, got %d", got)
	}
}
