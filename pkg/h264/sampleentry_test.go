package h264

import (
	"errors"
	"testing"
)

func buildTestExtradata() []byte {
	sps := []byte{0x67, 0x42, 0x00, 0x1e, 0x01, 0x02}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	data := append([]byte{0x00, 0x00, 0x00, 0x01}, sps...)
	data = append(data, 0x00, 0x00, 0x00, 0x01)
	data = append(data, pps...)
	return data
}

func TestBuildSampleEntryFromAnnexB(t *testing.T) {
	entry, err := BuildSampleEntry(buildTestExtradata(), 1920, 1080)
	if err != nil {
		t.Fatalf("BuildSampleEntry: %v", err)
	}
	if !entry.NeedTransform {
		t.Fatalf("expected NeedTransform=true for Annex-B extradata")
	}
	if entry.Width != 1920 || entry.Height != 1080 {
		t.Fatalf("unexpected dimensions: %dx%d", entry.Width, entry.Height)
	}
	if len(entry.Data) == 0 {
		t.Fatalf("expected non-empty avc1 box data")
	}
}

func TestBuildSampleEntryFromAVCDecoderConfigurationRecord(t *testing.T) {
	avcC := []byte{0x01, 0x42, 0x00, 0x1e, 0xff, 0xe1, 0x00, 0x00, 0x01, 0x00, 0x00}
	entry, err := BuildSampleEntry(avcC, 640, 480)
	if err != nil {
		t.Fatalf("BuildSampleEntry: %v", err)
	}
	if entry.NeedTransform {
		t.Fatalf("expected NeedTransform=false for an already-built AVCDecoderConfigurationRecord")
	}
}

func TestBuildSampleEntryRejectsDuplicateSPS(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1e}
	data := append([]byte{0x00, 0x00, 0x01}, sps...)
	data = append(data, 0x00, 0x00, 0x01)
	data = append(data, sps...)

	if _, err := BuildSampleEntry(data, 640, 480); err == nil {
		t.Fatalf("expected an error for duplicate SPS")
	}
}

func TestBuildSampleEntryRejectsMissingPPS(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1e}
	data := append([]byte{0x00, 0x00, 0x01}, sps...)
	if _, err := BuildSampleEntry(data, 640, 480); err != ErrMissingParameterSet {
		t.Fatalf("expected ErrMissingParameterSet, got %v", err)
	}
}

func TestBuildSampleEntryRejectsUnexpectedNALType(t *testing.T) {
	sei := []byte{0x06, 0x01, 0x02}
	data := append([]byte{0x00, 0x00, 0x01}, sei...)
	if _, err := BuildSampleEntry(data, 640, 480); !errors.Is(err, ErrUnexpectedNALType) {
		t.Fatalf("expected ErrUnexpectedNALType, got %v", err)
	}
}

func TestBuildSampleEntrySameSPSPPSProduceSameSHA1(t *testing.T) {
	a, err := BuildSampleEntry(buildTestExtradata(), 1920, 1080)
	if err != nil {
		t.Fatalf("BuildSampleEntry: %v", err)
	}
	b, err := BuildSampleEntry(buildTestExtradata(), 1920, 1080)
	if err != nil {
		t.Fatalf("BuildSampleEntry: %v", err)
	}
	if a.SHA1 != b.SHA1 {
		t.Fatalf("expected identical extradata to hash identically")
	}
}
