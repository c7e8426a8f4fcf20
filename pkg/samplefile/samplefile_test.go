package samplefile

import (
	"crypto/sha1" //nolint:gosec // test verifies against the same streaming digest the writer produces
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestCreateRejectsExistingFile(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	w, err := Create(dir, id)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Abort()

	if _, err := Create(dir, id); err == nil {
		t.Fatalf("expected an error creating over an existing sample file")
	}
}

func TestWriteAndCloseProducesMatchingSHA1(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	w, err := Create(dir, id)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := []byte("some AVC length-prefixed frame bytes")
	n, err := w.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected to write %d bytes, wrote %d", len(payload), n)
	}
	if w.Written() != int64(len(payload)) {
		t.Fatalf("expected Written()=%d, got %d", len(payload), w.Written())
	}

	digest, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := sha1.Sum(payload) //nolint:gosec
	if digest != want {
		t.Fatalf("expected digest %x, got %x", want, digest)
	}

	data, err := os.ReadFile(Path(dir, id))
	if err != nil {
		t.Fatalf("read sample file: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("expected file contents %q, got %q", payload, data)
	}
}

func TestWriteAccumulatesAcrossMultipleCalls(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, uuid.New())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("def")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.Written() != 6 {
		t.Fatalf("expected 6 bytes written, got %d", w.Written())
	}

	digest, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := sha1.Sum([]byte("abcdef")) //nolint:gosec
	if digest != want {
		t.Fatalf("expected digest over the concatenation of both writes, got mismatch")
	}
}

func TestAbortLeavesFileWithoutSyncing(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	w, err := Create(dir, id)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Abort()

	if _, err := os.Stat(Path(dir, id)); err != nil {
		t.Fatalf("expected the partial file to still exist on disk: %v", err)
	}
}

func TestPathJoinsDirAndUUID(t *testing.T) {
	id := uuid.New()
	got := Path("/tmp/samples", id)
	want := "/tmp/samples/" + id.String()
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
