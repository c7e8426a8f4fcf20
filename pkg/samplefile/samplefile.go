// Package samplefile writes and names the flat, UUID-named sample
// files the pipeline produces: one file per recording, named by the
// canonical text form of a UUID, holding the concatenation of AVC
// length-prefixed frame payloads.
package samplefile

import (
	"crypto/sha1" //nolint:gosec // contract is "streaming hash, 20-byte digest", not collision resistance
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrCorrupt is returned by Write once a prior write has left the file in
// an unrecoverable state (a short write whose truncate-back also failed).
var ErrCorrupt = errors.New("samplefile: writer is corrupt")

// Path returns the path a sample file with the given UUID would have under
// dir.
func Path(dir string, id uuid.UUID) string {
	return filepath.Join(dir, id.String())
}

// Writer streams one recording's samples to disk, maintaining a running
// SHA-1 and byte count alongside the file itself.
type Writer struct {
	f       *os.File
	path    string
	hash    hash.Hash
	written int64
	corrupt bool
}

// Create reserves and opens a new sample file for exclusive writing. The
// caller is expected to have already reserved id in the metadata store's
// reserved_sample_files table before calling this.
func Create(dir string, id uuid.UUID) (*Writer, error) {
	path := Path(dir, id)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("samplefile: create %s: %w", path, err)
	}
	return &Writer{f: f, path: path, hash: sha1.New()}, nil
}

// Write appends p to the file. On a short or failed write, it attempts to
// truncate the file back to the length it had before this call so the file
// never contains a half-written frame; if that truncate itself fails the
// writer is marked corrupt and every subsequent call fails immediately.
// The running SHA-1 and byte count advance only when all of p is written.
func (w *Writer) Write(p []byte) (int, error) {
	if w.corrupt {
		return 0, ErrCorrupt
	}
	preLen := w.written

	n, err := w.f.Write(p)
	if err == nil && n == len(p) {
		w.hash.Write(p)
		w.written += int64(n)
		return n, nil
	}

	if n > 0 {
		if terr := w.f.Truncate(preLen); terr != nil {
			w.corrupt = true
			return n, fmt.Errorf("samplefile: write failed (%v) and could not truncate back (%v), writer corrupt", err, terr)
		}
	}
	if err == nil {
		err = fmt.Errorf("samplefile: short write (%d of %d bytes)", n, len(p))
	} else {
		err = fmt.Errorf("samplefile: write: %w", err)
	}
	return 0, err
}

// Written returns the number of bytes successfully written so far.
func (w *Writer) Written() int64 { return w.written }

// Close fsyncs and closes the file, returning the streaming SHA-1 digest.
// The caller must treat the UUID as still reserved until this returns with
// a nil error, and schedule an unlink otherwise.
func (w *Writer) Close() ([20]byte, error) {
	var digest [20]byte
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return digest, fmt.Errorf("samplefile: fsync %s: %w", w.path, err)
	}
	if err := w.f.Close(); err != nil {
		return digest, fmt.Errorf("samplefile: close %s: %w", w.path, err)
	}
	copy(digest[:], w.hash.Sum(nil))
	return digest, nil
}

// Abort closes the underlying file without syncing, for the failure paths
// where the caller is about to unlink it anyway.
func (w *Writer) Abort() {
	w.f.Close()
}
