// Package retention implements the per-camera deletion loop that enforces
// each camera's retain_bytes quota before a new recording is opened.
// Grounded on the metadata store's delete_recordings/mark_sample_files_deleted
// pair (pkg/db) and the sample-file unlink+fsync discipline the pipeline
// package shares with it.
package retention

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"nvr/pkg/db"
	"nvr/pkg/samplefile"
)

// Rotate enforces camera's retain_bytes quota: it deletes the oldest
// recordings until total_sample_file_bytes no longer exceeds the quota,
// then unlinks their sample files and fsyncs sampleDir.
//
// Unlink failures are non-fatal: the affected UUIDs remain reserved
// (state=deleting) and are returned in the stillReserved result so the
// caller can retry before the next rotation, per the metadata store's
// recovery guarantee that a UUID never becomes reusable while its file
// might still exist.
func Rotate(store *db.DB, sampleDir string, camera db.CameraRow) (stillReserved []uuid.UUID, err error) {
	bytesNeeded := camera.TotalSampleFileBytes - camera.RetainBytes
	if bytesNeeded <= 0 {
		return nil, nil
	}

	var toDelete []db.OldestSampleFile
	var accumulated int64
	if listErr := store.ListOldestSampleFiles(camera.UUID, func(f db.OldestSampleFile) bool {
		toDelete = append(toDelete, f)
		accumulated += f.SampleFileBytes
		return accumulated < bytesNeeded
	}); listErr != nil {
		return nil, fmt.Errorf("retention: list oldest sample files: %w", listErr)
	}
	if len(toDelete) == 0 {
		return nil, nil
	}

	if delErr := store.DeleteRecordings(toDelete); delErr != nil {
		return nil, fmt.Errorf("retention: delete recordings: %w", delErr)
	}

	var unlinked []uuid.UUID
	var failed []uuid.UUID
	for _, row := range toDelete {
		path := samplefile.Path(sampleDir, row.SampleFileUUID)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			failed = append(failed, row.SampleFileUUID)
			continue
		}
		unlinked = append(unlinked, row.SampleFileUUID)
	}

	if len(unlinked) > 0 {
		if syncErr := fsyncDir(sampleDir); syncErr != nil {
			return failed, fmt.Errorf("retention: fsync sample directory: %w", syncErr)
		}
		if markErr := store.MarkSampleFilesDeleted(unlinked); markErr != nil {
			return failed, fmt.Errorf("retention: mark sample files deleted: %w", markErr)
		}
	}

	if len(failed) > 0 {
		return failed, fmt.Errorf("retention: %d sample file(s) could not be unlinked", len(failed))
	}
	return nil, nil
}

// CleanupStartupReservations clears every leftover reservation found on
// startup: the file is unlinked if present and the reservation is cleared,
// regardless of whether it was left in the writing or deleting state.
func CleanupStartupReservations(store *db.DB, sampleDir string) error {
	ids, err := store.ListReservedSampleFiles()
	if err != nil {
		return fmt.Errorf("retention: list reserved sample files: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	synced := false
	for _, id := range ids {
		path := samplefile.Path(sampleDir, id)
		if rmErr := os.Remove(path); rmErr == nil {
			synced = true
		} else if !os.IsNotExist(rmErr) {
			return fmt.Errorf("retention: unlink leftover reservation %v: %w", id, rmErr)
		}
	}
	if synced {
		if err := fsyncDir(sampleDir); err != nil {
			return fmt.Errorf("retention: fsync sample directory: %w", err)
		}
	}

	return store.ClearReservations(ids)
}

func fsyncDir(dir string) error {
	f, err := os.Open(filepath.Clean(dir))
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
