package pipeline

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"nvr/pkg/samplefile"
)

func unlinkSampleFile(dir string, id uuid.UUID) error {
	err := os.Remove(samplefile.Path(dir, id))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func fsyncSampleDir(dir string) error {
	f, err := os.Open(filepath.Clean(dir))
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
