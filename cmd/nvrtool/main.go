// Command nvrtool inspects one recording's sample index: given a camera's
// metadata store and a recording's start_time_90k, it prints every sample's
// offset, duration, and keyframe flag. A small debugging script for the
// sample-index/sample-file format.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"

	"nvr/pkg/db"
	"nvr/pkg/videoindex"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dbPath := flag.String("db", "", "path to nvr.db")
	cameraUUID := flag.String("camera", "", "camera uuid")
	startTime90k := flag.Int64("start", 0, "recording start_time_90k")
	flag.Parse()

	if *dbPath == "" || *cameraUUID == "" {
		flag.Usage()
		return fmt.Errorf("nvrtool: -db and -camera are required")
	}

	store, err := db.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("nvrtool: open store: %w", err)
	}
	defer store.Close()

	id, err := uuid.Parse(*cameraUUID)
	if err != nil {
		return fmt.Errorf("nvrtool: parse camera uuid: %w", err)
	}

	var found bool
	err = store.ListMP4Recordings(id, *startTime90k, *startTime90k+1, func(rec db.RecordingRow, _ db.VideoSampleEntryRow) bool {
		if rec.StartTime90k != *startTime90k {
			return true
		}
		found = true
		samples, decErr := videoindex.Decode(rec.VideoIndex)
		if decErr != nil {
			err = fmt.Errorf("nvrtool: decode video index: %w", decErr)
			return false
		}
		for i, s := range samples {
			fmt.Printf("%4d  pos=%-10d bytes=%-8d start90k=%-12d duration90k=%-8d key=%v\n",
				i, s.Pos, s.Bytes, s.Start90k, s.Duration90k, s.IsKey)
		}
		return false
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("nvrtool: no recording with start_time_90k=%d", *startTime90k)
	}
	return nil
}
