// Package web is the HTTP surface: a camera index, per-camera overview and
// recording list, the assembled-MP4 view route, and a camera-reconciliation
// endpoint. Built around a handler-factory style (`func Foo(deps...)
// http.Handler`, `http.Error` on every failure path), JSON-only — no
// templating or authentication, both left to a reverse proxy/front end.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"nvr/pkg/assembler"
	"nvr/pkg/camera"
	"nvr/pkg/db"
	"nvr/pkg/log"
	"nvr/pkg/rangeserve"
)

const jsonContentType = "application/json"

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", jsonContentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// cameraSummary is the JSON projection of a camera row served by the index
// and the per-camera overview.
type cameraSummary struct {
	UUID                 uuid.UUID        `json:"uuid"`
	ShortName            string           `json:"shortName"`
	Description          string           `json:"description"`
	RetainBytes          int64            `json:"retainBytes"`
	MinStartTime90k      int64            `json:"minStartTime90k"`
	MaxEndTime90k        int64            `json:"maxEndTime90k"`
	TotalDuration90k     int64            `json:"totalDuration90k"`
	TotalSampleFileBytes int64            `json:"totalSampleFileBytes"`
	DayDuration90k       map[string]int64 `json:"dayDuration90k"`
}

func toCameraSummary(c db.CameraRow) cameraSummary {
	return cameraSummary{
		UUID:                 c.UUID,
		ShortName:            c.ShortName,
		Description:          c.Description,
		RetainBytes:          c.RetainBytes,
		MinStartTime90k:      c.MinStartTime90k,
		MaxEndTime90k:        c.MaxEndTime90k,
		TotalDuration90k:     c.TotalDuration90k,
		TotalSampleFileBytes: c.TotalSampleFileBytes,
		DayDuration90k:       c.DayDuration90k,
	}
}

// CameraIndex serves GET / and GET /api/cameras: a JSON array of every
// camera's summary. HTML rendering of this listing is left to an external
// front end.
func CameraIndex(store *db.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		var summaries []cameraSummary
		store.ListCameras(func(c db.CameraRow) {
			summaries = append(summaries, toCameraSummary(c))
		})
		writeJSON(w, summaries)
	})
}

// cameraUUIDFromPath extracts the {uuid} path segment of
// /cameras/{uuid}/... and anything after it.
func cameraUUIDFromPath(prefix, path string) (uuid.UUID, string, error) {
	rest := strings.TrimPrefix(path, prefix)
	seg, tail, _ := strings.Cut(rest, "/")
	id, err := uuid.Parse(seg)
	if err != nil {
		return uuid.UUID{}, "", fmt.Errorf("invalid camera uuid: %w", err)
	}
	return id, tail, nil
}

// CameraOverview serves GET /cameras/{uuid}/: the single camera's summary.
func CameraOverview(store *db.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		id, _, err := cameraUUIDFromPath("/cameras/", r.URL.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c, ok := store.GetCamera(id)
		if !ok {
			http.Error(w, "camera not found", http.StatusNotFound)
			return
		}
		writeJSON(w, toCameraSummary(c))
	})
}

// recordingSummary is the JSON projection of one recording row served by
// the recordings-list route.
type recordingSummary struct {
	StartTime90k    int64 `json:"startTime90k"`
	EndTime90k      int64 `json:"endTime90k"`
	SampleFileBytes int64 `json:"sampleFileBytes"`
	VideoSamples    int64 `json:"videoSamples"`
}

// CameraRecordings serves GET /cameras/{uuid}/recordings?start_time_90k=A&end_time_90k=B.
func CameraRecordings(store *db.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		id, _, err := cameraUUIDFromPath("/cameras/", r.URL.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		start, end, err := parseTimeRange(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var rows []recordingSummary
		listErr := store.ListCameraRecordings(id, start, end, func(rec db.RecordingRow, _ db.VideoSampleEntryRow) bool {
			rows = append(rows, recordingSummary{
				StartTime90k:    rec.StartTime90k,
				EndTime90k:      rec.EndTime90k(),
				SampleFileBytes: rec.SampleFileBytes,
				VideoSamples:    rec.VideoSamples,
			})
			return true
		})
		if listErr != nil {
			http.Error(w, listErr.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, rows)
	})
}

func parseTimeRange(r *http.Request) (start, end int64, err error) {
	q := r.URL.Query()
	start, err = strconv.ParseInt(q.Get("start_time_90k"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start_time_90k: %w", err)
	}
	end, err = strconv.ParseInt(q.Get("end_time_90k"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end_time_90k: %w", err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("end_time_90k must be > start_time_90k")
	}
	return start, end, nil
}

// CameraViewMP4 serves GET /cameras/{uuid}/view.mp4?start_time_90k=A&end_time_90k=B[&ts=true]:
// it queries the recordings overlapping the window, builds one assembler
// Segment per recording, assembles a VirtualFile, and streams it through
// the range-serving driver.
func CameraViewMP4(store *db.DB, sampleDir string, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		id, _, err := cameraUUIDFromPath("/cameras/", r.URL.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		start, end, err := parseTimeRange(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		includeSubtitles := r.URL.Query().Get("ts") == "true"

		var segments []assembler.Segment
		listErr := store.ListMP4Recordings(id, start, end, func(rec db.RecordingRow, _ db.VideoSampleEntryRow) bool {
			relStart := int64(0)
			if start > rec.StartTime90k {
				relStart = start - rec.StartTime90k
			}
			relEnd := rec.Duration90k
			if end < rec.EndTime90k() {
				relEnd = end - rec.StartTime90k
			}
			segments = append(segments, assembler.Segment{
				Recording:   rec,
				RelStart90k: relStart,
				RelEnd90k:   relEnd,
			})
			return true
		})
		if listErr != nil {
			http.Error(w, listErr.Error(), http.StatusInternalServerError)
			return
		}
		if len(segments) == 0 {
			http.Error(w, "no recordings in range", http.StatusNotFound)
			return
		}

		vf, err := assembler.Assemble(store, sampleDir, segments, includeSubtitles)
		if err != nil {
			logger.Error().Src("web").Msgf("assemble view.mp4: %v", err)
			http.Error(w, "see logs for details", http.StatusInternalServerError)
			return
		}
		defer vf.Release()

		rangeserve.ServeFile(w, r, vf)
	})
}

// LogQuery serves GET /api/log/query?limit=N[&levels=16,24][&sources=pipeline,retention][&cameras=cam1][&time=T]:
// a page of retained log entries from the bbolt-backed log store, newest
// first (or before time, if given), filtered by level/source/camera.
func LogQuery(logStore *log.DB) http.Handler { //nolint:funlen
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		query := r.URL.Query()

		limitStr := query.Get("limit")
		if limitStr == "" {
			http.Error(w, "limit missing", http.StatusBadRequest)
			return
		}
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
			return
		}

		var levels []log.Level
		if levelsCSV := query.Get("levels"); levelsCSV != "" {
			for _, s := range strings.Split(levelsCSV, ",") {
				levelInt, err := strconv.Atoi(s)
				if err != nil {
					http.Error(w, fmt.Sprintf("invalid levels: %v %v", levelsCSV, err), http.StatusBadRequest)
					return
				}
				levels = append(levels, log.Level(levelInt))
			}
		}

		var sources []string
		if sourcesCSV := query.Get("sources"); sourcesCSV != "" {
			sources = strings.Split(sourcesCSV, ",")
		}

		var cameras []string
		if camerasCSV := query.Get("cameras"); camerasCSV != "" {
			cameras = strings.Split(camerasCSV, ",")
		}

		var t log.UnixMillisecond
		if timeStr := query.Get("time"); timeStr != "" {
			timeInt, err := strconv.ParseUint(timeStr, 10, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid time: %v", err), http.StatusBadRequest)
				return
			}
			t = log.UnixMillisecond(timeInt)
		}

		logs, err := logStore.Query(log.Query{
			Levels:  levels,
			Time:    t,
			Sources: sources,
			Cameras: cameras,
			Limit:   limit,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, logs)
	})
}

// cameraSetRequest is the JSON body of POST /api/camera/set.
type cameraSetRequest struct {
	UUID         uuid.UUID `json:"uuid"`
	ShortName    string    `json:"shortName"`
	Description  string    `json:"description"`
	Host         string    `json:"host"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	MainRTSPPath string    `json:"mainRtspPath"`
	RetainBytes  int64     `json:"retainBytes"`
}

// CameraSet serves POST /api/camera/set: the camera-reconciliation
// endpoint, unauthenticated by design — a reverse proxy is expected to
// gate admin routes before they reach this process.
func CameraSet(store *db.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		var req cameraSetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		cfg := camera.Config{
			UUID:         req.UUID,
			ShortName:    req.ShortName,
			Description:  req.Description,
			Host:         req.Host,
			Username:     req.Username,
			Password:     req.Password,
			MainRTSPPath: req.MainRTSPPath,
			RetainBytes:  req.RetainBytes,
		}
		if err := cfg.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		_, err := store.UpsertCamera(db.CameraRow{
			UUID:         cfg.UUID,
			ShortName:    cfg.ShortName,
			Description:  cfg.Description,
			Host:         cfg.Host,
			Username:     cfg.Username,
			Password:     cfg.Password,
			MainRTSPPath: cfg.MainRTSPPath,
			RetainBytes:  cfg.RetainBytes,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
