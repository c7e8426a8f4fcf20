// Package db is the metadata store: a single-process-locked relational
// database holding cameras, deduplicated video sample entries, recordings,
// and a reservation table of sample-file UUIDs. Grounded on pkg/log's
// database/sql + mattn/go-sqlite3 idiom (PRAGMA user_version schema
// versioning, explicit transactions), generalized with
// a process-wide mutex since this store additionally maintains in-memory
// aggregates that must stay consistent with every write. Queries are issued
// as parameterized SQL on each call; no statement is prepared ahead of time.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver.
)

const schemaVersion = 1

const maxRecordingDuration90k = 5 * 60 * 90000

// Errors returned by store operations.
var (
	ErrNotFound             = errors.New("db: not found")
	ErrSHA1Collision        = errors.New("db: sha1 collision with different dimensions")
	ErrReservationNotFound  = errors.New("db: reservation not found")
	ErrInvalidDuration      = errors.New("db: duration_90k must be >= 0")
	ErrInvalidTimeRange     = errors.New("db: end_time_90k < start_time_90k")
	ErrReservationNotWriting = errors.New("db: reservation not in writing state")
)

// ReservationState is the lifecycle state of a reserved sample-file UUID.
type ReservationState string

// Reservation states.
const (
	StateWriting ReservationState = "writing"
	StateDeleting ReservationState = "deleting"
)

// CameraRow is a camera's stable configuration plus its cached aggregates.
type CameraRow struct {
	ID          int64
	UUID        uuid.UUID
	ShortName   string
	Description string
	Host        string
	Username    string
	Password    string
	MainRTSPPath string
	RetainBytes int64

	MinStartTime90k     int64 // -1 when no recordings.
	MaxEndTime90k       int64 // -1 when no recordings.
	TotalDuration90k    int64
	TotalSampleFileBytes int64
	DayDuration90k      map[string]int64 // YYYY-MM-DD (local) -> duration_90k.
}

// VideoSampleEntryRow is a deduplicated codec-init blob.
type VideoSampleEntryRow struct {
	ID     int64
	SHA1   [20]byte
	Width  uint16
	Height uint16
	Data   []byte
}

// RecordingRow is one finished (or in-progress-but-committed) recording.
type RecordingRow struct {
	ID                int64
	CameraID          int64
	SampleFileUUID    uuid.UUID
	SampleFileSHA1    [20]byte
	VideoSampleEntryID int64
	StartTime90k      int64
	Duration90k       int64
	LocalTimeDelta90k int64
	SampleFileBytes   int64
	VideoSamples      int64
	VideoSyncSamples  int64
	VideoIndex        []byte
}

// EndTime90k returns the recording's end time.
func (r RecordingRow) EndTime90k() int64 { return r.StartTime90k + r.Duration90k }

// OldestSampleFile is one row from list_oldest_sample_files.
type OldestSampleFile struct {
	RecordingID     int64
	SampleFileUUID  uuid.UUID
	StartTime90k    int64
	Duration90k     int64
	SampleFileBytes int64
}

// DB is the metadata store. Exported methods that touch the database or
// the caches acquire mu: this core targets a single writer process and
// chooses a coarse lock over finer-grained row locking. UpsertCamera
// releases mu between its lookup and its insert or update, and Close takes
// no lock.
type DB struct {
	mu sync.Mutex

	sql *sql.DB

	cameras        map[int64]*CameraRow
	camerasByUUID  map[uuid.UUID]int64
	sampleEntries  map[int64]*VideoSampleEntryRow
	sampleEntriesBySHA1 map[[20]byte]int64

	nextSampleEntryID int64
}

// Open opens (creating if necessary) the database at path and loads the
// in-memory caches described in the metadata store's "on first open"
// sequence: cameras, their aggregates, and every video sample entry.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	if err := migrate(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: enable foreign keys: %w", err)
	}

	d := &DB{
		sql:                 sqlDB,
		cameras:             map[int64]*CameraRow{},
		camerasByUUID:       map[uuid.UUID]int64{},
		sampleEntries:       map[int64]*VideoSampleEntryRow{},
		sampleEntriesBySHA1: map[[20]byte]int64{},
	}

	if err := d.loadCameras(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := d.loadSampleEntries(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := d.computeAggregates(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return d, nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

func migrate(sqlDB *sql.DB) error {
	row := sqlDB.QueryRow("PRAGMA user_version;")
	var version int
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("db: read user_version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}
	if version != 0 {
		return fmt.Errorf("db: unsupported schema version %d", version)
	}

	const schema = `
CREATE TABLE cameras (
	id INTEGER PRIMARY KEY,
	uuid TEXT NOT NULL UNIQUE,
	short_name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL,
	host TEXT NOT NULL,
	username TEXT NOT NULL,
	password TEXT NOT NULL,
	main_rtsp_path TEXT NOT NULL,
	retain_bytes INTEGER NOT NULL
);
CREATE TABLE video_sample_entry (
	id INTEGER PRIMARY KEY,
	sha1 BLOB NOT NULL UNIQUE,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	data BLOB NOT NULL
);
CREATE TABLE recording (
	id INTEGER PRIMARY KEY,
	camera_id INTEGER NOT NULL REFERENCES cameras (id),
	sample_file_uuid BLOB NOT NULL UNIQUE,
	sample_file_sha1 BLOB NOT NULL,
	video_sample_entry_id INTEGER NOT NULL REFERENCES video_sample_entry (id),
	start_time_90k INTEGER NOT NULL,
	duration_90k INTEGER NOT NULL,
	local_time_delta_90k INTEGER NOT NULL,
	sample_file_bytes INTEGER NOT NULL,
	video_samples INTEGER NOT NULL,
	video_sync_samples INTEGER NOT NULL,
	video_index BLOB NOT NULL
);
CREATE INDEX recording_camera_start ON recording (camera_id, start_time_90k);
CREATE TABLE reserved_sample_files (
	uuid BLOB PRIMARY KEY,
	state TEXT NOT NULL
);
`
	if _, err := sqlDB.Exec(schema); err != nil {
		return fmt.Errorf("db: create schema: %w", err)
	}
	if _, err := sqlDB.Exec(fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion)); err != nil {
		return fmt.Errorf("db: set schema version: %w", err)
	}
	return nil
}

func (d *DB) loadCameras() error {
	rows, err := d.sql.Query(`SELECT id, uuid, short_name, description, host,
		username, password, main_rtsp_path, retain_bytes FROM cameras`)
	if err != nil {
		return fmt.Errorf("db: load cameras: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c := &CameraRow{DayDuration90k: map[string]int64{}}
		var uuidText string
		if err := rows.Scan(&c.ID, &uuidText, &c.ShortName, &c.Description,
			&c.Host, &c.Username, &c.Password, &c.MainRTSPPath, &c.RetainBytes); err != nil {
			return fmt.Errorf("db: scan camera: %w", err)
		}
		id, err := uuid.Parse(uuidText)
		if err != nil {
			return fmt.Errorf("db: camera uuid: %w", err)
		}
		c.UUID = id
		d.cameras[c.ID] = c
		d.camerasByUUID[id] = c.ID
	}
	return rows.Err()
}

func (d *DB) loadSampleEntries() error {
	rows, err := d.sql.Query(`SELECT id, sha1, width, height, data FROM video_sample_entry`)
	if err != nil {
		return fmt.Errorf("db: load video sample entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e := &VideoSampleEntryRow{}
		var sha1Blob []byte
		if err := rows.Scan(&e.ID, &sha1Blob, &e.Width, &e.Height, &e.Data); err != nil {
			return fmt.Errorf("db: scan video sample entry: %w", err)
		}
		copy(e.SHA1[:], sha1Blob)
		d.sampleEntries[e.ID] = e
		d.sampleEntriesBySHA1[e.SHA1] = e.ID
		if e.ID >= d.nextSampleEntryID {
			d.nextSampleEntryID = e.ID + 1
		}
	}
	return rows.Err()
}

// computeAggregates performs the one allowed O(#recordings) scan, left-
// joining the recording index to seed every camera's cached aggregates.
func (d *DB) computeAggregates() error {
	for _, c := range d.cameras {
		c.MinStartTime90k = -1
		c.MaxEndTime90k = -1
		c.TotalDuration90k = 0
		c.TotalSampleFileBytes = 0
		c.DayDuration90k = map[string]int64{}
	}

	rows, err := d.sql.Query(`SELECT camera_id, start_time_90k, duration_90k,
		sample_file_bytes FROM recording`)
	if err != nil {
		return fmt.Errorf("db: compute aggregates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cameraID, start, duration, bytes int64
		if err := rows.Scan(&cameraID, &start, &duration, &bytes); err != nil {
			return fmt.Errorf("db: scan aggregate row: %w", err)
		}
		c, ok := d.cameras[cameraID]
		if !ok {
			continue
		}
		applyRecordingToAggregates(c, start, duration, bytes, 1)
	}
	return rows.Err()
}

func applyRecordingToAggregates(c *CameraRow, start, duration, bytes int64, sign int64) {
	end := start + duration
	if sign > 0 {
		if c.MinStartTime90k == -1 || start < c.MinStartTime90k {
			c.MinStartTime90k = start
		}
		if end > c.MaxEndTime90k {
			c.MaxEndTime90k = end
		}
	}
	c.TotalDuration90k += sign * duration
	c.TotalSampleFileBytes += sign * bytes

	day := dayOf(start)
	c.DayDuration90k[day] += sign * duration
	if c.DayDuration90k[day] == 0 {
		delete(c.DayDuration90k, day)
	}
}

func dayOf(start90k int64) string {
	t := time.Unix(start90k/90000, (start90k%90000)*1000000/90)
	return t.Local().Format("2006-01-02")
}

// ListCameras invokes cb with every cached camera row, under the lock.
func (d *DB) ListCameras(cb func(CameraRow)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.cameras {
		cb(*c)
	}
}

// GetCamera returns the cached row for the camera with the given UUID.
func (d *DB) GetCamera(id uuid.UUID) (CameraRow, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cid, ok := d.camerasByUUID[id]
	if !ok {
		return CameraRow{}, false
	}
	return *d.cameras[cid], true
}

// GetVideoSampleEntry returns the cached sample entry row by id.
func (d *DB) GetVideoSampleEntry(id int64) (VideoSampleEntryRow, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.sampleEntries[id]
	if !ok {
		return VideoSampleEntryRow{}, false
	}
	return *e, true
}

// InsertVideoSampleEntry deduplicates by SHA-1, filling entry.ID on
// success. An entry sharing a SHA-1 with different dimensions is an error.
func (d *DB) InsertVideoSampleEntry(entry *VideoSampleEntryRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existingID, ok := d.sampleEntriesBySHA1[entry.SHA1]; ok {
		existing := d.sampleEntries[existingID]
		if existing.Width != entry.Width || existing.Height != entry.Height {
			return ErrSHA1Collision
		}
		entry.ID = existingID
		return nil
	}

	res, err := d.sql.Exec(`INSERT INTO video_sample_entry (sha1, width, height, data)
		VALUES (?, ?, ?, ?)`, entry.SHA1[:], entry.Width, entry.Height, entry.Data)
	if err != nil {
		return fmt.Errorf("db: insert video sample entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("db: insert video sample entry: %w", err)
	}

	entry.ID = id
	stored := *entry
	d.sampleEntries[id] = &stored
	d.sampleEntriesBySHA1[entry.SHA1] = id
	return nil
}

// ListReservedSampleFiles returns every currently reserved UUID.
func (d *DB) ListReservedSampleFiles() ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.sql.Query(`SELECT uuid FROM reserved_sample_files`)
	if err != nil {
		return nil, fmt.Errorf("db: list reserved sample files: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("db: scan reserved sample file: %w", err)
		}
		id, err := uuid.FromBytes(blob)
		if err != nil {
			return nil, fmt.Errorf("db: reserved sample file uuid: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ReserveSampleFiles reserves n fresh UUIDs in the "writing" state, in one
// transaction.
func (d *DB) ReserveSampleFiles(n int) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.sql.Begin()
	if err != nil {
		return nil, fmt.Errorf("db: reserve sample files: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		id := uuid.New()
		if _, err := tx.Exec(`INSERT INTO reserved_sample_files (uuid, state) VALUES (?, ?)`,
			id[:], string(StateWriting)); err != nil {
			return nil, fmt.Errorf("db: reserve sample file: %w", err)
		}
		ids[i] = id
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("db: reserve sample files: commit: %w", err)
	}
	return ids, nil
}

// InsertRecording commits a finished recording: in one transaction, it
// deletes the "writing" reservation for the recording's sample-file UUID
// (erroring if absent), inserts the recording row, and bumps the owning
// camera's cached aggregates.
func (d *DB) InsertRecording(r *RecordingRow) error {
	if r.Duration90k < 0 {
		return ErrInvalidDuration
	}
	if r.EndTime90k() < r.StartTime90k {
		return ErrInvalidTimeRange
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("db: insert recording: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`DELETE FROM reserved_sample_files WHERE uuid = ? AND state = ?`,
		r.SampleFileUUID[:], string(StateWriting))
	if err != nil {
		return fmt.Errorf("db: delete writing reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrReservationNotWriting
	}

	insertRes, err := tx.Exec(`INSERT INTO recording (camera_id, sample_file_uuid,
		sample_file_sha1, video_sample_entry_id, start_time_90k, duration_90k,
		local_time_delta_90k, sample_file_bytes, video_samples, video_sync_samples,
		video_index) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CameraID, r.SampleFileUUID[:], r.SampleFileSHA1[:], r.VideoSampleEntryID,
		r.StartTime90k, r.Duration90k, r.LocalTimeDelta90k, r.SampleFileBytes,
		r.VideoSamples, r.VideoSyncSamples, r.VideoIndex)
	if err != nil {
		return fmt.Errorf("db: insert recording: %w", err)
	}
	id, err := insertRes.LastInsertId()
	if err != nil {
		return fmt.Errorf("db: insert recording: %w", err)
	}
	r.ID = id

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db: insert recording: commit: %w", err)
	}

	if c, ok := d.cameras[r.CameraID]; ok {
		applyRecordingToAggregates(c, r.StartTime90k, r.Duration90k, r.SampleFileBytes, 1)
	}
	return nil
}

// ListCameraRecordings lists recordings for a camera overlapping
// [start90k, end90k), descending by end time, resolving each row's sample
// entry for width/height.
func (d *DB) ListCameraRecordings(camera uuid.UUID, start90k, end90k int64,
	cb func(RecordingRow, VideoSampleEntryRow) bool,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cameraID, ok := d.camerasByUUID[camera]
	if !ok {
		return ErrNotFound
	}

	rows, err := d.sql.Query(`SELECT id, camera_id, sample_file_uuid, sample_file_sha1,
		video_sample_entry_id, start_time_90k, duration_90k, local_time_delta_90k,
		sample_file_bytes, video_samples, video_sync_samples, video_index
		FROM recording WHERE camera_id = ? AND start_time_90k >= ? - ? AND start_time_90k < ?
		ORDER BY start_time_90k + duration_90k DESC`,
		cameraID, start90k, int64(maxRecordingDuration90k), end90k)
	if err != nil {
		return fmt.Errorf("db: list camera recordings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return err
		}
		if r.EndTime90k() <= start90k || r.StartTime90k >= end90k {
			continue
		}
		entry := d.sampleEntries[r.VideoSampleEntryID]
		if entry == nil {
			continue
		}
		if !cb(r, *entry) {
			break
		}
	}
	return rows.Err()
}

// ListMP4Recordings lists recordings for a camera overlapping
// [start90k, end90k), ascending by start time, for MP4 assembly.
func (d *DB) ListMP4Recordings(camera uuid.UUID, start90k, end90k int64,
	cb func(RecordingRow, VideoSampleEntryRow) bool,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cameraID, ok := d.camerasByUUID[camera]
	if !ok {
		return ErrNotFound
	}

	rows, err := d.sql.Query(`SELECT id, camera_id, sample_file_uuid, sample_file_sha1,
		video_sample_entry_id, start_time_90k, duration_90k, local_time_delta_90k,
		sample_file_bytes, video_samples, video_sync_samples, video_index
		FROM recording WHERE camera_id = ? AND start_time_90k >= ? - ? AND start_time_90k < ?
		ORDER BY start_time_90k ASC`,
		cameraID, start90k, int64(maxRecordingDuration90k), end90k)
	if err != nil {
		return fmt.Errorf("db: list mp4 recordings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return err
		}
		if r.EndTime90k() <= start90k || r.StartTime90k >= end90k {
			continue
		}
		entry := d.sampleEntries[r.VideoSampleEntryID]
		if entry == nil {
			continue
		}
		if !cb(r, *entry) {
			break
		}
	}
	return rows.Err()
}

func scanRecording(rows *sql.Rows) (RecordingRow, error) {
	var r RecordingRow
	var uuidBlob, sha1Blob []byte
	if err := rows.Scan(&r.ID, &r.CameraID, &uuidBlob, &sha1Blob, &r.VideoSampleEntryID,
		&r.StartTime90k, &r.Duration90k, &r.LocalTimeDelta90k, &r.SampleFileBytes,
		&r.VideoSamples, &r.VideoSyncSamples, &r.VideoIndex); err != nil {
		return RecordingRow{}, fmt.Errorf("db: scan recording: %w", err)
	}
	id, err := uuid.FromBytes(uuidBlob)
	if err != nil {
		return RecordingRow{}, fmt.Errorf("db: recording sample file uuid: %w", err)
	}
	r.SampleFileUUID = id
	copy(r.SampleFileSHA1[:], sha1Blob)
	return r, nil
}

// ListOldestSampleFiles yields a camera's recordings oldest-first, for the
// retention loop.
func (d *DB) ListOldestSampleFiles(camera uuid.UUID, cb func(OldestSampleFile) bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cameraID, ok := d.camerasByUUID[camera]
	if !ok {
		return ErrNotFound
	}

	rows, err := d.sql.Query(`SELECT id, sample_file_uuid, start_time_90k, duration_90k,
		sample_file_bytes FROM recording WHERE camera_id = ? ORDER BY start_time_90k ASC`,
		cameraID)
	if err != nil {
		return fmt.Errorf("db: list oldest sample files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f OldestSampleFile
		var uuidBlob []byte
		if err := rows.Scan(&f.RecordingID, &uuidBlob, &f.StartTime90k, &f.Duration90k,
			&f.SampleFileBytes); err != nil {
			return fmt.Errorf("db: scan oldest sample file: %w", err)
		}
		id, err := uuid.FromBytes(uuidBlob)
		if err != nil {
			return fmt.Errorf("db: oldest sample file uuid: %w", err)
		}
		f.SampleFileUUID = id
		if !cb(f) {
			break
		}
	}
	return rows.Err()
}

// DeleteRecordings deletes the given recording rows and reserves their
// sample files for deletion, in one transaction, then recomputes affected
// cameras' min/max aggregates.
func (d *DB) DeleteRecordings(rows []OldestSampleFile) error {
	if len(rows) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("db: delete recordings: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	affectedCameras := map[int64]bool{}
	for _, row := range rows {
		var cameraID int64
		if err := tx.QueryRow(`SELECT camera_id FROM recording WHERE id = ?`, row.RecordingID).
			Scan(&cameraID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("db: delete recording %d: %w", row.RecordingID, ErrNotFound)
			}
			return fmt.Errorf("db: delete recording: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM recording WHERE id = ?`, row.RecordingID); err != nil {
			return fmt.Errorf("db: delete recording: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO reserved_sample_files (uuid, state) VALUES (?, ?)`,
			row.SampleFileUUID[:], string(StateDeleting)); err != nil {
			return fmt.Errorf("db: reserve deleting sample file: %w", err)
		}

		if c, ok := d.cameras[cameraID]; ok {
			applyRecordingToAggregates(c, row.StartTime90k, row.Duration90k, row.SampleFileBytes, -1)
		}
		affectedCameras[cameraID] = true
	}

	for cameraID := range affectedCameras {
		if err := recomputeMinMax(tx, d.cameras[cameraID]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db: delete recordings: commit: %w", err)
	}
	return nil
}

func recomputeMinMax(tx *sql.Tx, c *CameraRow) error {
	if c == nil {
		return nil
	}
	var minStart sql.NullInt64
	if err := tx.QueryRow(`SELECT MIN(start_time_90k) FROM recording WHERE camera_id = ?`,
		c.ID).Scan(&minStart); err != nil {
		return fmt.Errorf("db: recompute min start: %w", err)
	}
	var maxEnd sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(start_time_90k + duration_90k) FROM recording
		WHERE camera_id = ? AND start_time_90k >= (
			SELECT COALESCE(MAX(start_time_90k), 0) - ? FROM recording WHERE camera_id = ?
		)`, c.ID, int64(maxRecordingDuration90k), c.ID).Scan(&maxEnd); err != nil {
		return fmt.Errorf("db: recompute max end: %w", err)
	}

	if minStart.Valid {
		c.MinStartTime90k = minStart.Int64
	} else {
		c.MinStartTime90k = -1
	}
	if maxEnd.Valid {
		c.MaxEndTime90k = maxEnd.Int64
	} else {
		c.MaxEndTime90k = -1
	}
	return nil
}

// MarkSampleFilesDeleted clears the "deleting" reservation for each uuid,
// in one transaction. Errors if any uuid is not present.
func (d *DB) MarkSampleFilesDeleted(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("db: mark sample files deleted: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		res, err := tx.Exec(`DELETE FROM reserved_sample_files WHERE uuid = ? AND state = ?`,
			id[:], string(StateDeleting))
		if err != nil {
			return fmt.Errorf("db: mark sample file deleted: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("db: mark sample file %v deleted: %w", id, ErrReservationNotFound)
		}
	}

	return tx.Commit()
}

// ClearReservations deletes each reservation regardless of state. Used on
// startup to garbage-collect leftover reservations of either state.
func (d *DB) ClearReservations(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("db: clear reservations: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM reserved_sample_files WHERE uuid = ?`, id[:]); err != nil {
			return fmt.Errorf("db: clear reservation: %w", err)
		}
	}
	return tx.Commit()
}

// InsertCamera adds a camera row (used by config reconciliation) and seeds
// its in-memory aggregates.
func (d *DB) InsertCamera(c CameraRow) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.sql.Exec(`INSERT INTO cameras (uuid, short_name, description, host,
		username, password, main_rtsp_path, retain_bytes) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UUID.String(), c.ShortName, c.Description, c.Host, c.Username, c.Password,
		c.MainRTSPPath, c.RetainBytes)
	if err != nil {
		return 0, fmt.Errorf("db: insert camera: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("db: insert camera: %w", err)
	}

	c.ID = id
	c.MinStartTime90k = -1
	c.MaxEndTime90k = -1
	c.DayDuration90k = map[string]int64{}
	stored := c
	d.cameras[id] = &stored
	d.camerasByUUID[c.UUID] = id
	return id, nil
}

// UpsertCamera reconciles one camera's stable configuration against the
// store: a new UUID is inserted, an existing one has its mutable fields
// (short name, description, RTSP credentials, retain_bytes) updated in
// place. Cached aggregates are untouched.
func (d *DB) UpsertCamera(c CameraRow) (int64, error) {
	d.mu.Lock()
	id, ok := d.camerasByUUID[c.UUID]
	d.mu.Unlock()
	if !ok {
		return d.InsertCamera(c)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.sql.Exec(`UPDATE cameras SET short_name = ?, description = ?, host = ?,
		username = ?, password = ?, main_rtsp_path = ?, retain_bytes = ? WHERE id = ?`,
		c.ShortName, c.Description, c.Host, c.Username, c.Password, c.MainRTSPPath, c.RetainBytes, id)
	if err != nil {
		return 0, fmt.Errorf("db: update camera: %w", err)
	}

	existing := d.cameras[id]
	existing.ShortName = c.ShortName
	existing.Description = c.Description
	existing.Host = c.Host
	existing.Username = c.Username
	existing.Password = c.Password
	existing.MainRTSPPath = c.MainRTSPPath
	existing.RetainBytes = c.RetainBytes
	return id, nil
}
