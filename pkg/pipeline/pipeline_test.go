package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"nvr/pkg/camera"
	"nvr/pkg/db"
)

// extradata that is NOT Annex-B (no start code), so BuildSampleEntry treats
// it as an already-built AVCDecoderConfigurationRecord and needTransform
// stays false, keeping packet payloads opaque for these tests.
var testExtradata = []byte{0x01, 0x42, 0x00, 0x1e, 0xff, 0xe1, 0x00, 0x00}

// fakeSource replays a scripted packet sequence, then blocks until ctx is
// canceled so Worker.Run exits cleanly at the end of a test.
type fakeSource struct {
	mu      sync.Mutex
	packets []Packet
	pos     int
	openErr error
	closed  bool
}

func (f *fakeSource) Open(ctx context.Context) ([]byte, uint16, uint16, error) {
	if f.openErr != nil {
		return nil, 0, 0, f.openErr
	}
	return testExtradata, 640, 480, nil
}

// ReadPacket polls for newly appended packets rather than blocking outright,
// so a test can append more packets after the worker has drained the
// initial batch and is waiting for the next one.
func (f *fakeSource) ReadPacket(ctx context.Context) (Packet, error) {
	for {
		f.mu.Lock()
		if f.pos < len(f.packets) {
			pkt := f.packets[f.pos]
			f.pos++
			f.mu.Unlock()
			return pkt, nil
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeSource) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// fakeClock lets a test pin or advance wall-clock time deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestWorker(t *testing.T, store *db.DB, source VideoSource, clock Clock) (*Worker, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	_, err := store.InsertCamera(db.CameraRow{UUID: id, ShortName: "cam1", RetainBytes: 1 << 30})
	if err != nil {
		t.Fatalf("insert camera: %v", err)
	}
	w := &Worker{
		Camera:    camera.Config{UUID: id, ShortName: "cam1", RetainBytes: 1 << 30},
		Store:     store,
		SampleDir: t.TempDir(),
		Source:    source,
		Clock:     clock,
		Index:     0,
		N:         1,
	}
	return w, id
}

func openTestStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(t.TempDir() + "/nvr.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func listRecordings(t *testing.T, store *db.DB, camID uuid.UUID) []db.RecordingRow {
	t.Helper()
	var recs []db.RecordingRow
	err := store.ListCameraRecordings(camID, 0, 1<<62, func(rec db.RecordingRow, _ db.VideoSampleEntryRow) bool {
		recs = append(recs, rec)
		return true
	})
	if err != nil {
		t.Fatalf("list recordings: %v", err)
	}
	return recs
}

func runWorkerUntilIdle(w *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Give runOnce a moment to drain the scripted packets and block on
	// ReadPacket, then cancel so Run finalizes and returns.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
}

func TestWorkerCommitsRecordingOnShutdown(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	source := &fakeSource{packets: []Packet{
		{PTS: 0, DTS: 0, IsKey: true, Payload: []byte{0xde, 0xad, 0xbe, 0xef}},
		{PTS: 3000, DTS: 3000, IsKey: false, Payload: []byte{0x01, 0x02}},
		{PTS: 6000, DTS: 6000, IsKey: false, Payload: []byte{0x03}},
	}}
	w, id := newTestWorker(t, store, source, clock)

	runWorkerUntilIdle(w)

	if _, ok := store.GetCamera(id); !ok {
		t.Fatalf("camera not found")
	}
	recs := listRecordings(t, store, id)
	if len(recs) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(recs))
	}
	if recs[0].VideoSamples != 3 {
		t.Fatalf("expected 3 video samples, got %d", recs[0].VideoSamples)
	}
	if recs[0].VideoSyncSamples != 1 {
		t.Fatalf("expected 1 sync sample, got %d", recs[0].VideoSyncSamples)
	}
	if recs[0].Duration90k != 6000 {
		t.Fatalf("expected duration 6000 (last sample flushed with 0 duration on finalize), got %d", recs[0].Duration90k)
	}
}

func TestWorkerDiscardsLeadingNonKeyPackets(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	source := &fakeSource{packets: []Packet{
		{PTS: 0, DTS: 0, IsKey: false, Payload: []byte{0x01}},
		{PTS: 3000, DTS: 3000, IsKey: false, Payload: []byte{0x02}},
		{PTS: 6000, DTS: 6000, IsKey: true, Payload: []byte{0x03}},
		{PTS: 9000, DTS: 9000, IsKey: false, Payload: []byte{0x04}},
	}}
	w, id := newTestWorker(t, store, source, clock)

	runWorkerUntilIdle(w)

	recs := listRecordings(t, store, id)
	if len(recs) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(recs))
	}
	if recs[0].VideoSamples != 2 {
		t.Fatalf("expected the 2 leading non-key packets discarded, leaving 2 samples, got %d", recs[0].VideoSamples)
	}
}

func TestSessionHandlePacketRejectsBFrames(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	w, _ := newTestWorker(t, store, &fakeSource{}, clock)
	s := &session{w: w}

	err := s.handlePacket(clock, Packet{PTS: 10, DTS: 5, IsKey: true})
	if err == nil {
		t.Fatalf("expected an error for pts != dts")
	}
}

func TestSessionHandlePacketRejectsNonMonotonicPTS(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	w, _ := newTestWorker(t, store, &fakeSource{}, clock)
	s := &session{w: w}

	entry := &db.VideoSampleEntryRow{SHA1: [20]byte{9}, Width: 640, Height: 480, Data: []byte{0x00}}
	if err := store.InsertVideoSampleEntry(entry); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	s.videoSampleEntryID = entry.ID

	if err := s.handlePacket(clock, Packet{PTS: 3000, DTS: 3000, IsKey: true, Payload: []byte{1}}); err != nil {
		t.Fatalf("first packet: %v", err)
	}
	if err := s.handlePacket(clock, Packet{PTS: 3000, DTS: 3000, IsKey: false, Payload: []byte{2}}); err == nil {
		t.Fatalf("expected an error for a non-increasing pts")
	}
	s.finalizeOnExit()
}

func TestWorkerRotatesOnBoundaryAtNextKeyframe(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	source := &fakeSource{packets: []Packet{
		{PTS: 0, DTS: 0, IsKey: true, Payload: []byte{0x01}},
		{PTS: 3000, DTS: 3000, IsKey: false, Payload: []byte{0x02}},
	}}
	w, id := newTestWorker(t, store, source, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	// Cross the worker's rotation boundary, then feed a second keyframe so
	// handlePacket's boundary check fires and closes the first recording
	// before opening a second one.
	clock.Advance(61 * time.Second)
	source.mu.Lock()
	source.packets = append(source.packets, Packet{PTS: 6000, DTS: 6000, IsKey: true, Payload: []byte{0x03}})
	source.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	recs := listRecordings(t, store, id)
	if len(recs) != 2 {
		t.Fatalf("expected rotation to split the stream into 2 recordings, got %d", len(recs))
	}
}

func TestWorkerRetriesAfterOpenError(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	source := &fakeSource{openErr: errors.New("connection refused")}
	w, _ := newTestWorker(t, store, source, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done // Run must return promptly once ctx is canceled, even mid-retry-sleep.
}

func TestNextRotationBoundaryStaggersByWorkerIndex(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC)

	b0 := nextRotationBoundary(now, 0, 4)
	b1 := nextRotationBoundary(now, 1, 4)
	b2 := nextRotationBoundary(now, 2, 4)
	b3 := nextRotationBoundary(now, 3, 4)

	minuteStart := now.Truncate(time.Minute)
	if want := minuteStart.Add(60 * time.Second); b0 != want {
		t.Fatalf("worker 0: expected %v, got %v", want, b0)
	}
	if want := minuteStart.Add(15 * time.Second); b1 != want {
		t.Fatalf("worker 1: expected %v, got %v", want, b1)
	}
	if want := minuteStart.Add(30 * time.Second); b2 != want {
		t.Fatalf("worker 2: expected %v, got %v", want, b2)
	}
	if want := minuteStart.Add(45 * time.Second); b3 != want {
		t.Fatalf("worker 3: expected %v, got %v", want, b3)
	}
}

func TestNextRotationBoundaryAlwaysAfterNow(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 59, 500_000_000, time.UTC)
	b := nextRotationBoundary(now, 0, 1)
	if !b.After(now) {
		t.Fatalf("expected boundary %v to be after now %v", b, now)
	}
}

// TestWorkerRunMarksWaitGroupDoneOnExit checks that Run marks WG done once
// its context is canceled, so a caller blocking on WG.Wait() is released.
// It does not check the ordering of Done against Run's finalize path.
func TestWorkerRunMarksWaitGroupDoneOnExit(t *testing.T) {
	store := openTestStore(t)
	source := &fakeSource{packets: []Packet{{PTS: 0, DTS: 0, IsKey: true, Payload: []byte{0x41}}}}
	w, _ := newTestWorker(t, store, source, &fakeClock{now: time.Now()})

	var wg sync.WaitGroup
	w.WG = &wg
	wg.Add(1)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatalf("WG.Wait() did not return after Run's context was canceled")
	}
}
