// Package pipeline is the per-camera recording worker: it pulls packets
// from an input stream, validates them, rotates recordings on a staggered
// schedule, and commits finished recordings to the metadata store. Runs a
// retry/sleep/ctx-done loop around a pull-based packet source rather than
// a spawned subprocess, since this core's video source is an external
// collaborator.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nvr/pkg/camera"
	"nvr/pkg/db"
	"nvr/pkg/h264"
	"nvr/pkg/log"
	"nvr/pkg/retention"
	"nvr/pkg/samplefile"
	"nvr/pkg/videoindex"
)

const rotationInterval = 60 * time.Second

// timescale90k is the fixed timebase every input stream must declare.
const timescale90k = 90000

const maxRecordingDuration90k = 5 * 60 * timescale90k

// Packet is one encoded video access unit as delivered by the external
// demuxer: PTS/DTS in the stream's declared timebase, a keyframe flag, and
// the payload (Annex-B or AVC framing per the source's declared extradata).
type Packet struct {
	PTS     int64
	DTS     int64
	IsKey   bool
	Payload []byte
}

// Clock supplies wall-clock time; abstracted so tests can control rotation
// boundaries deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the system wall clock.
var RealClock Clock = realClock{}

// VideoSource is the external collaborator supplying demuxed packets: a
// 90kHz-timebase H.264 stream with codec extradata and width/height.
type VideoSource interface {
	// Open (re)establishes the input. Returns extradata, width, height.
	Open(ctx context.Context) (extradata []byte, width, height uint16, err error)
	// ReadPacket blocks for the next packet.
	ReadPacket(ctx context.Context) (Packet, error)
	// Close releases the input.
	Close()
}

// Worker is one camera's recording pipeline.
type Worker struct {
	Camera    camera.Config
	Store     *db.DB
	SampleDir string
	Source    VideoSource
	Logger    *log.Logger
	Clock     Clock

	// WG, when set, is marked done when Run returns. Process shutdown
	// waits on it so that ctx cancellation is never observed as "drained"
	// until every worker has finalized its in-progress recording.
	WG *sync.WaitGroup

	// Index and N are this worker's position in the fleet-wide rotation
	// stagger: worker i of n rotates i*60/n seconds past each UTC minute.
	Index, N int
}

// Run drives the worker until ctx is canceled. It never returns an error;
// all failures are logged and retried per the input-stream error policy.
func (w *Worker) Run(ctx context.Context) {
	if w.WG != nil {
		defer w.WG.Done()
	}

	clock := w.Clock
	if clock == nil {
		clock = RealClock
	}

	for ctx.Err() == nil {
		if err := w.runOnce(ctx, clock); err != nil {
			w.logf("%v: %v", w.Camera.ShortName, err)
			select {
			case <-ctx.Done():
			case <-time.After(1 * time.Second):
			}
		}
	}
}

func (w *Worker) logf(format string, v ...interface{}) {
	if w.Logger == nil {
		return
	}
	w.Logger.Error().Src("pipeline").Camera(w.Camera.ShortName).Msgf(format, v...)
}

// session holds the state of one open-input run: the in-progress recording,
// its encoder and writer, and the pending unlink/mark-deleted queues.
type session struct {
	w *Worker

	videoSampleEntryID int64
	needTransform       bool

	rec            *db.RecordingRow
	enc            *videoindex.Encoder
	writer         *samplefile.Writer
	nextBoundary   time.Time
	sawFirstKey    bool
	havePending    bool
	pendingBytes   int32
	pendingIsKey   bool
	prevPTS        int64
	havePrevPTS    bool
	initialPTS     int64
	startWall90k   int64

	toUnlink       []uuid.UUID
	toMarkDeleted  []uuid.UUID
}

func (w *Worker) runOnce(ctx context.Context, clock Clock) error {
	extradata, width, height, err := w.Source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer w.Source.Close()

	entry, err := h264.BuildSampleEntry(extradata, width, height)
	if err != nil {
		return fmt.Errorf("build sample entry: %w", err)
	}

	row := &db.VideoSampleEntryRow{SHA1: entry.SHA1, Width: width, Height: height, Data: entry.Data}
	if err := w.Store.InsertVideoSampleEntry(row); err != nil {
		return fmt.Errorf("insert video sample entry: %w", err)
	}

	s := &session{w: w, videoSampleEntryID: row.ID, needTransform: entry.NeedTransform}
	defer s.finalizeOnExit()

	for ctx.Err() == nil {
		pkt, err := w.Source.ReadPacket(ctx)
		if err != nil {
			return fmt.Errorf("read packet: %w", err)
		}
		if err := s.handlePacket(clock, pkt); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) handlePacket(clock Clock, pkt Packet) error {
	if pkt.PTS != pkt.DTS {
		return fmt.Errorf("pipeline: pts != dts (b-frames unsupported)")
	}
	if s.havePrevPTS && pkt.PTS <= s.prevPTS {
		return fmt.Errorf("pipeline: non-monotonic pts")
	}

	now := clock.Now()

	if s.writer != nil && !now.Before(s.nextBoundary) && pkt.IsKey {
		// Orderly rotation: the last sample's duration is the pts gap to
		// this keyframe.
		if err := s.closeRecording(int32(pkt.PTS - s.prevPTS)); err != nil {
			return err
		}
	}

	if !s.sawFirstKey {
		if !pkt.IsKey {
			return nil // discard leading non-key packets.
		}
		s.sawFirstKey = true
	}

	if s.writer == nil {
		if _, err := retention.Rotate(s.w.Store, s.w.SampleDir, mustCamera(s.w)); err != nil {
			s.w.logf("retention: %v", err)
		}
		if err := s.openRecording(clock, pkt); err != nil {
			return err
		}
	}

	if s.havePrevPTS {
		duration := int32(pkt.PTS - s.prevPTS)
		if err := s.flushPendingSample(duration); err != nil {
			return err
		}
	}

	payload := pkt.Payload
	if s.needTransform {
		transformed, err := h264.TransformAnnexBToAVCC(payload)
		if err != nil {
			return fmt.Errorf("transform sample: %w", err)
		}
		payload = transformed
	}
	if _, err := s.writer.Write(payload); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}

	s.pendingBytes = int32(len(payload))
	s.pendingIsKey = pkt.IsKey
	s.havePending = true
	s.prevPTS = pkt.PTS
	s.havePrevPTS = true
	return nil
}

func (s *session) flushPendingSample(duration int32) error {
	if !s.havePending {
		return nil
	}
	if err := s.enc.AddSample(duration, s.pendingBytes, s.pendingIsKey); err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	return nil
}

func (s *session) openRecording(clock Clock, firstKey Packet) error {
	ids, err := s.w.Store.ReserveSampleFiles(1)
	if err != nil {
		return fmt.Errorf("reserve sample file: %w", err)
	}
	id := ids[0]

	writer, err := samplefile.Create(s.w.SampleDir, id)
	if err != nil {
		return fmt.Errorf("create sample file: %w", err)
	}

	cam, ok := s.w.Store.GetCamera(s.w.Camera.UUID)
	if !ok {
		writer.Abort()
		return fmt.Errorf("camera %v not found in store", s.w.Camera.UUID)
	}

	wallNow90k := clock.Now().UnixNano() / 1000 * 90 / 1000
	s.initialPTS = firstKey.PTS
	s.startWall90k = wallNow90k - firstKey.PTS

	s.rec = &db.RecordingRow{
		CameraID:           cam.ID,
		SampleFileUUID:     id,
		VideoSampleEntryID: s.videoSampleEntryID,
		StartTime90k:       s.startWall90k,
		LocalTimeDelta90k:  wallNow90k - s.startWall90k,
	}
	s.enc = &videoindex.Encoder{}
	s.writer = writer
	s.havePrevPTS = false
	s.havePending = false
	s.nextBoundary = nextRotationBoundary(clock.Now(), s.w.Index, s.w.N)
	return nil
}

// closeRecording finalizes the in-progress recording: it flushes the last
// buffered sample (with the given final duration), closes the writer,
// commits the recording row, and drains the pending unlink/mark-deleted
// queues.
func (s *session) closeRecording(finalDuration int32) error {
	if s.writer == nil {
		return nil
	}
	if err := s.flushPendingSample(finalDuration); err != nil {
		return err
	}

	sha1, err := s.writer.Close()
	if err != nil {
		s.toUnlink = append(s.toUnlink, s.rec.SampleFileUUID)
	} else if err := fsyncSampleDir(s.w.SampleDir); err != nil {
		return fmt.Errorf("fsync sample directory: %w", err)
	}

	rec := s.rec
	rec.SampleFileSHA1 = sha1
	rec.SampleFileBytes = s.enc.SampleFileBytes
	rec.VideoSamples = s.enc.VideoSamples
	rec.VideoSyncSamples = s.enc.VideoSyncSamples
	rec.Duration90k = s.enc.DurationTotal
	rec.VideoIndex = s.enc.Bytes()

	if err == nil {
		if insertErr := s.w.Store.InsertRecording(rec); insertErr != nil {
			s.toUnlink = append(s.toUnlink, rec.SampleFileUUID)
		}
	}

	if len(s.toUnlink) > 0 {
		unlinked := drainUnlink(s.w.SampleDir, s.toUnlink)
		s.toUnlink = nil
		if len(unlinked) > 0 {
			if syncErr := fsyncSampleDir(s.w.SampleDir); syncErr != nil {
				s.w.logf("fsync after unlink: %v", syncErr)
			}
			if markErr := s.w.Store.MarkSampleFilesDeleted(unlinked); markErr != nil {
				s.w.logf("mark sample files deleted: %v", markErr)
			}
		}
	}

	s.rec = nil
	s.enc = nil
	s.writer = nil
	s.sawFirstKey = false
	return nil
}

func (s *session) finalizeOnExit() {
	if s.writer == nil {
		return
	}
	if err := s.closeRecording(0); err != nil {
		s.w.logf("finalize on exit: %v", err)
	}
}

func mustCamera(w *Worker) db.CameraRow {
	c, _ := w.Store.GetCamera(w.Camera.UUID)
	return c
}

func nextRotationBoundary(now time.Time, index, n int) time.Time {
	if n <= 0 {
		n = 1
	}
	stagger := time.Duration(index) * rotationInterval / time.Duration(n)
	minuteStart := now.Truncate(time.Minute)
	boundary := minuteStart.Add(stagger)
	for !boundary.After(now) {
		boundary = boundary.Add(rotationInterval)
	}
	return boundary
}

func drainUnlink(dir string, ids []uuid.UUID) []uuid.UUID {
	var unlinked []uuid.UUID
	for _, id := range ids {
		if err := unlinkSampleFile(dir, id); err == nil {
			unlinked = append(unlinked, id)
		}
	}
	return unlinked
}
