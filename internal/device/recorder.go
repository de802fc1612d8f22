package device

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/config"
	"github.com/alpr-fleet/fleet-server/internal/models"
	"github.com/alpr-fleet/fleet-server/internal/storage"
	"github.com/alpr-fleet/fleet-server/pkg/lprwire"
)

// Recorder captures recording frames per camera into MJPEG files and
// persists a Record row when the device signals end of recording. One
// Recorder is shared by every session, so recordings are keyed by the
// owning device as well as the camera: tearing down one device must not
// touch the recordings of another.
type Recorder struct {
	store storage.Store
	cfg   config.RecordingConfig

	// Notify, when set, is called after a recording's metadata is stored.
	Notify func(*models.Record)

	mu     sync.Mutex
	active map[recordingKey]*activeRecording
}

type recordingKey struct {
	lprID    int64
	cameraID int64
}

type activeRecording struct {
	key       recordingKey
	startedAt time.Time
	path      string
	file      *os.File
	w         *bufio.Writer
	frames    int
}

// NewRecorder creates the recording directory if needed.
func NewRecorder(store storage.Store, cfg config.RecordingConfig) (*Recorder, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &Recorder{
		store:  store,
		cfg:    cfg,
		active: make(map[recordingKey]*activeRecording),
	}, nil
}

// HandleFrame appends one frame to the camera's active recording, opening a
// new file on the first frame. A frame flagged end_recording finalizes the
// file and stores its metadata; its own frame bytes, if any, are written
// first.
func (r *Recorder) HandleFrame(ctx context.Context, lprID int64, body lprwire.RecordingFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := recordingKey{lprID: lprID, cameraID: body.CameraID}
	rec := r.active[key]
	if rec == nil && body.EndRecording && len(body.Frame) == 0 {
		// Stop signal without an active recording: nothing to finalize.
		return nil
	}

	if rec == nil {
		var err error
		if rec, err = r.open(key); err != nil {
			return err
		}
		r.active[key] = rec
	}

	if len(body.Frame) > 0 {
		if _, err := rec.w.Write(body.Frame); err != nil {
			r.abort(rec)
			return fmt.Errorf("write frame: %w", err)
		}
		rec.frames++
		if rec.frames%r.cfg.FlushBatch == 0 {
			if err := rec.w.Flush(); err != nil {
				r.abort(rec)
				return fmt.Errorf("flush frames: %w", err)
			}
		}
	}

	if body.EndRecording {
		return r.finalize(ctx, rec)
	}
	return nil
}

func (r *Recorder) open(key recordingKey) (*activeRecording, error) {
	now := time.Now()
	name := fmt.Sprintf("%d_%s.mjpeg", key.cameraID, now.Format("20060102_150405"))
	path := filepath.Join(r.cfg.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	log.Info().Int64("camera_id", key.cameraID).Str("path", path).Msg("Recording started")
	return &activeRecording{
		key:       key,
		startedAt: now,
		path:      path,
		file:      f,
		w:         bufio.NewWriterSize(f, 1<<20),
	}, nil
}

// finalize closes the file and stores the recording metadata. Called with
// r.mu held.
func (r *Recorder) finalize(ctx context.Context, rec *activeRecording) error {
	delete(r.active, rec.key)

	if err := rec.w.Flush(); err != nil {
		rec.file.Close()
		return fmt.Errorf("flush recording: %w", err)
	}
	if err := rec.file.Close(); err != nil {
		return fmt.Errorf("close recording: %w", err)
	}

	record := &models.Record{
		Title:     filepath.Base(rec.path),
		CameraID:  rec.key.cameraID,
		Timestamp: rec.startedAt,
		VideoURL:  rec.path,
	}
	if err := r.store.CreateRecord(ctx, record); err != nil {
		return fmt.Errorf("store recording metadata: %w", err)
	}

	log.Info().Int64("camera_id", rec.key.cameraID).Str("path", rec.path).
		Int("frames", rec.frames).Msg("Recording finished")

	if r.Notify != nil {
		go r.Notify(record)
	}
	return nil
}

// abort discards a broken recording. The partial file stays on disk for
// inspection but no metadata row is written. Called with r.mu held.
func (r *Recorder) abort(rec *activeRecording) {
	delete(r.active, rec.key)
	rec.file.Close()
}

// CloseFor finalizes the active recordings of one device. Called when that
// device's session dies so its partial recordings are not lost; other
// devices' recordings keep running.
func (r *Recorder) CloseFor(lprID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, rec := range r.active {
		if key.lprID != lprID {
			continue
		}
		if err := r.finalize(context.Background(), rec); err != nil {
			log.Error().Err(err).Int64("camera_id", key.cameraID).Msg("Failed to finalize recording")
		}
	}
}
