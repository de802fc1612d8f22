package device

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpr-fleet/fleet-server/internal/models"
	"github.com/alpr-fleet/fleet-server/pkg/lprwire"
)

func TestRecorderLifecycle(t *testing.T) {
	store := &stubStore{}
	r, err := NewRecorder(store, testRecordingConfig(t))
	require.NoError(t, err)

	var notifyMu sync.Mutex
	var notified []*models.Record
	r.Notify = func(rec *models.Record) {
		notifyMu.Lock()
		defer notifyMu.Unlock()
		notified = append(notified, rec)
	}

	ctx := context.Background()
	frame := []byte("jpegframe")
	for i := 0; i < 3; i++ {
		require.NoError(t, r.HandleFrame(ctx, 1, lprwire.RecordingFrame{CameraID: 4, Frame: frame}))
	}
	require.NoError(t, r.HandleFrame(ctx, 1, lprwire.RecordingFrame{CameraID: 4, EndRecording: true}))

	store.mu.Lock()
	require.Len(t, store.records, 1)
	rec := store.records[0]
	store.mu.Unlock()

	assert.Equal(t, int64(4), rec.CameraID)
	assert.Contains(t, rec.Title, "4_")
	assert.Contains(t, rec.Title, ".mjpeg")

	data, err := os.ReadFile(rec.VideoURL)
	require.NoError(t, err)
	assert.Len(t, data, 3*len(frame))

	require.Eventually(t, func() bool {
		notifyMu.Lock()
		defer notifyMu.Unlock()
		return len(notified) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRecorderStopWithoutActiveRecording(t *testing.T) {
	store := &stubStore{}
	r, err := NewRecorder(store, testRecordingConfig(t))
	require.NoError(t, err)

	require.NoError(t, r.HandleFrame(context.Background(), 1, lprwire.RecordingFrame{CameraID: 4, EndRecording: true}))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.records)
}

func TestRecorderCloseForFinalizesOnlyThatDevice(t *testing.T) {
	store := &stubStore{}
	r, err := NewRecorder(store, testRecordingConfig(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.HandleFrame(ctx, 1, lprwire.RecordingFrame{CameraID: 4, Frame: []byte("a")}))
	require.NoError(t, r.HandleFrame(ctx, 2, lprwire.RecordingFrame{CameraID: 7, Frame: []byte("b")}))

	// Device 1 disconnects; device 2's recording must keep running.
	r.CloseFor(1)

	store.mu.Lock()
	require.Len(t, store.records, 1)
	assert.Equal(t, int64(4), store.records[0].CameraID)
	store.mu.Unlock()

	require.NoError(t, r.HandleFrame(ctx, 2, lprwire.RecordingFrame{CameraID: 7, Frame: []byte("b")}))
	require.NoError(t, r.HandleFrame(ctx, 2, lprwire.RecordingFrame{CameraID: 7, EndRecording: true}))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.records, 2)
	assert.Equal(t, int64(7), store.records[1].CameraID)

	data, err := os.ReadFile(store.records[1].VideoURL)
	require.NoError(t, err)
	assert.Len(t, data, 2)
}

func TestRecorderCloseForFinalizesAllCamerasOfDevice(t *testing.T) {
	store := &stubStore{}
	r, err := NewRecorder(store, testRecordingConfig(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.HandleFrame(ctx, 1, lprwire.RecordingFrame{CameraID: 4, Frame: []byte("a")}))
	require.NoError(t, r.HandleFrame(ctx, 1, lprwire.RecordingFrame{CameraID: 5, Frame: []byte("b")}))

	r.CloseFor(1)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.records, 2)
}

func TestRecorderSeparateFilesPerCamera(t *testing.T) {
	store := &stubStore{}
	r, err := NewRecorder(store, testRecordingConfig(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.HandleFrame(ctx, 1, lprwire.RecordingFrame{CameraID: 4, Frame: []byte("a")}))
	require.NoError(t, r.HandleFrame(ctx, 1, lprwire.RecordingFrame{CameraID: 5, Frame: []byte("b")}))
	require.NoError(t, r.HandleFrame(ctx, 1, lprwire.RecordingFrame{CameraID: 4, EndRecording: true}))
	require.NoError(t, r.HandleFrame(ctx, 1, lprwire.RecordingFrame{CameraID: 5, EndRecording: true}))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.records, 2)
	assert.NotEqual(t, store.records[0].VideoURL, store.records[1].VideoURL)
}
