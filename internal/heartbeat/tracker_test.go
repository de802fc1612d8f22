package heartbeat

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV is an in-memory KV with per-key read failure injection.
type fakeKV struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	getErrs map[string]error
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		values:  make(map[string]string),
		ttls:    make(map[string]time.Duration),
		getErrs: make(map[string]error),
	}
}

func (f *fakeKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErrs[key]; err != nil {
		return "", false, err
	}
	val, ok := f.values[key]
	return val, ok, nil
}

func (f *fakeKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	delete(f.ttls, key)
	return nil
}

func (f *fakeKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.values {
		keys = append(keys, key)
	}
	for key := range f.getErrs {
		keys = append(keys, key)
	}
	return keys, nil
}

func (f *fakeKV) Close() error { return nil }

func (f *fakeKV) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok
}

func (f *fakeKV) ttl(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

func stamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func newTestTracker(kv KV, offline *[]int64) *Tracker {
	return &Tracker{
		kv:       kv,
		interval: 30 * time.Second,
		stale:    30 * time.Second,
		onOffline: func(lprID int64) {
			*offline = append(*offline, lprID)
		},
	}
}

func TestRecordHeartbeatSetsFourIntervalTTL(t *testing.T) {
	kv := newFakeKV()
	var offline []int64
	tr := newTestTracker(kv, &offline)

	require.NoError(t, tr.RecordHeartbeat(context.Background(), 7))

	assert.True(t, kv.has("heartbeat:7"))
	assert.Equal(t, 4*tr.interval, kv.ttl("heartbeat:7"))

	seen, err := tr.LastSeen(context.Background(), 7)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), seen, 2*time.Second)
}

func TestSweepReportsStaleDeviceOnce(t *testing.T) {
	kv := newFakeKV()
	var offline []int64
	tr := newTestTracker(kv, &offline)

	kv.values["heartbeat:7"] = stamp(time.Now().Add(-2 * time.Minute))

	tr.sweep(context.Background())
	require.Equal(t, []int64{7}, offline)
	assert.False(t, kv.has("heartbeat:7"), "reported key must be deleted")

	// The key is gone, so the next sweep has nothing to report.
	tr.sweep(context.Background())
	assert.Equal(t, []int64{7}, offline)
}

func TestSweepRefreshesFreshKeys(t *testing.T) {
	kv := newFakeKV()
	var offline []int64
	tr := newTestTracker(kv, &offline)

	kv.values["heartbeat:3"] = stamp(time.Now())

	tr.sweep(context.Background())

	assert.Empty(t, offline)
	assert.True(t, kv.has("heartbeat:3"))
	assert.Equal(t, 4*tr.interval, kv.ttl("heartbeat:3"))
}

func TestSweepToleratesPerKeyFailures(t *testing.T) {
	kv := newFakeKV()
	var offline []int64
	tr := newTestTracker(kv, &offline)

	kv.getErrs["heartbeat:1"] = errors.New("connection refused")
	kv.values["heartbeat:2"] = stamp(time.Now().Add(-2 * time.Minute))

	tr.sweep(context.Background())

	assert.Equal(t, []int64{2}, offline, "failure on one key must not abort the scan")
}

func TestSweepRemovesCorruptEntries(t *testing.T) {
	kv := newFakeKV()
	var offline []int64
	tr := newTestTracker(kv, &offline)

	kv.values["heartbeat:9"] = "not-a-timestamp"
	kv.values["heartbeat:bogus"] = stamp(time.Now().Add(-2 * time.Minute))

	tr.sweep(context.Background())

	assert.Empty(t, offline)
	assert.False(t, kv.has("heartbeat:9"))
	assert.False(t, kv.has("heartbeat:bogus"))
}
