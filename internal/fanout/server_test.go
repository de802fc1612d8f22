package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpr-fleet/fleet-server/internal/auth"
	"github.com/alpr-fleet/fleet-server/internal/models"
	"github.com/alpr-fleet/fleet-server/internal/storage"
	"github.com/alpr-fleet/fleet-server/pkg/lprwire"
)

// stubStore implements only the camera lookups the gateway needs.
type stubStore struct {
	storage.Store

	cameras map[int64]*models.Camera
}

func (s *stubStore) GetCamera(ctx context.Context, id int64) (*models.Camera, error) {
	camera, ok := s.cameras[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return camera, nil
}

func (s *stubStore) ListCameras(ctx context.Context, lprID int64) ([]*models.Camera, error) {
	var out []*models.Camera
	for _, camera := range s.cameras {
		if camera.LPRID == lprID {
			out = append(out, camera)
		}
	}
	return out, nil
}

type stubPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *stubPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, append([]byte(nil), data...))
	return nil
}

func newViewerClient(sid string, claims *auth.Claims) *Client {
	return &Client{
		sid: sid,
		session: &Session{
			SID:       sid,
			Claims:    claims,
			ExpiresAt: time.Now().Add(time.Hour),
		},
		send: make(chan outEvent, 8),
		done: make(chan struct{}),
	}
}

func newTestGateway(store *stubStore) (*Gateway, *stubPublisher) {
	pub := &stubPublisher{}
	g := &Gateway{
		store:    store,
		nc:       pub,
		hub:      NewHub(),
		sessions: NewSessionManager(time.Hour),
	}
	return g, pub
}

func TestSubscribeDeniedOutsidePermittedGates(t *testing.T) {
	store := &stubStore{cameras: map[int64]*models.Camera{
		9: {BaseModel: models.BaseModel{ID: 9}, GateID: 7, LPRID: 3},
	}}
	g, pub := newTestGateway(store)

	viewer := newViewerClient("sid-1", &auth.Claims{
		PersonalNumber: "12345",
		UserType:       models.UserTypeViewer,
		GateIDs:        []int64{5},
	})
	g.sessions.Add(viewer.session)

	err := g.subscribe(viewer, clientRequest{Action: "subscribe", CameraID: 9, Kind: KindLive})
	assert.ErrorIs(t, err, ErrForbidden)

	// No room membership, no streaming command, no ack.
	assert.Equal(t, 0, g.hub.Members(RoomName(9, KindLive)))
	assert.Empty(t, pub.subjects)
	assert.Empty(t, drain(viewer))
}

func TestSubscribeJoinsRoomAndStartsStream(t *testing.T) {
	store := &stubStore{cameras: map[int64]*models.Camera{
		9: {BaseModel: models.BaseModel{ID: 9}, GateID: 5, LPRID: 3},
	}}
	g, pub := newTestGateway(store)

	viewer := newViewerClient("sid-1", &auth.Claims{
		PersonalNumber: "12345",
		UserType:       models.UserTypeViewer,
		GateIDs:        []int64{5},
	})
	g.sessions.Add(viewer.session)

	require.NoError(t, g.subscribe(viewer, clientRequest{Action: "subscribe", CameraID: 9, Kind: KindLive, Duration: 30}))

	assert.Equal(t, 1, g.hub.Members(RoomName(9, KindLive)))

	// The device owning the camera got the streaming command.
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "command.3", pub.subjects[0])

	var cmd lprwire.StreamingCommand
	require.NoError(t, json.Unmarshal(pub.payloads[0], &cmd))
	assert.Equal(t, KindLive, cmd.CommandType)
	assert.Equal(t, int64(9), cmd.CameraID)
	assert.Equal(t, 30, cmd.Duration)

	events := drain(viewer)
	require.Len(t, events, 1)
	assert.Equal(t, "subscribed", events[0].Event)
}

func TestSubscribePlatesDataNeedsNoStreamingCommand(t *testing.T) {
	store := &stubStore{cameras: map[int64]*models.Camera{
		9: {BaseModel: models.BaseModel{ID: 9}, GateID: 5, LPRID: 3},
	}}
	g, pub := newTestGateway(store)

	admin := newViewerClient("sid-2", &auth.Claims{
		PersonalNumber: "99999",
		UserType:       models.UserTypeAdmin,
	})
	g.sessions.Add(admin.session)

	require.NoError(t, g.subscribe(admin, clientRequest{Action: "subscribe", CameraID: 9, Kind: KindPlatesData}))

	assert.Equal(t, 1, g.hub.Members(RoomName(9, KindPlatesData)))
	assert.Empty(t, pub.subjects)
}

func TestSubscribeDeviceScopedKinds(t *testing.T) {
	store := &stubStore{cameras: map[int64]*models.Camera{
		9: {BaseModel: models.BaseModel{ID: 9}, GateID: 5, LPRID: 3},
	}}
	g, pub := newTestGateway(store)

	viewer := newViewerClient("sid-1", &auth.Claims{
		PersonalNumber: "12345",
		UserType:       models.UserTypeViewer,
		GateIDs:        []int64{5},
	})
	g.sessions.Add(viewer.session)

	// The camera_id field carries the device id for device-scoped kinds.
	require.NoError(t, g.subscribe(viewer, clientRequest{Action: "subscribe", CameraID: 3, Kind: KindHeartbeat}))
	assert.Equal(t, 1, g.hub.Members(RoomName(3, KindHeartbeat)))
	assert.Empty(t, pub.subjects)

	// A viewer with no camera on any permitted gate is refused.
	outsider := newViewerClient("sid-2", &auth.Claims{
		PersonalNumber: "54321",
		UserType:       models.UserTypeViewer,
		GateIDs:        []int64{8},
	})
	g.sessions.Add(outsider.session)

	err := g.subscribe(outsider, clientRequest{Action: "subscribe", CameraID: 3, Kind: KindResources})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, g.hub.Members(RoomName(3, KindResources)))
}

func TestSubscribeUnknownKind(t *testing.T) {
	g, _ := newTestGateway(&stubStore{})

	viewer := newViewerClient("sid-1", &auth.Claims{PersonalNumber: "12345", UserType: models.UserTypeAdmin})
	g.sessions.Add(viewer.session)

	err := g.subscribe(viewer, clientRequest{Action: "subscribe", CameraID: 9, Kind: "telemetry"})
	assert.ErrorIs(t, err, ErrBadKind)
}

func TestSubscribeExpiredSession(t *testing.T) {
	g, _ := newTestGateway(&stubStore{})

	viewer := newViewerClient("sid-1", &auth.Claims{PersonalNumber: "12345", UserType: models.UserTypeAdmin})
	// Session never added to the manager, as after eviction.

	err := g.subscribe(viewer, clientRequest{Action: "subscribe", CameraID: 9, Kind: KindLive})
	assert.ErrorIs(t, err, ErrSessionGone)
}

func TestBridgeRoutesEventsToScopedRooms(t *testing.T) {
	hub := NewHub()
	b := &Bridge{hub: hub}

	watcher := newTestClient("watcher", 8)
	other := newTestClient("other", 8)
	hub.Join(RoomName(3, KindHeartbeat), watcher)
	hub.Join(RoomName(4, KindHeartbeat), other)

	b.handleEvent(&nats.Msg{
		Subject: "socketio.heartbeat",
		Data:    []byte(`{"lpr_id":3,"messageType":"heartbeat"}`),
	})

	got := drain(watcher)
	require.Len(t, got, 1)
	assert.Equal(t, "heartbeat", got[0].Event)
	assert.Empty(t, drain(other), "device events must reach only that device's room")

	// Camera-scoped live frames go to the camera room.
	liveWatcher := newTestClient("live-watcher", 8)
	hub.Join(RoomName(9, KindLive), liveWatcher)

	b.handleEvent(&nats.Msg{
		Subject: "socketio.live",
		Data:    []byte(`{"camera_id":9,"live_image":"..."}`),
	})

	require.Len(t, drain(liveWatcher), 1)
	assert.Empty(t, drain(watcher))
}
