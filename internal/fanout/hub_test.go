package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(sid string, buffer int) *Client {
	return &Client{
		sid:  sid,
		send: make(chan outEvent, buffer),
		done: make(chan struct{}),
	}
}

func drain(c *Client) []outEvent {
	var out []outEvent
	for {
		select {
		case ev := <-c.send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestRoomName(t *testing.T) {
	assert.Equal(t, "camera-4-plates_data", RoomName(4, "plates_data"))
	assert.Equal(t, "camera-12-live", RoomName(12, "live"))
}

func TestHubBroadcastReachesOnlyRoomMembers(t *testing.T) {
	h := NewHub()
	member := newTestClient("member", 8)
	outsider := newTestClient("outsider", 8)

	room := RoomName(4, "plates_data")
	h.Join(room, member)

	h.Broadcast(room, "plates_data", []byte(`{"camera_id":4}`))

	got := drain(member)
	require.Len(t, got, 1)
	assert.Equal(t, "plates_data", got[0].Event)
	assert.Empty(t, drain(outsider))
}

func TestHubDeviceRoomScopesByLPR(t *testing.T) {
	h := NewHub()
	watcher := newTestClient("watcher", 8)
	other := newTestClient("other", 8)
	h.Join(RoomName(1, "heartbeat"), watcher)
	h.Join(RoomName(2, "heartbeat"), other)

	h.Broadcast(RoomName(1, "heartbeat"), "heartbeat", []byte(`{"lpr_id":1}`))

	assert.Len(t, drain(watcher), 1)
	assert.Empty(t, drain(other))
}

func TestHubSlowClientDoesNotBlockOthers(t *testing.T) {
	h := NewHub()
	slow := newTestClient("slow", 1)
	fast := newTestClient("fast", 8)
	room := RoomName(4, "plates_data")
	h.Join(room, slow)
	h.Join(room, fast)

	// Fill the slow client's buffer, then broadcast twice more.
	slow.send <- outEvent{Event: "filler"}
	h.Broadcast(room, "plates_data", []byte(`{}`))
	h.Broadcast(room, "plates_data", []byte(`{}`))

	assert.Len(t, drain(fast), 2)
	assert.Len(t, drain(slow), 1) // only the filler survived
}

func TestHubLeaveReportsEmptyRoom(t *testing.T) {
	h := NewHub()
	a := newTestClient("a", 8)
	b := newTestClient("b", 8)
	room := RoomName(4, "live")
	h.Join(room, a)
	h.Join(room, b)

	assert.False(t, h.Leave(room, a))
	assert.True(t, h.Leave(room, b))
	assert.Equal(t, 0, h.Members(room))
}

func TestHubUnregisterLeavesAllRooms(t *testing.T) {
	h := NewHub()
	c := newTestClient("c", 8)
	h.Join(RoomName(4, "live"), c)
	h.Join(RoomName(5, "plates_data"), c)

	h.Unregister(c)

	assert.Equal(t, 0, h.Members(RoomName(4, "live")))
	assert.Equal(t, 0, h.Members(RoomName(5, "plates_data")))

	h.Broadcast(RoomName(4, "live"), "live", []byte(`{}`))
	assert.Empty(t, drain(c))
}

func TestClientSendAfterDone(t *testing.T) {
	c := newTestClient("c", 0)
	close(c.done)
	assert.False(t, c.Send("plates_data", []byte(`{}`)))
}
