package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/bus"
)

const defaultAckWait = 30 * time.Second

// Bridge consumes bus traffic and routes it to viewer rooms. Plate
// detections arrive through a durable JetStream consumer so a gateway
// restart replays what it missed; the rest is live-only core NATS.
type Bridge struct {
	nc  *nats.Conn
	hub *Hub

	subs []*nats.Subscription
}

// NewBridge creates a bus bridge feeding the given hub.
func NewBridge(nc *nats.Conn, hub *Hub) *Bridge {
	return &Bridge{
		nc:   nc,
		hub:  hub,
		subs: make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions and blocks until ctx ends.
func (b *Bridge) Start(ctx context.Context) error {
	sub1, err := b.nc.Subscribe(bus.SubjectEventPrefix+"*", b.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	b.subs = append(b.subs, sub1)

	sub2, err := b.nc.Subscribe(bus.SubjectRecordingSaved, b.handleRecordingSaved)
	if err != nil {
		return fmt.Errorf("subscribe recording notifications: %w", err)
	}
	b.subs = append(b.subs, sub2)

	js, err := b.nc.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}
	if err := bus.EnsurePlatesStream(js); err != nil {
		return err
	}

	sub3, err := js.Subscribe(bus.SubjectPlatesData, b.handlePlatesData,
		nats.Durable("socket-gateway"),
		nats.ManualAck(),
		nats.AckWait(defaultAckWait),
	)
	if err != nil {
		return fmt.Errorf("subscribe plates stream: %w", err)
	}
	b.subs = append(b.subs, sub3)

	log.Info().
		Int("subscriptions", len(b.subs)).
		Msg("Bus bridge started")

	<-ctx.Done()

	for _, sub := range b.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleEvent routes one live telemetry event to the room of its scope:
// camera-scoped events by camera id, device-scoped events by LPR id. Only
// viewers subscribed to that room receive it.
func (b *Bridge) handleEvent(msg *nats.Msg) {
	kind := strings.TrimPrefix(msg.Subject, bus.SubjectEventPrefix)

	var scope struct {
		CameraID int64 `json:"camera_id"`
		LPRID    int64 `json:"lpr_id"`
	}
	if err := json.Unmarshal(msg.Data, &scope); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal event")
		return
	}

	switch kind {
	case KindLive:
		b.hub.Broadcast(RoomName(scope.CameraID, KindLive), kind, msg.Data)
	case KindHeartbeat, KindResources, KindCameraConnection:
		b.hub.Broadcast(RoomName(scope.LPRID, kind), kind, msg.Data)
	default:
		log.Debug().Str("subject", msg.Subject).Msg("Ignoring unknown event kind")
	}
}

// handlePlatesData routes one detection from the durable stream.
func (b *Bridge) handlePlatesData(msg *nats.Msg) {
	var scope struct {
		CameraID int64 `json:"camera_id"`
	}
	if err := json.Unmarshal(msg.Data, &scope); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal plates data")
		msg.Term()
		return
	}

	b.hub.Broadcast(RoomName(scope.CameraID, KindPlatesData), "plates_data", msg.Data)
	msg.Ack()
}

// handleRecordingSaved tells viewers in the camera's recording room that a
// finished recording is available.
func (b *Bridge) handleRecordingSaved(msg *nats.Msg) {
	var scope struct {
		CameraID int64 `json:"camera_id"`
	}
	if err := json.Unmarshal(msg.Data, &scope); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal recording notification")
		return
	}

	b.hub.Broadcast(RoomName(scope.CameraID, KindRecording), "recording_saved", msg.Data)
}
