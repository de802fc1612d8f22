package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/storage"
)

// CommandSender delivers a command payload to a connected device.
type CommandSender interface {
	SendCommand(lprID int64, data interface{}) error
}

// Subscriber handles bus traffic addressed to the device-facing process:
// command relay from the gateway and device settings request-reply.
type Subscriber struct {
	nc       *nats.Conn
	store    storage.Store
	registry CommandSender
	subs     []*nats.Subscription
}

// NewSubscriber creates a bus subscriber.
func NewSubscriber(nc *nats.Conn, store storage.Store, registry CommandSender) *Subscriber {
	return &Subscriber{
		nc:       nc,
		store:    store,
		registry: registry,
		subs:     make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions and blocks until ctx ends.
func (s *Subscriber) Start(ctx context.Context) error {
	sub1, err := s.nc.Subscribe(SubjectCommandPrefix+"*", s.handleCommand)
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	s.subs = append(s.subs, sub1)

	sub2, err := s.nc.Subscribe(SubjectSettingsRequest, s.handleSettingsRequest)
	if err != nil {
		return fmt.Errorf("subscribe settings requests: %w", err)
	}
	s.subs = append(s.subs, sub2)

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("Bus subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleCommand relays a command payload to the device named in the subject
// (command.{lpr_id}). The payload is signed at the session layer.
func (s *Subscriber) handleCommand(msg *nats.Msg) {
	idStr := strings.TrimPrefix(msg.Subject, SubjectCommandPrefix)
	lprID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		log.Error().Str("subject", msg.Subject).Msg("Malformed command subject")
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Error().Err(err).Int64("lpr_id", lprID).Msg("Failed to unmarshal command")
		return
	}

	if err := s.registry.SendCommand(lprID, payload); err != nil {
		log.Error().Err(err).Int64("lpr_id", lprID).Msg("Failed to deliver command")
		return
	}

	log.Info().Int64("lpr_id", lprID).Msg("Command delivered to device")
}

// handleSettingsRequest serves the current settings of one device over the
// bus: request {"lpr_id": N}, reply with the settings push payload. Replies
// go to the request's reply inbox when present, otherwise to
// alpr.settings.response.{id}.
func (s *Subscriber) handleSettingsRequest(msg *nats.Msg) {
	var req struct {
		LPRID int64 `json:"lpr_id"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal settings request")
		return
	}

	lpr, err := s.store.GetLPR(context.Background(), req.LPRID)
	if err != nil {
		log.Error().Err(err).Int64("lpr_id", req.LPRID).Msg("Failed to load settings")
		return
	}

	data, err := json.Marshal(lpr.ExportSettings())
	if err != nil {
		log.Error().Err(err).Int64("lpr_id", req.LPRID).Msg("Failed to marshal settings")
		return
	}

	if msg.Reply != "" {
		if err := msg.Respond(data); err != nil {
			log.Error().Err(err).Int64("lpr_id", req.LPRID).Msg("Failed to reply settings")
		}
		return
	}

	subject := fmt.Sprintf(SubjectSettingsReply, req.LPRID)
	if err := s.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Int64("lpr_id", req.LPRID).Msg("Failed to publish settings response")
	}
}
