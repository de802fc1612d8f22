package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher pushes device telemetry onto the bus for the socket gateway.
// Plate detections go through JetStream so they survive a gateway restart;
// everything else is fire-and-forget core NATS.
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher wires a publisher and makes sure the detection stream exists.
func NewPublisher(nc *nats.Conn) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := EnsurePlatesStream(js); err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js}, nil
}

// Emit publishes one telemetry event. The id parameter scopes the event: a
// camera id for camera-scoped kinds, a device id otherwise; the payload
// already carries it, the parameter exists for logging.
func (p *Publisher) Emit(eventKind string, id int64, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventKind).Msg("Failed to marshal event payload")
		return
	}

	if eventKind == "plates_data" {
		if _, err := p.js.PublishAsync(SubjectPlatesData, data); err != nil {
			log.Error().Err(err).Int64("id", id).Msg("Failed to publish plates data")
		}
		return
	}

	if err := p.nc.Publish(SubjectEventPrefix+eventKind, data); err != nil {
		log.Error().Err(err).Str("event", eventKind).Int64("id", id).Msg("Failed to publish event")
	}
}

// PublishRecordingSaved announces a finalized recording.
func (p *Publisher) PublishRecordingSaved(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal recording notification")
		return
	}
	if err := p.nc.Publish(SubjectRecordingSaved, data); err != nil {
		log.Error().Err(err).Msg("Failed to publish recording notification")
	}
}
