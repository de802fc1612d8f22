package bus

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/config"
)

// Subjects exchanged over the bus.
const (
	SubjectEventPrefix     = "socketio."
	SubjectPlatesData      = "messages.plates_data"
	SubjectCommandPrefix   = "command."
	SubjectSettingsRequest = "alpr.settings.request"
	SubjectSettingsReply   = "alpr.settings.response.%d"
	SubjectRecordingSaved  = "recording.saved"

	// PlatesStream is the JetStream stream retaining plate detections so the
	// gateway can catch up after a restart.
	PlatesStream = "PLATES_STREAM"
)

// Connect establishes a NATS connection with the configured credentials and
// reconnect policy.
func Connect(cfg config.NATSConfig, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	}

	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CertPath != "" {
		opts = append(opts, nats.ClientCert(cfg.CertPath, cfg.KeyPath))
	}
	if cfg.CAPath != "" {
		opts = append(opts, nats.RootCAs(cfg.CAPath))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	return nc, nil
}

// EnsurePlatesStream creates the detection stream when it does not exist yet.
func EnsurePlatesStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(PlatesStream)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("stream info: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      PlatesStream,
		Subjects:  []string{SubjectPlatesData},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    0,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", PlatesStream, err)
	}

	log.Info().Str("stream", PlatesStream).Msg("JetStream stream created")
	return nil
}
