package integration

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/bus"
	"github.com/alpr-fleet/fleet-server/internal/config"
)

// ForwarderService pushes plate detections and recording notifications to
// configured external endpoints (HTTP webhooks and MQTT brokers). Delivery
// is best effort: a failed endpoint is logged and skipped, never retried at
// the cost of blocking the stream.
type ForwarderService struct {
	nc  *nats.Conn
	cfg config.IntegrationConfig

	mqttClients map[string]mqtt.Client
	clientsMu   sync.RWMutex

	httpClient *http.Client
}

// NewForwarderService creates the forwarder.
func NewForwarderService(nc *nats.Conn, cfg config.IntegrationConfig) *ForwarderService {
	return &ForwarderService{
		nc:          nc,
		cfg:         cfg,
		mqttClients: make(map[string]mqtt.Client),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Enabled reports whether any endpoint is configured.
func (s *ForwarderService) Enabled() bool {
	return len(s.cfg.HTTP) > 0 || len(s.cfg.MQTT) > 0
}

// Start consumes the detection stream and recording notifications until ctx
// ends. Detections come from the durable stream under its own consumer, so
// the forwarder and the socket gateway never steal each other's messages.
func (s *ForwarderService) Start(ctx context.Context) error {
	js, err := s.nc.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}
	if err := bus.EnsurePlatesStream(js); err != nil {
		return err
	}

	sub, err := js.Subscribe(bus.SubjectPlatesData, s.handlePlatesData,
		nats.Durable("integration-forwarder"),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("subscribe plates stream: %w", err)
	}

	subRec, err := s.nc.Subscribe(bus.SubjectRecordingSaved, s.handleRecordingSaved)
	if err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("subscribe recording notifications: %w", err)
	}

	log.Info().
		Int("http_endpoints", len(s.cfg.HTTP)).
		Int("mqtt_endpoints", len(s.cfg.MQTT)).
		Msg("Integration forwarder started")

	<-ctx.Done()

	sub.Unsubscribe()
	subRec.Unsubscribe()
	s.closeAllMQTTConnections()

	return nil
}

// handlePlatesData forwards one detection to every endpoint.
func (s *ForwarderService) handlePlatesData(msg *nats.Msg) {
	var event map[string]interface{}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("Failed to parse detection event")
		msg.Term()
		return
	}

	s.forward("plates_data", event)
	msg.Ack()
}

// handleRecordingSaved forwards one recording notification.
func (s *ForwarderService) handleRecordingSaved(msg *nats.Msg) {
	var event map[string]interface{}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("Failed to parse recording notification")
		return
	}

	s.forward("recording_saved", event)
}

func (s *ForwarderService) forward(eventType string, event map[string]interface{}) {
	payload := map[string]interface{}{
		"type":      eventType,
		"event":     event,
		"timestamp": time.Now(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal forward payload")
		return
	}

	cameraID := cameraIDOf(event)

	for _, ep := range s.cfg.HTTP {
		go s.forwardToHTTP(ep, data)
	}
	for _, ep := range s.cfg.MQTT {
		go s.forwardToMQTT(ep, eventType, cameraID, data)
	}
}

// forwardToHTTP posts one event to a webhook endpoint.
func (s *ForwarderService) forwardToHTTP(ep config.HTTPEndpoint, data []byte) {
	req, err := http.NewRequest("POST", ep.Endpoint, bytes.NewBuffer(data))
	if err != nil {
		log.Error().Err(err).Str("endpoint", ep.Endpoint).Msg("Failed to create HTTP request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("endpoint", ep.Endpoint).
			Msg("Failed to forward event to HTTP")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", ep.Endpoint).
			Msg("HTTP forward failed")
	} else {
		log.Debug().
			Str("endpoint", ep.Endpoint).
			Msg("Event forwarded to HTTP")
	}
}

// forwardToMQTT publishes one event to a broker.
func (s *ForwarderService) forwardToMQTT(ep config.MQTTEndpoint, eventType string, cameraID int64, data []byte) {
	client := s.getMQTTClient(ep.BrokerURL)
	if client == nil {
		client = s.createMQTTClient(ep)
		if client == nil {
			return
		}
	}

	topic := ep.TopicPattern
	topic = strings.ReplaceAll(topic, "{event}", eventType)
	topic = strings.ReplaceAll(topic, "{camera_id}", strconv.FormatInt(cameraID, 10))

	token := client.Publish(topic, ep.QoS, false, data)
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			log.Error().
				Err(err).
				Str("topic", topic).
				Msg("Failed to publish to MQTT")
		} else {
			log.Debug().
				Str("topic", topic).
				Msg("Event forwarded to MQTT")
		}
	} else {
		log.Error().
			Str("topic", topic).
			Msg("MQTT publish timeout")
	}
}

// getMQTTClient returns a live broker client, or nil.
func (s *ForwarderService) getMQTTClient(brokerURL string) mqtt.Client {
	s.clientsMu.RLock()
	client, exists := s.mqttClients[brokerURL]
	s.clientsMu.RUnlock()

	if exists && client.IsConnected() {
		return client
	}

	return nil
}

// createMQTTClient connects a broker client and caches it.
func (s *ForwarderService) createMQTTClient(ep config.MQTTEndpoint) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(ep.BrokerURL)
	opts.SetClientID("fleet-forwarder")

	if ep.Username != "" {
		opts.SetUsername(ep.Username)
		opts.SetPassword(ep.Password)
	}

	if ep.TLS {
		opts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: ep.InsecureSkipVerify,
		})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().
			Str("broker", ep.BrokerURL).
			Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().
			Err(err).
			Str("broker", ep.BrokerURL).
			Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	if token.WaitTimeout(10*time.Second) && token.Error() == nil {
		s.clientsMu.Lock()
		s.mqttClients[ep.BrokerURL] = client
		s.clientsMu.Unlock()
		return client
	}

	log.Error().
		Err(token.Error()).
		Str("broker", ep.BrokerURL).
		Msg("Failed to connect MQTT client")

	return nil
}

// closeAllMQTTConnections closes every broker client.
func (s *ForwarderService) closeAllMQTTConnections() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for brokerURL, client := range s.mqttClients {
		if client.IsConnected() {
			client.Disconnect(250)
		}
		delete(s.mqttClients, brokerURL)

		log.Info().
			Str("broker", brokerURL).
			Msg("MQTT client disconnected")
	}
}

func cameraIDOf(event map[string]interface{}) int64 {
	if v, ok := event["camera_id"].(float64); ok {
		return int64(v)
	}
	return 0
}
