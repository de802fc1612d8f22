package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/config"
	"github.com/alpr-fleet/fleet-server/internal/metrics"
	"github.com/alpr-fleet/fleet-server/internal/models"
	"github.com/alpr-fleet/fleet-server/internal/storage"
	"github.com/alpr-fleet/fleet-server/pkg/crypto"
	"github.com/alpr-fleet/fleet-server/pkg/lprwire"
)

// Session errors
var (
	ErrNotAuthenticated = errors.New("session not authenticated")
	ErrSessionClosed    = errors.New("session closed")
)

// State is the lifecycle phase of a device session.
type State int32

const (
	StateConnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateActive
	StateFaulted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateFaulted:
		return "faulted"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Emitter forwards decoded telemetry towards the fanout layer. It must not
// block: the session calls it from its processing loop.
type Emitter interface {
	Emit(eventKind string, cameraID int64, payload interface{})
}

// HeartbeatSink records device liveness signals.
type HeartbeatSink interface {
	RecordHeartbeat(ctx context.Context, lprID int64) error
}

// Session is the live runtime state of one TCP connection to an LPR device:
// the authentication handshake, the inbound message queue, the detection
// batcher and the recording buffers.
type Session struct {
	lprID     int64
	authToken string

	conn   net.Conn
	codec  lprwire.Codec
	signer *crypto.CommandSigner

	store    storage.Store
	emitter  Emitter
	hb       HeartbeatSink
	batcher  *Batcher
	recorder *Recorder

	cfg config.DeviceConfig

	state         atomic.Int32
	authMessageID string
	settingsSent  bool

	inbound chan lprwire.Envelope

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func(err error)
}

// NewSession wraps an established transport. The caller starts it with Run.
func NewSession(lprID int64, authToken string, conn net.Conn, codec lprwire.Codec,
	signer *crypto.CommandSigner, store storage.Store, emitter Emitter, hb HeartbeatSink,
	recorder *Recorder, cfg config.DeviceConfig) *Session {

	s := &Session{
		lprID:     lprID,
		authToken: authToken,
		conn:      conn,
		codec:     codec,
		signer:    signer,
		store:     store,
		emitter:   emitter,
		hb:        hb,
		recorder:  recorder,
		cfg:       cfg,
		inbound:   make(chan lprwire.Envelope, cfg.InboundQueueSize),
		closed:    make(chan struct{}),
	}
	s.batcher = NewBatcher(store, cfg.BatchSize, cfg.BatchInterval)
	s.state.Store(int32(StateConnected))
	return s
}

// OnClose registers the factory callback invoked exactly once when the
// session dies, with the terminating error.
func (s *Session) OnClose(fn func(err error)) { s.onClose = fn }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Authenticated reports whether the handshake completed.
func (s *Session) Authenticated() bool {
	st := s.State()
	return st == StateAuthenticated || st == StateActive
}

// Run drives the session: sends the authentication envelope, then pumps the
// read loop and the processing loop until the transport dies or ctx ends.
// The batcher and the processing loop run on a session-scoped context so a
// closed session leaves no goroutines behind.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info().Int64("lpr_id", s.lprID).Str("peer", s.conn.RemoteAddr().String()).Msg("Device session started")

	go s.batcher.Run(ctx)
	go s.processLoop(ctx)
	go s.readLoop()

	if err := s.authenticate(); err != nil {
		s.Close(fmt.Errorf("send authentication: %w", err))
		return
	}

	select {
	case <-ctx.Done():
		s.Close(ctx.Err())
	case <-s.closed:
	}
}

// authenticate sends the authentication envelope and remembers its id so the
// matching acknowledge can be correlated.
func (s *Session) authenticate() error {
	env, err := lprwire.NewEnvelope(lprwire.TypeAuthentication, lprwire.AuthRequest{Token: s.authToken})
	if err != nil {
		return err
	}
	s.authMessageID = env.MessageID
	s.state.Store(int32(StateAuthenticating))

	log.Info().Int64("lpr_id", s.lprID).Str("message_id", env.MessageID).Msg("Authentication message sent")
	return s.write(env)
}

// readLoop owns the transport read side. It feeds complete frames through
// the codec into the bounded inbound queue, dropping the oldest message on
// overflow. It never parses business payloads itself.
func (s *Session) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			frames, derr := s.codec.Decode(buf[:n])
			for _, frame := range frames {
				env, perr := lprwire.ParseEnvelope(frame)
				if perr != nil {
					// Malformed single message: drop it, keep the stream.
					log.Error().Err(perr).Int64("lpr_id", s.lprID).Msg("Failed to parse message")
					continue
				}
				s.enqueue(env)
			}
			if derr != nil {
				s.Close(fmt.Errorf("framing: %w", derr))
				return
			}
		}
		if err != nil {
			s.Close(err)
			return
		}
	}
}

// enqueue adds an envelope to the inbound queue, evicting the oldest entry
// when full. readLoop is the only producer.
func (s *Session) enqueue(env lprwire.Envelope) {
	select {
	case s.inbound <- env:
		return
	default:
	}

	select {
	case <-s.inbound:
		metrics.DroppedMessages.Inc()
		log.Warn().Int64("lpr_id", s.lprID).Msg("Message queue is full, dropping the oldest message")
	default:
	}

	select {
	case s.inbound <- env:
	default:
	}
}

// processLoop dispatches inbound envelopes in arrival order.
func (s *Session) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case env := <-s.inbound:
			s.dispatch(ctx, env)
		}
	}
}

// dispatch routes one envelope by its message type. The type set is closed:
// adding a message kind means extending this switch.
func (s *Session) dispatch(ctx context.Context, env lprwire.Envelope) {
	metrics.DeviceMessages.WithLabelValues(string(env.MessageType)).Inc()

	switch env.MessageType {
	case lprwire.TypeAcknowledge:
		s.handleAcknowledge(ctx, env)
	case lprwire.TypeCommandResponse:
		log.Debug().Int64("lpr_id", s.lprID).Str("message_id", env.MessageID).Msg("Command response received")
	case lprwire.TypePlatesData:
		s.handlePlatesData(env)
	case lprwire.TypeLive:
		s.handleLive(env)
	case lprwire.TypeResources:
		s.handleResources(env)
	case lprwire.TypeHeartbeat:
		s.handleHeartbeat(ctx, env)
	case lprwire.TypeCameraConnection:
		s.handleCameraConnection(env)
	case lprwire.TypeRecording:
		s.handleRecording(ctx, env)
	case lprwire.TypeAuthentication, lprwire.TypeCommand, lprwire.TypeLPRSettings, lprwire.TypeStreaming:
		// Request-style types only ever flow towards the device.
		log.Warn().Int64("lpr_id", s.lprID).Str("type", string(env.MessageType)).Msg("Unexpected inbound message type")
	}
}

// handleAcknowledge completes the handshake when the ack correlates with the
// pending authentication id. Any other correlation id is logged and ignored.
func (s *Session) handleAcknowledge(ctx context.Context, env lprwire.Envelope) {
	var ack lprwire.Acknowledge
	if err := env.DecodeBody(&ack); err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Msg("Bad acknowledge body")
		return
	}

	if ack.ReplyTo != s.authMessageID {
		log.Info().Int64("lpr_id", s.lprID).Str("reply_to", ack.ReplyTo).Msg("Acknowledgment for unknown message ID")
		return
	}

	s.state.Store(int32(StateAuthenticated))
	metrics.DeviceConnections.Inc()
	log.Info().Int64("lpr_id", s.lprID).Msg("Authentication successful")

	if !s.settingsSent {
		s.settingsSent = true
		s.pushSettings(ctx)
	}
	s.state.Store(int32(StateActive))
}

// pushSettings sends the device its current settings (device settings plus
// camera list with per-camera settings) as one signed lpr_settings envelope.
func (s *Session) pushSettings(ctx context.Context) {
	lpr, err := s.store.GetLPR(ctx, s.lprID)
	if err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Msg("Failed to fetch LPR settings")
		return
	}

	payload := lpr.ExportSettings()
	env, err := s.signedEnvelope(lprwire.TypeLPRSettings, payload)
	if err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Msg("Failed to sign LPR settings")
		return
	}
	// Settings push correlates with the handshake, not a fresh request.
	env.MessageID = s.authMessageID

	if err := s.write(env); err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Msg("Failed to send LPR settings")
		return
	}
	log.Info().Int64("lpr_id", s.lprID).Msg("LPR settings sent")
}

// handlePlatesData enqueues detections for batched persistence and forwards
// the trimmed payload to subscribed viewers. Neither path blocks.
func (s *Session) handlePlatesData(env lprwire.Envelope) {
	var body lprwire.PlatesData
	if err := env.DecodeBody(&body); err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Msg("Bad plates_data body")
		return
	}

	for _, car := range body.Cars {
		t := &models.Traffic{
			PlateNumber:    car.Plate.Plate,
			OCRAccuracy:    car.OCRAccuracy,
			VisionSpeed:    car.VisionSpeed,
			PlateImagePath: car.Plate.PlateImage,
			Timestamp:      body.Timestamp,
			CameraID:       body.CameraID,
		}
		if !t.SplitPlate() {
			log.Warn().Str("plate", t.PlateNumber).Msg("Invalid plate number format")
		}
		s.batcher.Enqueue(t)
	}

	s.emitter.Emit("plates_data", body.CameraID, map[string]interface{}{
		"messageType": "plates_data",
		"timestamp":   body.Timestamp,
		"camera_id":   body.CameraID,
		"full_image":  body.FullImage,
		"cars":        exportCars(body.Cars),
	})
}

func exportCars(cars []lprwire.Car) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(cars))
	for _, car := range cars {
		out = append(out, map[string]interface{}{
			"plate_number":  car.Plate.Plate,
			"plate_image":   car.Plate.PlateImage,
			"ocr_accuracy":  car.OCRAccuracy,
			"vision_speed":  car.VisionSpeed,
			"vehicle_class": car.VehicleClass,
			"vehicle_type":  car.VehicleType,
			"vehicle_color": car.VehicleColor,
		})
	}
	return out
}

func (s *Session) handleLive(env lprwire.Envelope) {
	var body lprwire.LiveFrame
	if err := env.DecodeBody(&body); err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Msg("Bad live body")
		return
	}

	s.emitter.Emit("live", body.CameraID, map[string]interface{}{
		"messageType": "live",
		"live_image":  body.LiveImage,
		"camera_id":   body.CameraID,
	})
}

func (s *Session) handleResources(env lprwire.Envelope) {
	var body map[string]interface{}
	if err := env.DecodeBody(&body); err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Msg("Bad resources body")
		return
	}

	body["lpr_id"] = s.lprID
	s.emitter.Emit("resources", s.lprID, body)
}

func (s *Session) handleHeartbeat(ctx context.Context, env lprwire.Envelope) {
	if err := s.hb.RecordHeartbeat(ctx, s.lprID); err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Msg("Failed to record heartbeat")
	}

	s.emitter.Emit("heartbeat", s.lprID, map[string]interface{}{
		"messageId":   env.MessageID,
		"messageType": "heartbeat",
		"lpr_id":      s.lprID,
		"messageBody": json.RawMessage(env.MessageBody),
	})
}

func (s *Session) handleCameraConnection(env lprwire.Envelope) {
	var body lprwire.CameraConnection
	if err := env.DecodeBody(&body); err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Msg("Bad camera_connection body")
		return
	}

	s.emitter.Emit("camera_connection", s.lprID, map[string]interface{}{
		"camera_connection": body.Connection,
		"lpr_id":            s.lprID,
	})
}

func (s *Session) handleRecording(ctx context.Context, env lprwire.Envelope) {
	var body lprwire.RecordingFrame
	if err := env.DecodeBody(&body); err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Msg("Bad recording body")
		return
	}

	if err := s.recorder.HandleFrame(ctx, s.lprID, body); err != nil {
		log.Error().Err(err).Int64("lpr_id", s.lprID).Int64("camera_id", body.CameraID).Msg("Recording frame failed")
	}
}

// SendCommand signs and sends a command payload. Only permitted once the
// handshake completed; otherwise the command is refused, not queued.
func (s *Session) SendCommand(data interface{}) error {
	if !s.Authenticated() {
		log.Warn().Int64("lpr_id", s.lprID).Msg("Cannot send command: session is not authenticated")
		return ErrNotAuthenticated
	}

	env, err := s.signedEnvelope(lprwire.TypeCommand, data)
	if err != nil {
		return err
	}
	return s.write(env)
}

// signedEnvelope wraps data in a SignedBody whose HMAC covers data only.
func (s *Session) signedEnvelope(t lprwire.MessageType, data interface{}) (lprwire.Envelope, error) {
	tag, err := s.signer.Sign(data)
	if err != nil {
		return lprwire.Envelope{}, fmt.Errorf("sign payload: %w", err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return lprwire.Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}

	return lprwire.NewEnvelope(t, lprwire.SignedBody{Data: raw, HMAC: tag})
}

// write frames and writes one envelope. Serialized so concurrent command
// sends cannot interleave frames.
func (s *Session) write(env lprwire.Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	_, err = s.conn.Write(s.codec.Encode(nil, raw))
	return err
}

// Close tears the session down exactly once and notifies the owning factory.
func (s *Session) Close(err error) {
	s.closeOnce.Do(func() {
		if s.Authenticated() {
			metrics.DeviceConnections.Dec()
		}
		if s.State() != StateClosed {
			if err != nil && !errors.Is(err, context.Canceled) {
				s.state.Store(int32(StateFaulted))
			}
			s.state.Store(int32(StateClosed))
		}

		close(s.closed)
		s.conn.Close()
		s.recorder.CloseFor(s.lprID)

		log.Info().Int64("lpr_id", s.lprID).AnErr("reason", err).Msg("Connection lost")
		if s.onClose != nil {
			s.onClose(err)
		}
	})
}
