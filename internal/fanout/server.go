package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/auth"
	"github.com/alpr-fleet/fleet-server/internal/bus"
	"github.com/alpr-fleet/fleet-server/internal/config"
	"github.com/alpr-fleet/fleet-server/internal/models"
	"github.com/alpr-fleet/fleet-server/internal/storage"
	"github.com/alpr-fleet/fleet-server/pkg/lprwire"
)

// Subscription errors surfaced to viewers.
var (
	ErrForbidden   = errors.New("not permitted for this camera")
	ErrBadKind     = errors.New("unknown subscription kind")
	ErrSessionGone = errors.New("session no longer valid")
)

// Subscription kinds a viewer may join. The first three are camera-scoped;
// the rest are device-scoped, so their rooms are keyed by the LPR id.
const (
	KindPlatesData = "plates_data"
	KindLive       = "live"
	KindRecording  = "recording"

	KindHeartbeat        = "heartbeat"
	KindResources        = "resources"
	KindCameraConnection = "camera_connection"
)

// commandPublisher is the slice of the bus connection the gateway needs to
// relay streaming commands.
type commandPublisher interface {
	Publish(subject string, data []byte) error
}

// Gateway is the viewer-facing websocket server: it authenticates viewers,
// manages their rooms and relays streaming commands to devices over the bus.
type Gateway struct {
	cfg      config.FanoutConfig
	store    storage.Store
	jwt      *auth.JWTManager
	nc       commandPublisher
	hub      *Hub
	sessions *SessionManager

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	server       *http.Server
}

// NewGateway wires the gateway.
func NewGateway(cfg config.FanoutConfig, store storage.Store, jwt *auth.JWTManager,
	nc commandPublisher, hub *Hub, sessions *SessionManager) *Gateway {

	return &Gateway{
		cfg:      cfg,
		store:    store,
		jwt:      jwt,
		nc:       nc,
		hub:      hub,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		writeTimeout: cfg.WriteTimeout,
	}
}

// Start runs the HTTP server until ctx ends.
func (g *Gateway) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", g.handleWS)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	g.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", g.server.Addr).Msg("Socket gateway listening")
	if err := g.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleWS authenticates the token from the query string, registers a viewer
// session bounded by the token expiry and hands the socket to its pumps.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
		return
	}

	claims, err := g.jwt.ValidateToken(token)
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	sid := uuid.New().String()
	session := &Session{
		SID:       sid,
		Claims:    claims,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	client := newClient(sid, session, conn, g)
	g.sessions.Add(session)

	log.Info().Str("sid", sid).Str("user", claims.PersonalNumber).
		Time("expires_at", session.ExpiresAt).Msg("Viewer connected")

	go client.run()
}

// subscribe joins a room after re-checking authorization. The gate
// permission is evaluated on every call, not just at connect, so a revoked
// viewer cannot keep joining rooms on an old socket. Device-scoped kinds
// carry the LPR id in the camera_id field.
func (g *Gateway) subscribe(c *Client, req clientRequest) error {
	deviceScoped := false
	switch req.Kind {
	case KindPlatesData, KindLive, KindRecording:
	case KindHeartbeat, KindResources, KindCameraConnection:
		deviceScoped = true
	default:
		return ErrBadKind
	}

	if _, ok := g.sessions.Get(c.sid); !ok {
		return ErrSessionGone
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if deviceScoped {
		if err := g.authorizeDevice(ctx, c, req.CameraID); err != nil {
			return err
		}
		g.joinRoom(c, req)
		return nil
	}

	camera, err := g.store.GetCamera(ctx, req.CameraID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("camera %d not found", req.CameraID)
		}
		return fmt.Errorf("camera lookup failed")
	}

	if c.session.Claims.UserType.Restricted() && !permitted(c.session.Claims.GateIDs, camera.GateID) {
		log.Warn().Str("sid", c.sid).Int64("camera_id", req.CameraID).
			Str("user", c.session.Claims.PersonalNumber).Msg("Subscription denied")
		return ErrForbidden
	}

	g.joinRoom(c, req)

	// Live and recording feeds are on-demand: the device starts streaming
	// only when asked.
	if req.Kind == KindLive || req.Kind == KindRecording {
		g.publishStreaming(camera, lprwire.StreamingCommand{
			CommandType: req.Kind,
			CameraID:    req.CameraID,
			Duration:    req.Duration,
		})
	}
	return nil
}

// authorizeDevice checks that a restricted viewer may watch a device-scoped
// feed: at least one of the device's cameras must sit on a permitted gate.
func (g *Gateway) authorizeDevice(ctx context.Context, c *Client, lprID int64) error {
	if !c.session.Claims.UserType.Restricted() {
		return nil
	}

	cameras, err := g.store.ListCameras(ctx, lprID)
	if err != nil {
		return fmt.Errorf("device lookup failed")
	}
	for _, camera := range cameras {
		if permitted(c.session.Claims.GateIDs, camera.GateID) {
			return nil
		}
	}

	log.Warn().Str("sid", c.sid).Int64("lpr_id", lprID).
		Str("user", c.session.Claims.PersonalNumber).Msg("Subscription denied")
	return ErrForbidden
}

func (g *Gateway) joinRoom(c *Client, req clientRequest) {
	room := RoomName(req.CameraID, req.Kind)
	g.hub.Join(room, c)

	ack, _ := json.Marshal(map[string]interface{}{"room": room})
	c.Send("subscribed", ack)
}

// unsubscribe leaves a room. When the last live viewer leaves, a stop
// command is sent best effort; a failure only means the device streams until
// its duration runs out.
func (g *Gateway) unsubscribe(c *Client, req clientRequest) {
	room := RoomName(req.CameraID, req.Kind)
	empty := g.hub.Leave(room, c)

	if empty && (req.Kind == KindLive || req.Kind == KindRecording) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		camera, err := g.store.GetCamera(ctx, req.CameraID)
		if err != nil {
			log.Warn().Err(err).Int64("camera_id", req.CameraID).Msg("Stop command skipped")
			return
		}
		g.publishStreaming(camera, lprwire.StreamingCommand{
			CommandType: "stop_" + req.Kind,
			CameraID:    req.CameraID,
		})
	}
}

// publishStreaming relays a streaming command to the device owning the
// camera. The device-facing process signs it before sending.
func (g *Gateway) publishStreaming(camera *models.Camera, cmd lprwire.StreamingCommand) {
	data, err := json.Marshal(cmd)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal streaming command")
		return
	}

	subject := fmt.Sprintf("%s%d", bus.SubjectCommandPrefix, camera.LPRID)
	if err := g.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Int64("lpr_id", camera.LPRID).Msg("Failed to publish streaming command")
		return
	}
	log.Info().Int64("lpr_id", camera.LPRID).Int64("camera_id", cmd.CameraID).
		Str("command", cmd.CommandType).Msg("Streaming command relayed")
}

// disconnect cleans a client out of the hub and the session table.
func (g *Gateway) disconnect(c *Client) {
	g.hub.Unregister(c)
	g.sessions.Remove(c.sid)
	log.Info().Str("sid", c.sid).Msg("Viewer disconnected")
}

func permitted(gates []int64, gateID int64) bool {
	for _, id := range gates {
		if id == gateID {
			return true
		}
	}
	return false
}
