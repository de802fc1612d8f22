package device

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/config"
	"github.com/alpr-fleet/fleet-server/internal/models"
	"github.com/alpr-fleet/fleet-server/internal/storage"
	"github.com/alpr-fleet/fleet-server/pkg/crypto"
)

// Registry errors
var (
	ErrNotConnected    = errors.New("device not connected")
	ErrRegistryStopped = errors.New("registry stopped")
)

// DeviceStatus is a point-in-time view of one managed connection.
type DeviceStatus struct {
	LPRID     int64  `json:"lpr_id"`
	Address   string `json:"address"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

// Registry manages the set of device connections. It is an actor: a single
// goroutine owns the connection map and every mutation runs as a closure on
// its command channel, so Connection and Session wiring needs no locks.
type Registry struct {
	cfg    config.DeviceConfig
	signer *crypto.CommandSigner
	store  storage.Store

	emitter  Emitter
	hb       HeartbeatSink
	recorder *Recorder

	dialer *dialer

	conns map[int64]*Connection
	cmds  chan func()

	ctx  context.Context
	done chan struct{}
}

// NewRegistry builds an idle registry. The caller starts it with Run.
func NewRegistry(cfg config.DeviceConfig, signer *crypto.CommandSigner, store storage.Store,
	emitter Emitter, hb HeartbeatSink, recorder *Recorder) (*Registry, error) {

	d, err := newDialer(cfg)
	if err != nil {
		return nil, err
	}

	return &Registry{
		cfg:      cfg,
		signer:   signer,
		store:    store,
		emitter:  emitter,
		hb:       hb,
		recorder: recorder,
		dialer:   d,
		conns:    make(map[int64]*Connection),
		cmds:     make(chan func(), 64),
		done:     make(chan struct{}),
	}, nil
}

// Run executes the actor loop until ctx ends, then tears every connection
// down. Must be called exactly once.
func (r *Registry) Run(ctx context.Context) {
	r.ctx = ctx
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case cmd := <-r.cmds:
			cmd()
		}
	}
}

// exec runs fn on the actor goroutine and waits for it.
func (r *Registry) exec(fn func()) error {
	doneCh := make(chan struct{})
	select {
	case r.cmds <- func() { fn(); close(doneCh) }:
	case <-r.done:
		return ErrRegistryStopped
	}

	select {
	case <-doneCh:
		return nil
	case <-r.done:
		return ErrRegistryStopped
	}
}

// post schedules fn on the actor goroutine without waiting. Used by dial
// results and close callbacks that originate off-actor.
func (r *Registry) post(fn func()) {
	select {
	case r.cmds <- fn:
	case <-r.done:
	}
}

// Add registers a device and starts connecting to it. Adding an already
// known device is a no-op so a healthy session is never torn down by a
// redundant add; changed parameters go through Update.
func (r *Registry) Add(lpr *models.LPR) error {
	return r.exec(func() {
		if _, ok := r.conns[lpr.ID]; ok {
			log.Debug().Int64("lpr_id", lpr.ID).Msg("Device already registered")
			return
		}
		r.register(connParams{ID: lpr.ID, Host: lpr.IP, Port: lpr.Port, AuthToken: lpr.AuthToken})
	})
}

// Update applies new dial parameters to a device: any live session is torn
// down and a reconnect starts with the new parameters. Unknown devices are
// registered.
func (r *Registry) Update(lpr *models.LPR) error {
	return r.exec(func() {
		params := connParams{ID: lpr.ID, Host: lpr.IP, Port: lpr.Port, AuthToken: lpr.AuthToken}

		existing, ok := r.conns[lpr.ID]
		if !ok {
			r.register(params)
			return
		}

		existing.params = params
		r.teardown(existing)
		log.Info().Int64("lpr_id", lpr.ID).Str("addr", existing.addr()).Msg("Device parameters updated, reconnecting")
		r.connect(existing)
	})
}

// register adds a fresh entry and starts its first dial. Actor-only.
func (r *Registry) register(params connParams) {
	conn := &Connection{params: params}
	r.conns[params.ID] = conn
	log.Info().Int64("lpr_id", params.ID).Str("addr", conn.addr()).Msg("Device registered")
	r.connect(conn)
}

// Remove unregisters a device and closes its connection. Pending retries are
// cancelled.
func (r *Registry) Remove(lprID int64) error {
	return r.exec(func() {
		conn, ok := r.conns[lprID]
		if !ok {
			return
		}
		conn.removed = true
		r.teardown(conn)
		delete(r.conns, lprID)
		log.Info().Int64("lpr_id", lprID).Msg("Device unregistered")
	})
}

// SendCommand signs and delivers a command to one device. Fails when the
// device is unknown or its session is not authenticated.
func (r *Registry) SendCommand(lprID int64, data interface{}) error {
	var sess *Session
	err := r.exec(func() {
		if conn, ok := r.conns[lprID]; ok {
			sess = conn.session
		}
	})
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotConnected
	}
	return sess.SendCommand(data)
}

// Statuses snapshots the state of every managed connection.
func (r *Registry) Statuses() []DeviceStatus {
	var out []DeviceStatus
	r.exec(func() {
		for _, conn := range r.conns {
			st := DeviceStatus{LPRID: conn.params.ID, Address: conn.addr(), State: "disconnected"}
			if conn.session != nil {
				st.State = conn.session.State().String()
				st.Connected = conn.session.Authenticated()
			} else if conn.connectionInProgress {
				st.State = "connecting"
			}
			out = append(out, st)
		}
	})
	return out
}

// connect starts a dial attempt unless one is already running. Actor-only.
func (r *Registry) connect(conn *Connection) {
	if conn.connectionInProgress || conn.removed {
		return
	}
	conn.connectionInProgress = true

	params := conn.params
	addr := conn.addr()
	go func() {
		netConn, err := r.dialer.dial(r.ctx, addr)
		r.post(func() { r.dialDone(params.ID, netConn, err) })
	}()
}

// dialDone finishes a dial attempt on the actor goroutine: on success it
// starts a session, on failure it schedules a retry.
func (r *Registry) dialDone(lprID int64, netConn net.Conn, err error) {
	conn, ok := r.conns[lprID]
	if !ok || conn.removed {
		if netConn != nil {
			netConn.Close()
		}
		return
	}
	conn.connectionInProgress = false

	if err != nil {
		r.scheduleRetry(conn, err)
		return
	}

	sess := NewSession(conn.params.ID, conn.params.AuthToken, netConn,
		newCodec(r.cfg), r.signer, r.store, r.emitter, r.hb, r.recorder, r.cfg)
	conn.session = sess

	sess.OnClose(func(cause error) {
		r.post(func() {
			if cur, ok := r.conns[lprID]; ok && cur.session == sess {
				cur.session = nil
				if !cur.removed {
					r.scheduleRetry(cur, cause)
				}
			}
		})
	})

	go sess.Run(r.ctx)
}

// scheduleRetry arms the fixed-delay reconnect timer. Actor-only.
func (r *Registry) scheduleRetry(conn *Connection, cause error) {
	if conn.removed || conn.retryTimer != nil {
		return
	}
	logRetry(conn.params.ID, r.cfg.ReconnectDelay, cause)

	id := conn.params.ID
	conn.retryTimer = time.AfterFunc(r.cfg.ReconnectDelay, func() {
		r.post(func() {
			if cur, ok := r.conns[id]; ok {
				cur.retryTimer = nil
				r.connect(cur)
			}
		})
	})
}

// teardown closes a connection's session and cancels its retry. Actor-only.
func (r *Registry) teardown(conn *Connection) {
	if conn.retryTimer != nil {
		conn.retryTimer.Stop()
		conn.retryTimer = nil
	}
	if conn.session != nil {
		conn.session.Close(nil)
		conn.session = nil
	}
	conn.connectionInProgress = false
}

// shutdown closes everything on actor exit.
func (r *Registry) shutdown() {
	for _, conn := range r.conns {
		conn.removed = true
		r.teardown(conn)
	}
}
