package device

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/config"
	"github.com/alpr-fleet/fleet-server/pkg/lprwire"
)

// connParams is the immutable dial identity of one device.
type connParams struct {
	ID        int64
	Host      string
	Port      int
	AuthToken string
}

// Connection owns the connect/retry lifecycle of a single device. All field
// access happens on the registry's actor goroutine; dialing runs off-actor
// and reports back through the registry's command channel.
type Connection struct {
	params connParams

	session *Session

	// connectionInProgress guards against overlapping dials: a new dial
	// may only start when no dial is running and no session is live.
	connectionInProgress bool

	retryTimer *time.Timer
	removed    bool
}

func (c *Connection) addr() string {
	return net.JoinHostPort(c.params.Host, fmt.Sprintf("%d", c.params.Port))
}

// dialer resolves the transport towards devices, with optional mutual TLS.
type dialer struct {
	timeout time.Duration
	tlsConf *tls.Config
}

func newDialer(cfg config.DeviceConfig) (*dialer, error) {
	d := &dialer{timeout: cfg.DialTimeout}

	if cfg.CertPath == "" {
		return d, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	conf := &tls.Config{Certificates: []tls.Certificate{cert}}

	if cfg.CAPath != "" {
		pem, err := os.ReadFile(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAPath)
		}
		conf.RootCAs = pool
	}

	d.tlsConf = conf
	return d, nil
}

func (d *dialer) dial(ctx context.Context, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.timeout}
	if d.tlsConf == nil {
		return nd.DialContext(ctx, "tcp", addr)
	}
	return (&tls.Dialer{NetDialer: nd, Config: d.tlsConf}).DialContext(ctx, "tcp", addr)
}

// newCodec builds the configured framing policy.
func newCodec(cfg config.DeviceConfig) lprwire.Codec {
	switch cfg.Framing {
	case "legacy":
		c := lprwire.NewDelimiterCodec(lprwire.LegacyDelimiter)
		c.SetMaxFrame(cfg.MaxFrameBytes)
		return c
	case "length":
		return lprwire.NewLengthPrefixCodec(cfg.MaxFrameBytes)
	default:
		c := lprwire.NewDelimiterCodec(lprwire.EndDelimiter)
		c.SetMaxFrame(cfg.MaxFrameBytes)
		return c
	}
}

func logRetry(id int64, delay time.Duration, err error) {
	log.Warn().Int64("lpr_id", id).Dur("retry_in", delay).AnErr("error", err).
		Msg("Device connection failed, scheduling retry")
}
