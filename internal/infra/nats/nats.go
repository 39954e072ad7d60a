package natsclient

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerTrack/config"
	"go.uber.org/zap"
)

const (
	connectTimeout = 5 * time.Second
	reconnectWait  = 2 * time.Second
	// publishes buffered while disconnected; the click publisher falls back
	// to its Redis retry queue once this is full.
	reconnectBufSize = 8 << 20
)

// Connect dials NATS and opens a JetStream context. The connection retries
// forever in the background; state changes are logged on log.
func Connect(cfg config.NATSConfig, log *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	conn, err := nats.Connect(ServerURL(cfg), Options(cfg, log)...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("nats: init jetstream: %w", err)
	}
	return conn, js, nil
}

// Options returns the connection options for cfg.
func Options(cfg config.NATSConfig, log *zap.Logger) []nats.Option {
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("powertrack"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.ReconnectBufSize(reconnectBufSize),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrlRedacted()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("nats async error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}

// ServerURL renders the nats:// URL for cfg, defaulting to localhost:4222.
func ServerURL(cfg config.NATSConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = nats.DefaultPort
	}
	return "nats://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// StreamSpec describes a JetStream stream owned by this service.
type StreamSpec struct {
	Name     string
	Subjects []string
	MaxBytes int64
	MaxAge   time.Duration
}

// EnsureStream creates the stream when it does not exist yet.
func EnsureStream(js nats.JetStreamContext, spec StreamSpec) error {
	if _, err := js.StreamInfo(spec.Name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("nats: stream info %s: %w", spec.Name, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      spec.Name,
		Subjects:  spec.Subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxBytes:  spec.MaxBytes,
		MaxAge:    spec.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("nats: add stream %s: %w", spec.Name, err)
	}
	return nil
}
