package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hydroworks/aquapilot/errors"
)

// NATSBridgeConfig controls the bridge connection and subject layout.
type NATSBridgeConfig struct {
	URL           string
	SubjectPrefix string // Events publish to "<prefix>.<event_type>"
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSBridge mirrors bus events onto NATS subjects so external systems
// can follow the control loop without linking against it. The bridge is
// itself an Observer.
type NATSBridge struct {
	name   string
	cfg    NATSBridgeConfig
	conn   *nats.Conn
	logger *slog.Logger
}

// wireEvent is the published JSON shape. Payload values must be
// JSON-encodable; factory-created events always are.
type wireEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Severity  string         `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NewNATSBridge connects to the broker and returns the bridge. The
// connection retries in the background on loss; publishes during an
// outage fail and are counted by the bus as observer errors.
func NewNATSBridge(name string, cfg NATSBridgeConfig, logger *slog.Logger) (*NATSBridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "aquapilot.events"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSBridge", "NewNATSBridge",
			fmt.Sprintf("connect to %s", cfg.URL))
	}

	return &NATSBridge{
		name:   name,
		cfg:    cfg,
		conn:   conn,
		logger: logger,
	}, nil
}

func (b *NATSBridge) Name() string { return b.name }

// OnEvent publishes the event to "<prefix>.<event_type>".
func (b *NATSBridge) OnEvent(ev Event) error {
	data, err := json.Marshal(wireEvent{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Source:    ev.Source,
		Severity:  string(ev.Severity),
		Timestamp: ev.Timestamp,
		Payload:   ev.Payload,
	})
	if err != nil {
		return errors.WrapInvalid(err, "NATSBridge", "OnEvent", "marshal event")
	}

	subject := fmt.Sprintf("%s.%s", b.cfg.SubjectPrefix, ev.Type)
	if err := b.conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "NATSBridge", "OnEvent",
			fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// Close drains the connection, flushing pending publishes.
func (b *NATSBridge) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		return errors.WrapTransient(err, "NATSBridge", "Close", "drain connection")
	}
	return nil
}
