package output

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"scalebridge/config"
	"scalebridge/scale"
	"scalebridge/store"
)

// Event types published on the events subject.
const (
	EventServiceStart   = "service_start"
	EventServiceStop    = "service_stop"
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventConnectionLost = "connection_lost"
	EventReconnect      = "reconnect"
	EventError          = "error"
)

// Event is the structure for lifecycle events published to NATS.
// Keep it flat for easy querying.
type Event struct {
	Timestamp  time.Time      `json:"ts"`
	Type       string         `json:"type"`
	InstanceID string         `json:"instance"`
	Device     string         `json:"dev,omitempty"`
	Message    string         `json:"msg,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// NATSConnection manages the NATS connection for the POS feed.
type NATSConnection struct {
	conn   *nats.Conn
	url    string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewNATSConnection connects to NATS with the configured reconnect
// policy.
func NewNATSConnection(cfg *config.NATSConfig, logger *slog.Logger) (*NATSConnection, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait()),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", "error", err)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("Connected to NATS", "url", cfg.URL)

	return &NATSConnection{
		conn:   conn,
		url:    cfg.URL,
		logger: logger,
	}, nil
}

// Conn returns the underlying NATS connection.
func (nc *NATSConnection) Conn() *nats.Conn {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return nc.conn
}

// IsConnected returns true if connected to NATS.
func (nc *NATSConnection) IsConnected() bool {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return nc.conn != nil && nc.conn.IsConnected()
}

// Publish sends raw bytes on a subject.
func (nc *NATSConnection) Publish(subject string, data []byte) error {
	nc.mu.RLock()
	defer nc.mu.RUnlock()

	if nc.conn == nil {
		return fmt.Errorf("NATS connection closed")
	}
	return nc.conn.Publish(subject, data)
}

// Close closes the NATS connection.
func (nc *NATSConnection) Close() {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if nc.conn != nil {
		nc.conn.Close()
		nc.conn = nil
		nc.logger.Info("Closed NATS connection")
	}
}

// ReadingPublisher publishes stable readings, committed sales and
// lifecycle events to NATS. Designed to be optional: a nil publisher is
// safe to call and does nothing.
type ReadingPublisher struct {
	conn           *nats.Conn
	readingSubject string
	saleSubject    string
	eventSubject   string
	instanceID     string
	logger         *slog.Logger
}

// NewReadingPublisher creates a ReadingPublisher for the configured
// subject prefix. Returns nil if conn is nil (disabled mode).
func NewReadingPublisher(conn *nats.Conn, subjectPrefix, instanceID string, logger *slog.Logger) *ReadingPublisher {
	if conn == nil {
		return nil
	}

	return &ReadingPublisher{
		conn:           conn,
		readingSubject: BuildSubject(subjectPrefix, "reading", instanceID),
		saleSubject:    BuildSubject(subjectPrefix, "sale", instanceID),
		eventSubject:   BuildSubject(subjectPrefix, "events", instanceID),
		instanceID:     instanceID,
		logger:         logger,
	}
}

// BuildSubject constructs a subject as {prefix}.{kind}.{instance}.
func BuildSubject(prefix, kind, instanceID string) string {
	return prefix + "." + kind + "." + instanceID
}

// PublishStable sends a locked reading to the reading subject. Safe to
// call on nil receiver.
func (p *ReadingPublisher) PublishStable(w scale.WeightData) {
	if p == nil {
		return
	}
	p.publish(p.readingSubject, w, "reading")
}

// saleMessage mirrors the transaction log record so POS consumers see
// one shape regardless of transport.
type saleMessage struct {
	Timestamp   time.Time `json:"ts"`
	InstanceID  string    `json:"instance"`
	SaleID      string    `json:"sale_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	WeightKg    float64   `json:"weight_kg"`
	UnitPrice   string    `json:"unit_price"`
	Total       string    `json:"total"`
}

// PublishSale sends a committed sale to the sale subject. Safe to call
// on nil receiver.
func (p *ReadingPublisher) PublishSale(rec store.SaleRecord, productName string) {
	if p == nil {
		return
	}
	p.publish(p.saleSubject, saleMessage{
		Timestamp:   rec.CreatedAt,
		InstanceID:  p.instanceID,
		SaleID:      rec.ID,
		ProductID:   rec.ProductID,
		ProductName: productName,
		WeightKg:    rec.Weight,
		UnitPrice:   rec.UnitPrice.String(),
		Total:       rec.Total.String(),
	}, "sale")
}

// PublishEvent sends a lifecycle event to the events subject. Safe to
// call on nil receiver.
func (p *ReadingPublisher) PublishEvent(eventType, device, message string, details map[string]any) {
	if p == nil {
		return
	}
	p.publish(p.eventSubject, Event{
		Timestamp:  time.Now().UTC(),
		Type:       eventType,
		InstanceID: p.instanceID,
		Device:     device,
		Message:    message,
		Details:    details,
	}, eventType)
}

func (p *ReadingPublisher) publish(subject string, payload any, kind string) {
	if p == nil || p.conn == nil || !p.conn.IsConnected() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal NATS payload", "kind", kind, "error", err)
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish to NATS",
			"subject", subject, "kind", kind, "error", err)
		return
	}

	p.logger.Debug("Published to NATS", "subject", subject, "kind", kind)
}
