package output

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// HealthPublisher publishes periodic health heartbeats to NATS so a
// fleet of lanes can be monitored centrally.
type HealthPublisher struct {
	conn       *NATSConnection
	subject    string
	instanceID string
	startTime  time.Time
	interval   time.Duration
	logger     *slog.Logger

	statsFunc func() HealthStats

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// HealthStats is the snapshot of the scale session included in a
// heartbeat. Provided by a callback so the publisher stays decoupled
// from the session.
type HealthStats struct {
	State       string `json:"state"`
	Device      string `json:"device"`
	Connected   bool   `json:"connected"`
	BytesRead   int64  `json:"bytes"`
	LinesRead   int64  `json:"lines"`
	Errors      int64  `json:"errors"`
	Reconnects  int64  `json:"reconnects"`
	LastLineAgo int64  `json:"last_line_ago_sec"` // -1 if never
}

// HealthMessage is the JSON payload published to NATS.
type HealthMessage struct {
	Version    int         `json:"v"`
	Timestamp  string      `json:"ts"`
	InstanceID string      `json:"instance_id"`
	UptimeSec  int64       `json:"uptime_sec"`
	Scale      HealthStats `json:"scale"`
}

// HealthPublisherConfig contains configuration for HealthPublisher.
type HealthPublisherConfig struct {
	Conn       *NATSConnection
	Subject    string
	InstanceID string
	Interval   time.Duration // default 60s
	Logger     *slog.Logger
	StatsFunc  func() HealthStats
}

// NewHealthPublisher creates a new HealthPublisher.
func NewHealthPublisher(cfg *HealthPublisherConfig) *HealthPublisher {
	interval := cfg.Interval
	if interval == 0 {
		interval = 60 * time.Second
	}

	return &HealthPublisher{
		conn:       cfg.Conn,
		subject:    cfg.Subject,
		instanceID: cfg.InstanceID,
		startTime:  time.Now(),
		interval:   interval,
		logger:     cfg.Logger,
		statsFunc:  cfg.StatsFunc,
		stopCh:     make(chan struct{}),
	}
}

// Start begins publishing heartbeats.
func (h *HealthPublisher) Start() {
	h.wg.Add(1)
	go h.publishLoop()
	h.logger.Info("Health publisher started",
		"subject", h.subject,
		"interval", h.interval)
}

// Stop stops the publisher after a final heartbeat.
func (h *HealthPublisher) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	h.logger.Info("Health publisher stopped")
}

func (h *HealthPublisher) publishLoop() {
	defer h.wg.Done()

	// Publish immediately on start
	h.publish()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			h.publish()
			return
		case <-ticker.C:
			h.publish()
		}
	}
}

func (h *HealthPublisher) publish() {
	if h.conn == nil || !h.conn.IsConnected() {
		h.logger.Debug("Skipping health publish, NATS not connected")
		return
	}

	msg := h.buildMessage(time.Now())

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal health message", "error", err)
		return
	}

	if err := h.conn.Publish(h.subject, data); err != nil {
		h.logger.Warn("Failed to publish health message", "error", err)
		return
	}

	h.logger.Debug("Published health heartbeat",
		"subject", h.subject,
		"uptime_sec", msg.UptimeSec,
		"state", msg.Scale.State)
}

func (h *HealthPublisher) buildMessage(now time.Time) HealthMessage {
	return HealthMessage{
		Version:    1,
		Timestamp:  now.UTC().Format(time.RFC3339),
		InstanceID: h.instanceID,
		UptimeSec:  int64(now.Sub(h.startTime).Seconds()),
		Scale:      h.statsFunc(),
	}
}
