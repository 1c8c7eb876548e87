package output

import (
	"testing"
	"time"
)

func TestHealthMessageContents(t *testing.T) {
	h := NewHealthPublisher(&HealthPublisherConfig{
		Subject:    "scale.health.lane-01",
		InstanceID: "lane-01",
		Logger:     testLogger(),
		StatsFunc: func() HealthStats {
			return HealthStats{
				State:       "weighing",
				Device:      "/dev/ttyUSB0",
				Connected:   true,
				LinesRead:   42,
				LastLineAgo: 1,
			}
		},
	})

	msg := h.buildMessage(h.startTime.Add(90 * time.Second))

	if msg.Version != 1 {
		t.Errorf("Version = %d, want 1", msg.Version)
	}
	if msg.InstanceID != "lane-01" {
		t.Errorf("InstanceID = %q, want lane-01", msg.InstanceID)
	}
	if msg.UptimeSec != 90 {
		t.Errorf("UptimeSec = %d, want 90", msg.UptimeSec)
	}
	if msg.Scale.State != "weighing" || msg.Scale.LinesRead != 42 {
		t.Errorf("Scale = %+v, want callback snapshot", msg.Scale)
	}
}

func TestHealthPublisherDefaultInterval(t *testing.T) {
	h := NewHealthPublisher(&HealthPublisherConfig{
		Logger:    testLogger(),
		StatsFunc: func() HealthStats { return HealthStats{} },
	})

	if h.interval != 60*time.Second {
		t.Errorf("interval = %v, want 60s default", h.interval)
	}
}

func TestHealthPublisherWithoutNATS(t *testing.T) {
	h := NewHealthPublisher(&HealthPublisherConfig{
		Subject:   "scale.health.lane-01",
		Logger:    testLogger(),
		StatsFunc: func() HealthStats { return HealthStats{} },
	})

	// No NATS connection: the loop must run and stop without publishing.
	h.Start()
	h.Stop()
}
