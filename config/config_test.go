package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"app": {
			"name": "TestBridge",
			"instance_id": "lane-01"
		},
		"serial": {
			"device": "/dev/ttyUSB0",
			"baud_rate": 9600,
			"parity": "none",
			"stop_bits": 1,
			"data_bits": 8,
			"auto_resume": true
		},
		"scale": {
			"strategy": "window"
		},
		"store": {
			"path": "data/test.db",
			"wal_mode": true,
			"busy_timeout_sec": 5
		},
		"nats": {
			"enabled": true,
			"url": "nats://localhost:4222",
			"subject_prefix": "scale",
			"max_reconnects": -1,
			"reconnect_wait_sec": 5
		},
		"logging": {
			"base_path": "logs",
			"max_size_mb": 10,
			"max_backups": 3,
			"level": "info"
		},
		"monitoring": {
			"port": 8080
		},
		"recovery": {
			"reconnect": true,
			"reconnect_delay_sec": 2
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Name != "TestBridge" {
		t.Errorf("App.Name = %q, want %q", cfg.App.Name, "TestBridge")
	}
	if cfg.Serial.Device != "/dev/ttyUSB0" {
		t.Errorf("Serial.Device = %q, want %q", cfg.Serial.Device, "/dev/ttyUSB0")
	}
	if !cfg.Serial.AutoResume {
		t.Error("Serial.AutoResume = false, want true")
	}
	if cfg.Scale.Strategy != "window" {
		t.Errorf("Scale.Strategy = %q, want %q", cfg.Scale.Strategy, "window")
	}
	if cfg.NATS.MaxReconnects != -1 {
		t.Errorf("NATS.MaxReconnects = %d, want -1", cfg.NATS.MaxReconnects)
	}
	if cfg.Recovery.ReconnectDelaySec != 2 {
		t.Errorf("Recovery.ReconnectDelaySec = %d, want 2", cfg.Recovery.ReconnectDelaySec)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"serial": {"device": "/dev/ttyUSB0"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Serial.BaudRate != 9600 {
		t.Errorf("Serial.BaudRate = %d, want 9600", cfg.Serial.BaudRate)
	}
	if cfg.Serial.Parity != "none" {
		t.Errorf("Serial.Parity = %q, want none", cfg.Serial.Parity)
	}
	if cfg.Serial.StopBits != 1 {
		t.Errorf("Serial.StopBits = %d, want 1", cfg.Serial.StopBits)
	}
	if cfg.Serial.DataBits != 8 {
		t.Errorf("Serial.DataBits = %d, want 8", cfg.Serial.DataBits)
	}
	if cfg.Scale.Strategy != "window" {
		t.Errorf("Scale.Strategy = %q, want window", cfg.Scale.Strategy)
	}
	if cfg.Recovery.ReconnectDelaySec != 2 {
		t.Errorf("Recovery.ReconnectDelaySec = %d, want 2", cfg.Recovery.ReconnectDelaySec)
	}
	if cfg.Monitoring.Port != 8080 {
		t.Errorf("Monitoring.Port = %d, want 8080", cfg.Monitoring.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("Load() error = nil for missing file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"serial": `)
	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil for malformed JSON")
	}
}

func TestSavePersistsEdits(t *testing.T) {
	path := writeConfig(t, `{"serial": {"device": "/dev/ttyUSB0"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cfg.Serial.BaudRate = 19200
	cfg.Serial.Parity = "even"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after Save error = %v", err)
	}
	if reloaded.Serial.BaudRate != 19200 {
		t.Errorf("Serial.BaudRate = %d, want 19200", reloaded.Serial.BaudRate)
	}
	if reloaded.Serial.Parity != "even" {
		t.Errorf("Serial.Parity = %q, want even", reloaded.Serial.Parity)
	}
}
