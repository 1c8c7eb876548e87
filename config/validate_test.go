package config

import "testing"

func baseConfig() *Config {
	cfg := &Config{}
	cfg.Serial.Device = "/dev/ttyUSB0"
	cfg.setDefaults()
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := baseConfig().Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidateSerialFraming(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unsupported baud", func(c *Config) { c.Serial.BaudRate = 2400 }},
		{"bad parity", func(c *Config) { c.Serial.Parity = "mark" }},
		{"bad stop bits", func(c *Config) { c.Serial.StopBits = 3 }},
		{"bad data bits", func(c *Config) { c.Serial.DataBits = 7 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestValidateSupportedBaudRates(t *testing.T) {
	for _, baud := range []int{4800, 9600, 19200, 38400, 57600, 115200} {
		cfg := baseConfig()
		cfg.Serial.BaudRate = baud
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() with baud %d error = %v", baud, err)
		}
	}
}

func TestValidateStrategy(t *testing.T) {
	cfg := baseConfig()
	cfg.Scale.Strategy = "hybrid"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() error = nil for unknown strategy")
	}

	cfg.Scale.Strategy = "timer"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with timer strategy error = %v", err)
	}
}

func TestValidateRecoveryDelayBounds(t *testing.T) {
	cfg := baseConfig()
	cfg.Recovery.ReconnectDelaySec = 61
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() error = nil for out-of-range reconnect delay")
	}
}

func TestValidateSerialStandalone(t *testing.T) {
	s := SerialConfig{Device: "/dev/ttyUSB0", BaudRate: 115200, Parity: "odd", StopBits: 2, DataBits: 8}
	if err := ValidateSerial(s); err != nil {
		t.Errorf("ValidateSerial() error = %v, want nil", err)
	}

	s.BaudRate = 1200
	if err := ValidateSerial(s); err == nil {
		t.Error("ValidateSerial() error = nil for unsupported baud")
	}
}
