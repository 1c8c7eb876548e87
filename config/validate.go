package config

import "fmt"

var (
	// Bit rates supported by the scales we bridge
	validBaudRates = map[int]bool{
		4800:   true,
		9600:   true,
		19200:  true,
		38400:  true,
		57600:  true,
		115200: true,
	}

	validParities = map[string]bool{
		"none": true,
		"even": true,
		"odd":  true,
	}

	validStrategies = map[string]bool{
		"window": true,
		"timer":  true,
	}

	validLogLevels = map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
)

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Serial.validate(); err != nil {
		return fmt.Errorf("serial config: %w", err)
	}

	if err := c.Scale.validate(); err != nil {
		return fmt.Errorf("scale config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.validateMonitoring(); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}

	if err := c.validateRecovery(); err != nil {
		return fmt.Errorf("recovery config: %w", err)
	}

	return nil
}

// validate checks the transport framing. Exported through Validate and
// also used on its own when the API edits serial settings at runtime.
func (s *SerialConfig) validate() error {
	if !validBaudRates[s.BaudRate] {
		return fmt.Errorf("unsupported baud rate: %d", s.BaudRate)
	}
	if !validParities[s.Parity] {
		return fmt.Errorf("invalid parity: %q", s.Parity)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("invalid stop bits: %d", s.StopBits)
	}
	if s.DataBits != 8 {
		return fmt.Errorf("unsupported data bits: %d (scales use 8)", s.DataBits)
	}
	return nil
}

func (s *ScaleConfig) validate() error {
	if !validStrategies[s.Strategy] {
		return fmt.Errorf("unknown stability strategy: %q", s.Strategy)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("max_size_mb must be at least 1, got %d", c.Logging.MaxSizeMB)
	}
	return nil
}

func (c *Config) validateMonitoring() error {
	if c.Monitoring.Port < 1 || c.Monitoring.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Monitoring.Port)
	}
	return nil
}

func (c *Config) validateRecovery() error {
	if c.Recovery.ReconnectDelaySec < 1 || c.Recovery.ReconnectDelaySec > 60 {
		return fmt.Errorf("reconnect_delay_sec must be 1-60, got %d", c.Recovery.ReconnectDelaySec)
	}
	return nil
}

// ValidateSerial validates a serial configuration on its own, for edits
// arriving through the API.
func ValidateSerial(s SerialConfig) error {
	return s.validate()
}
