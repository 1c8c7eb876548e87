package serial

import (
	"fmt"

	"go.bug.st/serial"
)

// Provider abstracts the host's view of attached serial devices so the
// connection manager has no direct dependency on any runtime global.
// The auto-resume path uses it to decide whether the previously
// configured port is still present before silently reopening it.
type Provider interface {
	// ListPorts returns the device paths of all attached serial ports.
	ListPorts() ([]string, error)

	// Open opens a port with the given framing.
	Open(device string, cfg Config) (Reader, error)
}

// HostProvider is the Provider backed by the operating system's serial
// stack via go.bug.st/serial.
type HostProvider struct{}

// NewHostProvider returns a Provider for the local machine.
func NewHostProvider() *HostProvider {
	return &HostProvider{}
}

// ListPorts enumerates attached serial devices.
func (p *HostProvider) ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}

// Open opens the named device.
func (p *HostProvider) Open(device string, cfg Config) (Reader, error) {
	return Open(device, cfg)
}

// HasPort reports whether device appears in the provider's port list.
func HasPort(p Provider, device string) bool {
	ports, err := p.ListPorts()
	if err != nil {
		return false
	}
	for _, port := range ports {
		if port == device {
			return true
		}
	}
	return false
}
