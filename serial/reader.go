package serial

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout is the read timeout used during normal operation.
// Short enough that the read loop notices a disconnect request quickly.
const DefaultReadTimeout = 500 * time.Millisecond

// Config holds the transport framing parameters for one port.
type Config struct {
	BaudRate int
	DataBits int
	Parity   string // "none", "even", "odd"
	StopBits int    // 1 or 2
}

// Reader is the serial port abstraction the read loop consumes.
type Reader interface {
	io.Reader
	io.Closer
	Device() string
	IsOpen() bool
	SetReadTimeout(timeout time.Duration) error
}

// PortReader implements Reader using go.bug.st/serial.
type PortReader struct {
	device string
	port   serial.Port
	cfg    Config
	isOpen bool
	mu     sync.Mutex
}

// Open opens device with the given framing and a default read timeout.
func Open(device string, cfg Config) (*PortReader, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   parityMode(cfg.Parity),
		StopBits: stopBitsMode(cfg.StopBits),
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}

	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &PortReader{
		device: device,
		port:   port,
		cfg:    cfg,
		isOpen: true,
	}, nil
}

func parityMode(parity string) serial.Parity {
	switch parity {
	case "even":
		return serial.EvenParity
	case "odd":
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

func stopBitsMode(stopBits int) serial.StopBits {
	if stopBits == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

// Read implements io.Reader
func (r *PortReader) Read(p []byte) (n int, err error) {
	r.mu.Lock()
	port := r.port
	r.mu.Unlock()

	if port == nil {
		return 0, fmt.Errorf("port not open")
	}

	return port.Read(p)
}

// Close implements io.Closer. Safe to call more than once.
func (r *PortReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isOpen || r.port == nil {
		return nil
	}

	err := r.port.Close()
	r.port = nil
	r.isOpen = false

	return err
}

// Device returns the device path
func (r *PortReader) Device() string {
	return r.device
}

// IsOpen returns true if the port is open
func (r *PortReader) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isOpen
}

// SetReadTimeout changes the blocking read timeout.
func (r *PortReader) SetReadTimeout(timeout time.Duration) error {
	r.mu.Lock()
	port := r.port
	r.mu.Unlock()

	if port == nil {
		return fmt.Errorf("port not open")
	}
	return port.SetReadTimeout(timeout)
}

// ReaderWithStats wraps a Reader to track byte, line and error counts
// for the status API.
type ReaderWithStats struct {
	reader    Reader
	bytesRead int64
	linesRead int64
	errors    int64
	mu        sync.RWMutex
}

// NewReaderWithStats creates a new ReaderWithStats
func NewReaderWithStats(reader Reader) *ReaderWithStats {
	return &ReaderWithStats{
		reader: reader,
	}
}

// Read implements io.Reader and tracks bytes read
func (r *ReaderWithStats) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)

	r.mu.Lock()
	r.bytesRead += int64(n)
	if err != nil && err != io.EOF {
		r.errors++
	}
	r.mu.Unlock()

	return n, err
}

// Close implements io.Closer
func (r *ReaderWithStats) Close() error {
	return r.reader.Close()
}

// Device returns the device path
func (r *ReaderWithStats) Device() string {
	return r.reader.Device()
}

// IsOpen returns true if the port is open
func (r *ReaderWithStats) IsOpen() bool {
	return r.reader.IsOpen()
}

// SetReadTimeout sets the timeout on the underlying reader
func (r *ReaderWithStats) SetReadTimeout(timeout time.Duration) error {
	return r.reader.SetReadTimeout(timeout)
}

// LineRead increments the line counter
func (r *ReaderWithStats) LineRead() {
	r.mu.Lock()
	r.linesRead++
	r.mu.Unlock()
}

// IncrementErrors increments the error counter
func (r *ReaderWithStats) IncrementErrors() {
	r.mu.Lock()
	r.errors++
	r.mu.Unlock()
}

// Stats returns current statistics
func (r *ReaderWithStats) Stats() (bytesRead, linesRead, errors int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bytesRead, r.linesRead, r.errors
}

// ResetStats resets all statistics
func (r *ReaderWithStats) ResetStats() {
	r.mu.Lock()
	r.bytesRead = 0
	r.linesRead = 0
	r.errors = 0
	r.mu.Unlock()
}
