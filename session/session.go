// Package session owns the scale connection lifecycle: opening the
// transport, running the read loop, reconnecting after drops and
// tracking the authoritative scale state.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"scalebridge/config"
	"scalebridge/scale"
	"scalebridge/serial"
)

var (
	// ErrUnsupportedTransport means the host has no usable serial stack.
	// The connect attempt is fatal; the user must switch environments.
	ErrUnsupportedTransport = errors.New("serial transport unavailable")

	// ErrOpenFailed wraps a rejected port open (permissions, busy
	// device, wrong parameters). Retryable by user action.
	ErrOpenFailed = errors.New("failed to open scale port")

	// ErrConnectionLost marks an unexpected read-loop exit.
	ErrConnectionLost = errors.New("scale connection lost")
)

// maxLineBytes bounds the pending-fragment buffer. A scale line is tens
// of bytes; anything beyond this is garbage framing.
const maxLineBytes = 64 * 1024

// Stats tracks counters for the status API.
type Stats struct {
	BytesRead   int64     `json:"bytes_read"`
	LinesRead   int64     `json:"lines_read"`
	ParseSkips  int64     `json:"parse_skips"`
	Errors      int64     `json:"errors"`
	Reconnects  int64     `json:"reconnects"`
	LastLine    time.Time `json:"last_line,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
}

// Events are the session's outbound notifications. All fields are
// optional; callbacks run on the read-loop goroutine (or the quiescence
// timer goroutine) and must not block.
type Events struct {
	OnReading     func(scale.WeightData)
	OnStable      func(scale.WeightData)
	OnStateChange func(scale.State)
	OnError       func(error)
}

// Session is the single owner of the transport handle and the read
// loop. All connection state mutation happens on the loop goroutine;
// other goroutines get snapshots through the mutex.
type Session struct {
	cfg      *config.Config
	provider serial.Provider
	detector scale.StabilityDetector
	events   Events
	logger   *slog.Logger

	// lifecycleMu serializes Connect and Disconnect so concurrent
	// callers can never interleave the teardown/open transition and
	// leave two read loops owning one logical connection.
	lifecycleMu sync.Mutex

	mu              sync.RWMutex
	state           scale.State
	current         scale.WeightData
	stable          *scale.WeightData
	lastRef         string
	lastErr         error
	reader          *serial.ReaderWithStats
	running         bool
	shouldReconnect bool
	stopCh          chan struct{}
	wg              sync.WaitGroup
	stats           Stats
}

// New creates a Session. The stability strategy comes from cfg and is
// fixed for the session's lifetime.
func New(cfg *config.Config, provider serial.Provider, events Events, logger *slog.Logger) *Session {
	s := &Session{
		cfg:      cfg,
		provider: provider,
		events:   events,
		logger:   logger,
		state:    scale.StateDisconnected,
	}

	switch cfg.Scale.Strategy {
	case "timer":
		s.detector = scale.NewQuiescenceDetector(scale.RealScheduler(), s.handleLock, s.handleUnlock)
	default:
		s.detector = scale.NewWindowDetector(s.handleLock, s.handleUnlock)
	}

	return s
}

// Connect opens the configured port and starts the read loop. Any
// previous loop, including a pending reconnect wait, is torn down first
// so two loops can never run against the same logical connection.
// Concurrent Connect and Disconnect calls queue on the lifecycle lock.
func (s *Session) Connect(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.disconnectLocked()

	device := s.cfg.Serial.Device
	if device == "" {
		err := fmt.Errorf("%w: no device configured", ErrOpenFailed)
		s.setError(err)
		return err
	}

	if _, err := s.provider.ListPorts(); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrUnsupportedTransport, err)
		s.setError(wrapped)
		return wrapped
	}

	reader, err := s.open(device)
	if err != nil {
		s.setError(err)
		return err
	}

	s.mu.Lock()
	s.reader = serial.NewReaderWithStats(reader)
	s.running = true
	s.shouldReconnect = s.cfg.Recovery.Reconnect
	s.stopCh = make(chan struct{})
	s.lastErr = nil
	s.stats = Stats{ConnectedAt: time.Now()}
	stopCh := s.stopCh
	s.mu.Unlock()

	s.setState(scale.StateConnected)
	s.logger.Info("Scale connected",
		"device", device,
		"baud", s.cfg.Serial.BaudRate,
		"parity", s.cfg.Serial.Parity,
		"stop_bits", s.cfg.Serial.StopBits)

	s.wg.Add(1)
	go s.run(ctx, stopCh)

	return nil
}

func (s *Session) open(device string) (serial.Reader, error) {
	reader, err := s.provider.Open(device, serial.Config{
		BaudRate: s.cfg.Serial.BaudRate,
		DataBits: s.cfg.Serial.DataBits,
		Parity:   s.cfg.Serial.Parity,
		StopBits: s.cfg.Serial.StopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	return reader, nil
}

// AutoResume silently reopens the previously configured port at
// startup. Failure is logged, never surfaced: the operator connects
// manually instead.
func (s *Session) AutoResume(ctx context.Context) {
	if !s.cfg.Serial.AutoResume || s.cfg.Serial.Device == "" {
		return
	}

	if !serial.HasPort(s.provider, s.cfg.Serial.Device) {
		s.logger.Info("Auto-resume skipped, configured port not attached",
			"device", s.cfg.Serial.Device)
		return
	}

	if err := s.Connect(ctx); err != nil {
		s.logger.Info("Auto-resume failed, waiting for manual connect",
			"device", s.cfg.Serial.Device, "error", err)
		s.clearError()
	}
}

// Disconnect tears the connection down: clears the running flag first
// so the read-loop exit counts as a clean close, cancels a pending
// reconnect, closes the port best-effort and resets all weight state.
// Idempotent.
func (s *Session) Disconnect() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.disconnectLocked()
}

// disconnectLocked is the teardown body; callers hold lifecycleMu.
func (s *Session) disconnectLocked() {
	s.mu.Lock()
	wasRunning := s.stopCh != nil
	if wasRunning {
		s.running = false
		s.shouldReconnect = false
		close(s.stopCh)
		s.stopCh = nil
	}
	s.mu.Unlock()

	if !wasRunning {
		return
	}

	s.wg.Wait()
	s.closeReader()
	s.clearWeights()
	s.detector.Reset()
	s.setState(scale.StateDisconnected)
	s.logger.Info("Scale disconnected", "device", s.cfg.Serial.Device)
}

// run is the session's lifecycle loop: one read session, then a fixed
// cancellable backoff and a reopen attempt for as long as reconnection
// is wanted. Exactly one pending retry exists at any time.
func (s *Session) run(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	for {
		if s.hasReader() {
			err := s.readLoop(ctx, stopCh)
			s.closeReader()

			if err == nil {
				// Clean close requested by Disconnect or context.
				return
			}
			s.handleConnectionLost(err)
		}

		if !s.reconnectWanted() {
			return
		}

		delay := s.cfg.Recovery.ReconnectDelay()
		s.logger.Info("Waiting before reconnection attempt",
			"device", s.cfg.Serial.Device, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-time.After(delay):
		}

		if err := s.reopen(); err != nil {
			// Back into another backoff wait; the port may still be
			// unplugged.
			s.logger.Warn("Reconnect attempt failed",
				"device", s.cfg.Serial.Device, "error", err)
		}
	}
}

// readLoop reads decoded chunks, splits them on line terminators
// keeping the incomplete trailing fragment, and feeds complete lines
// into the parser and stability detector. Returns nil on a requested
// stop and ErrConnectionLost when the stream dies while running.
func (s *Session) readLoop(ctx context.Context, stopCh <-chan struct{}) error {
	s.mu.RLock()
	reader := s.reader
	s.mu.RUnlock()

	if reader == nil {
		return fmt.Errorf("%w: no open port", ErrConnectionLost)
	}

	buf := make([]byte, 4096)
	var pending []byte

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopCh:
			return nil
		default:
		}

		n, err := reader.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = s.drainLines(pending)
			if len(pending) > maxLineBytes {
				// Garbage framing; drop the fragment rather than grow
				// without bound.
				pending = pending[:0]
				reader.IncrementErrors()
			}
		}

		if err != nil {
			if !s.isRunning() {
				return nil
			}
			if err == io.EOF {
				return fmt.Errorf("%w: stream ended", ErrConnectionLost)
			}
			reader.IncrementErrors()
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}

		// n == 0 with nil error is a read timeout: loop back and check
		// the stop signals.
	}
}

// drainLines processes every complete line in pending and returns the
// unterminated remainder.
func (s *Session) drainLines(pending []byte) []byte {
	for {
		idx := bytes.IndexByte(pending, '\n')
		if idx < 0 {
			return pending
		}
		line := string(bytes.TrimRight(pending[:idx], "\r"))
		pending = pending[idx+1:]
		if line != "" {
			s.processLine(line)
		}
	}
}

// processLine runs one parsed sample through the stability pipeline.
func (s *Session) processLine(line string) {
	s.mu.Lock()
	if s.reader != nil {
		s.reader.LineRead()
	}
	s.stats.LastLine = time.Now()
	s.mu.Unlock()

	reading, ok := scale.Parse(line)
	if !ok {
		// Not an error: partial or non-weight chatter from the device.
		s.mu.Lock()
		s.stats.ParseSkips++
		s.mu.Unlock()
		s.logger.Debug("Skipped unparseable line", "line", line)
		return
	}

	now := time.Now()
	data := scale.WeightData{
		Weight:     reading.Weight,
		ProductRef: reading.ProductRef,
		Timestamp:  now,
	}

	s.mu.Lock()
	s.current = data
	if reading.ProductRef != "" {
		s.lastRef = reading.ProductRef
	}
	firstSample := s.state == scale.StateConnected
	s.mu.Unlock()

	if firstSample {
		s.setState(scale.StateWeighing)
	}
	if s.events.OnReading != nil {
		s.events.OnReading(data)
	}

	s.detector.Offer(reading.Weight, now)
}

// handleLock runs when the stability detector locks a value.
func (s *Session) handleLock(weight float64) {
	s.mu.Lock()
	data := scale.WeightData{
		Weight:     weight,
		Stable:     true,
		ProductRef: s.lastRef,
		Timestamp:  time.Now(),
	}
	s.stable = &data
	s.mu.Unlock()

	s.setState(scale.StateStable)
	s.logger.Info("Weight locked", "weight_kg", weight, "product_ref", data.ProductRef)

	if s.events.OnStable != nil {
		s.events.OnStable(data)
	}
}

// handleUnlock runs when the lock is revoked (item removed or changed).
func (s *Session) handleUnlock() {
	s.mu.Lock()
	s.stable = nil
	wasStable := s.state == scale.StateStable
	s.mu.Unlock()

	if wasStable {
		s.setState(scale.StateWeighing)
	}
	s.logger.Debug("Weight lock released")
}

// handleConnectionLost records the failure and moves to Disconnected.
// Every failure path lands in an explicit state.
func (s *Session) handleConnectionLost(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.stats.Reconnects++
	s.mu.Unlock()

	s.clearWeights()
	s.detector.Reset()
	s.setState(scale.StateDisconnected)

	s.logger.Error("Scale connection lost", "device", s.cfg.Serial.Device, "error", err)
	if s.events.OnError != nil {
		s.events.OnError(err)
	}
}

// reopen re-establishes the port after a backoff wait.
func (s *Session) reopen() error {
	reader, err := s.open(s.cfg.Serial.Device)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.reader = serial.NewReaderWithStats(reader)
	s.lastErr = nil
	s.stats.ConnectedAt = time.Now()
	s.mu.Unlock()

	s.setState(scale.StateConnected)
	s.logger.Info("Scale reconnected", "device", s.cfg.Serial.Device)
	return nil
}

func (s *Session) closeReader() {
	s.mu.Lock()
	reader := s.reader
	s.reader = nil
	if reader != nil {
		// Fold the closing reader's counters into the session totals so
		// they survive the next reopen.
		bytesRead, linesRead, errCount := reader.Stats()
		s.stats.BytesRead += bytesRead
		s.stats.LinesRead += linesRead
		s.stats.Errors += errCount
	}
	s.mu.Unlock()

	if reader != nil {
		// Best effort: the port may already be gone.
		_ = reader.Close()
	}
}

func (s *Session) clearWeights() {
	s.mu.Lock()
	s.current = scale.WeightData{}
	s.stable = nil
	s.lastRef = ""
	s.mu.Unlock()
}

func (s *Session) setState(state scale.State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed {
		s.logger.Debug("State changed", "state", state.String())
		if s.events.OnStateChange != nil {
			s.events.OnStateChange(state)
		}
	}
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if s.events.OnError != nil {
		s.events.OnError(err)
	}
}

func (s *Session) clearError() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
}

func (s *Session) hasReader() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader != nil
}

func (s *Session) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Session) reconnectWanted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running && s.shouldReconnect
}

// State returns the authoritative scale state.
func (s *Session) State() scale.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether a read loop owns the transport.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Current returns the live (possibly fluctuating) reading.
func (s *Session) Current() (scale.WeightData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, !s.current.Timestamp.IsZero()
}

// StableWeight returns the last locked reading, if a lock is held.
func (s *Session) StableWeight() (scale.WeightData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stable == nil {
		return scale.WeightData{}, false
	}
	return *s.stable, true
}

// LastError returns the retained error shown in the connection UI until
// the next successful operation clears it.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Stats returns a snapshot of the session counters merged with the
// current reader's byte counts. Counters reset on Connect and
// accumulate across automatic reconnects within one connection.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	if s.reader != nil {
		bytesRead, linesRead, errCount := s.reader.Stats()
		stats.BytesRead += bytesRead
		stats.LinesRead += linesRead
		stats.Errors += errCount
	}
	return stats
}

// ResetDetector clears the stability lock and sample buffer. Called
// after a committed sale so the next item starts from a clean state.
func (s *Session) ResetDetector() {
	s.detector.Reset()

	s.mu.Lock()
	s.stable = nil
	wasStable := s.state == scale.StateStable
	s.mu.Unlock()

	if wasStable {
		s.setState(scale.StateWeighing)
	}
}
