package scale

import (
	"sync"
	"time"
)

// Stability tuning. These mirror the behavior of the scale firmware's own
// stable indicator and are deliberately not configurable.
const (
	// stabilityThreshold is the band, in kg, within which readings are
	// considered the same value.
	stabilityThreshold = 0.01

	// windowSize is the number of raw samples retained by the window
	// detector.
	windowSize = 10

	// stableSamples is how many consecutive in-band samples lock a value.
	stableSamples = 3

	// duplicateWindow suppresses re-emission of an equal locked value,
	// preventing duplicate sale triggers from a noisy plateau.
	duplicateWindow = 2000 * time.Millisecond

	// quiescenceDelay is how long a rounded value must hold before the
	// timer strategy locks it.
	quiescenceDelay = 800 * time.Millisecond
)

// StabilityDetector decides when a stream of raw weight samples has
// settled on a value safe to bill against, and when that trust must be
// revoked. Implementations report transitions through the lock/unlock
// callbacks passed at construction; callbacks run without detector
// locks held.
type StabilityDetector interface {
	// Offer feeds one raw sample. now is the sample arrival time.
	Offer(weight float64, now time.Time)

	// Reset clears the sample buffer and any held lock. Called on
	// disconnect and after a committed sale.
	Reset()

	// Locked reports whether a lock is currently held and its value.
	Locked() (float64, bool)
}

// WindowDetector implements the variance-window strategy: a rolling
// buffer of raw samples locks once the newest stableSamples all fall
// within stabilityThreshold of each other, emitting their mean rounded
// to three decimals.
type WindowDetector struct {
	mu           sync.Mutex
	samples      []float64
	locked       bool
	lockedWeight float64
	lastEmit     float64
	lastEmitTime time.Time

	onLock   func(weight float64)
	onUnlock func()
}

// NewWindowDetector creates a WindowDetector. Either callback may be nil.
func NewWindowDetector(onLock func(weight float64), onUnlock func()) *WindowDetector {
	return &WindowDetector{
		samples:  make([]float64, 0, windowSize),
		onLock:   onLock,
		onUnlock: onUnlock,
	}
}

func (d *WindowDetector) Offer(weight float64, now time.Time) {
	var (
		emitLock   bool
		emitUnlock bool
		lockValue  float64
	)

	d.mu.Lock()
	rounded := Round3(weight)

	if rounded <= 0 {
		// Item removed. Drop the lock and start the buffer clean so
		// stale samples cannot stabilize the next item.
		if d.locked {
			d.locked = false
			emitUnlock = true
		}
		d.samples = d.samples[:0]
		d.mu.Unlock()
		if emitUnlock && d.onUnlock != nil {
			d.onUnlock()
		}
		return
	}

	if d.locked && abs(weight-d.lockedWeight) > stabilityThreshold {
		// Weight moved off the locked value: item changed.
		d.locked = false
		emitUnlock = true
	}

	d.samples = append(d.samples, weight)
	if len(d.samples) > windowSize {
		d.samples = d.samples[1:]
	}

	if !d.locked && len(d.samples) >= stableSamples {
		recent := d.samples[len(d.samples)-stableSamples:]
		if spread(recent) <= stabilityThreshold {
			mean := Round3(avg(recent))
			duplicate := abs(mean-d.lastEmit) <= stabilityThreshold &&
				!d.lastEmitTime.IsZero() &&
				now.Sub(d.lastEmitTime) < duplicateWindow
			if mean > 0 && !duplicate {
				d.locked = true
				d.lockedWeight = mean
				d.lastEmit = mean
				d.lastEmitTime = now
				emitLock = true
				lockValue = mean
			}
		}
	}
	d.mu.Unlock()

	if emitUnlock && d.onUnlock != nil {
		d.onUnlock()
	}
	if emitLock && d.onLock != nil {
		d.onLock(lockValue)
	}
}

func (d *WindowDetector) Reset() {
	d.mu.Lock()
	d.samples = d.samples[:0]
	d.locked = false
	d.mu.Unlock()
}

func (d *WindowDetector) Locked() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lockedWeight, d.locked
}

// Timer is a cancellable scheduled callback handle. Stop is idempotent.
type Timer interface {
	Stop() bool
}

// Scheduler abstracts time.AfterFunc so the quiescence strategy can be
// tested without waiting on the wall clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler returns a Scheduler backed by time.AfterFunc.
func RealScheduler() Scheduler {
	return realScheduler{}
}

// QuiescenceDetector implements the timer strategy: a rounded value that
// holds unchanged for quiescenceDelay locks; any change cancels the
// pending timer and revokes a held lock.
type QuiescenceDetector struct {
	mu           sync.Mutex
	sched        Scheduler
	lastRounded  float64
	pending      Timer
	locked       bool
	lockedWeight float64

	onLock   func(weight float64)
	onUnlock func()
}

// NewQuiescenceDetector creates a QuiescenceDetector driven by sched.
// Either callback may be nil.
func NewQuiescenceDetector(sched Scheduler, onLock func(weight float64), onUnlock func()) *QuiescenceDetector {
	return &QuiescenceDetector{
		sched:    sched,
		onLock:   onLock,
		onUnlock: onUnlock,
	}
}

func (d *QuiescenceDetector) Offer(weight float64, now time.Time) {
	var emitUnlock bool

	d.mu.Lock()
	rounded := Round3(weight)

	switch {
	case rounded == 0:
		// Item removed: cancel any pending lock and revoke a held one.
		d.cancelPendingLocked()
		if d.locked {
			d.locked = false
			emitUnlock = true
		}
		d.lastRounded = 0

	case rounded != d.lastRounded:
		d.cancelPendingLocked()
		if d.locked {
			d.locked = false
			emitUnlock = true
		}
		d.lastRounded = rounded
		if rounded > 0 {
			d.armLocked(rounded)
		}

	default:
		// Unchanged value. Arm a timer if none is running and no lock
		// is held, so a plateau entered before a Reset still locks.
		if d.pending == nil && !d.locked && rounded > 0 {
			d.armLocked(rounded)
		}
	}
	d.mu.Unlock()

	if emitUnlock && d.onUnlock != nil {
		d.onUnlock()
	}
}

// armLocked schedules the lock timer for value. Caller holds d.mu.
func (d *QuiescenceDetector) armLocked(value float64) {
	d.pending = d.sched.AfterFunc(quiescenceDelay, func() {
		d.fire(value)
	})
}

// fire runs when the quiescence timer expires. The value only locks if
// it is still the current rounded reading.
func (d *QuiescenceDetector) fire(value float64) {
	d.mu.Lock()
	d.pending = nil
	if d.locked || d.lastRounded != value || value <= 0 {
		d.mu.Unlock()
		return
	}
	d.locked = true
	d.lockedWeight = value
	d.mu.Unlock()

	if d.onLock != nil {
		d.onLock(value)
	}
}

// cancelPendingLocked stops the pending timer if any. Caller holds d.mu.
func (d *QuiescenceDetector) cancelPendingLocked() {
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

func (d *QuiescenceDetector) Reset() {
	d.mu.Lock()
	d.cancelPendingLocked()
	d.locked = false
	d.lastRounded = 0
	d.mu.Unlock()
}

func (d *QuiescenceDetector) Locked() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lockedWeight, d.locked
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func spread(samples []float64) float64 {
	min, max := samples[0], samples[0]
	for _, s := range samples[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return max - min
}

func avg(samples []float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}
