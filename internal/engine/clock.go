package engine

import (
	"math"
	"sync"
	"time"
)

// nan is a convenience for "no valid value" / "obsolete" readings, used
// the same way ffplay uses NAN for clock values (original_source/ffplay.c
// get_clock/set_clock_at).
const nan = math.NaN()

func isNaN(f float64) bool { return math.IsNaN(f) }

// Clock is a drift-based wall clock with pause, speed and obsolescence
// via a tracked queue serial (spec C3).
//
// Reads are unsynchronized snapshots by design (spec §9 "Clocks are value
// types"): they feed sync heuristics, not correctness invariants, so the
// mutex here only protects internal consistency between fields, not
// cross-call atomicity with the caller's use of the result.
type Clock struct {
	mu         sync.Mutex
	ptsSeconds float64
	ptsDrift   float64
	lastUpdate time.Time
	speed      float64
	paused     bool
	serial     int

	queueSerial func() int // current serial of the tracked packet queue
}

// NewClock creates a clock tracking queueSerial's current value for
// obsolescence checks. queueSerial may be nil, in which case the clock
// never considers itself obsolete.
func NewClock(queueSerial func() int) *Clock {
	c := &Clock{
		ptsSeconds: nan,
		ptsDrift:   nan,
		speed:      1.0,
		serial:     -1,
		queueSerial: queueSerial,
	}
	return c
}

func (c *Clock) trackedSerial() int {
	if c.queueSerial == nil {
		return c.serial
	}
	return c.queueSerial()
}

// Get returns the clock's current value in seconds, or NaN if the
// underlying packet queue has moved to a newer serial ("obsolete"), paused
// or not, per spec C3.
func (c *Clock) Get() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noLockGetAt(time.Now())
}

func (c *Clock) noLockGetAt(now time.Time) float64 {
	if c.trackedSerial() != c.serial {
		return nan
	}
	if c.paused {
		return c.ptsSeconds
	}
	nowSec := nowSeconds(now)
	elapsed := nowSec - nowSeconds(c.lastUpdate)
	return c.ptsDrift + nowSec + (c.speed-1)*elapsed
}

// SetAt anchors the clock so that Get() at time `at` would return pts,
// tagging the anchor with serial.
func (c *Clock) SetAt(pts float64, serial int, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noLockSetAt(pts, serial, at)
}

func (c *Clock) noLockSetAt(pts float64, serial int, at time.Time) {
	c.ptsSeconds = pts
	c.lastUpdate = at
	c.ptsDrift = pts - nowSeconds(at)
	c.serial = serial
}

// Set anchors the clock at the current wall-clock time.
func (c *Clock) Set(pts float64, serial int) {
	c.SetAt(pts, serial, time.Now())
}

// SetSpeed anchors the currently observed value, then changes speed, so
// the displayed time is continuous across the speed change.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	current := c.noLockGetAt(now)
	if !isNaN(current) {
		c.noLockSetAt(current, c.serial, now)
	}
	c.speed = speed
}

// Speed returns the clock's current speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetPaused sets the paused flag. Callers that want a glitch-free pause
// should re-anchor with SetAt at the current value first (see
// Orchestrator's pause toggle, spec §4.9).
func (c *Clock) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
}

// Paused reports whether the clock is currently paused.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Serial returns the serial this clock was last anchored with.
func (c *Clock) Serial() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

// SyncSlaveTo copies other's current value into c, but only when the two
// clocks have drifted apart by more than NoSyncThreshold, or c is
// currently NaN (spec C3).
func (c *Clock) SyncSlaveTo(other *Clock) {
	selfVal := c.Get()
	otherVal := other.Get()
	if isNaN(otherVal) {
		return
	}
	if isNaN(selfVal) || math.Abs(selfVal-otherVal) > NoSyncThreshold.Seconds() {
		c.Set(otherVal, other.Serial())
	}
}

func nowSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
