package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockStartsNaN(t *testing.T) {
	c := NewClock(nil)
	require.True(t, math.IsNaN(c.Get()))
}

func TestClockDriftsWithWallTime(t *testing.T) {
	base := time.Now()
	c := NewClock(nil)
	c.SetAt(10.0, 1, base)

	v := c.noLockGetAt(base.Add(500 * time.Millisecond))
	require.InDelta(t, 10.5, v, 0.01)
}

func TestClockPausedValueDoesNotDrift(t *testing.T) {
	base := time.Now()
	c := NewClock(nil)
	c.SetAt(5.0, 1, base)
	c.SetPaused(true)

	v := c.noLockGetAt(base.Add(2 * time.Second))
	require.InDelta(t, 5.0, v, 1e-9)
}

func TestClockObsoleteWhenQueueSerialMoves(t *testing.T) {
	serial := 1
	c := NewClock(func() int { return serial })
	c.Set(1.0, 1)
	require.False(t, math.IsNaN(c.Get()))

	serial = 2
	require.True(t, math.IsNaN(c.Get()))
}

func TestClockSetSpeedKeepsValueContinuous(t *testing.T) {
	base := time.Now()
	c := NewClock(nil)
	c.SetAt(1.0, 1, base)

	before := c.noLockGetAt(base)
	c.SetSpeed(2.0)
	after := c.noLockGetAt(base)
	require.InDelta(t, before, after, 0.01)
	require.Equal(t, 2.0, c.Speed())
}

func TestClockSyncSlaveToOnlyWhenDrifted(t *testing.T) {
	master := NewClock(nil)
	master.Set(100.0, 7)

	slave := NewClock(nil)
	slave.Set(100.05, 7)
	slave.SyncSlaveTo(master)
	require.InDelta(t, 100.05, slave.Get(), 0.05)

	slave.SetAt(100.0-NoSyncThreshold.Seconds()-1, 7, time.Now())
	slave.SyncSlaveTo(master)
	require.InDelta(t, master.Get(), slave.Get(), 0.05)
}
