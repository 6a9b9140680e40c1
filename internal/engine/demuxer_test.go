package engine

import (
	"testing"
	"time"

	"github.com/erparts/reisen"
	"github.com/stretchr/testify/require"
)

// Routing packets through Demuxer.route requires a real *reisen.Packet,
// which only a live cgo decode can produce (same limitation as
// decoder_test.go). These tests exercise the rest of spec C5's loop —
// backpressure, seek, drain/loop detection, and abort — against the
// queues directly, the way the teacher's controllers never had the
// chance to since they had no unit tests at all.

func TestDemuxerAbortStopsRunImmediately(t *testing.T) {
	videoQ := NewPacketQueue()
	videoQ.Start()
	d := NewDemuxer(nil, videoQ, nil, nil, NewClock(nil))
	d.SetStreams(0, 0, 0, true, false, false)
	d.Abort()

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Abort")
	}
	require.True(t, videoQ.Aborted())
}

func TestDemuxerShouldBackoffWhenQueuesAreFull(t *testing.T) {
	videoQ := NewPacketQueue()
	videoQ.Start()
	d := NewDemuxer(nil, videoQ, nil, nil, NewClock(nil))
	d.SetStreams(0, 0, 0, true, false, false)
	require.False(t, d.shouldBackoff(), "empty queue should not trigger backoff")

	for i := 0; i < MinFramesForEnough+1; i++ {
		require.NoError(t, videoQ.Put(Packet{Duration: MinFramesForEnoughDur}))
	}
	require.True(t, d.shouldBackoff())
}

func TestDemuxerHandleSeekFlushesQueuesAndCallsSeeker(t *testing.T) {
	videoQ := NewPacketQueue()
	videoQ.Start()
	require.NoError(t, videoQ.Put(Packet{Size: 5}))

	extClk := NewClock(nil)
	d := NewDemuxer(nil, videoQ, nil, nil, extClk)
	d.SetStreams(0, 0, 0, true, false, false)

	var seekedTo time.Duration
	d.Seeker = func(target time.Duration, byBytes bool) error {
		seekedTo = target
		return nil
	}

	d.RequestSeek(5*time.Second, 0, false)
	require.NoError(t, d.handleSeek())

	require.Equal(t, 5*time.Second, seekedTo)
	require.Equal(t, 0, videoQ.Count(), "seek flushes the packet queue")
	require.InDelta(t, 5.0, extClk.Get(), 0.01)
}

func TestDemuxerHandleSeekAppliesRoundingCompensation(t *testing.T) {
	videoQ := NewPacketQueue()
	videoQ.Start()
	d := NewDemuxer(nil, videoQ, nil, nil, NewClock(nil))
	d.SetStreams(0, 0, 0, true, false, false)

	var seekedTo time.Duration
	d.Seeker = func(target time.Duration, byBytes bool) error {
		seekedTo = target
		return nil
	}

	d.RequestSeek(10*time.Second, -3*time.Second, false)
	require.NoError(t, d.handleSeek())
	require.Equal(t, 10*time.Second-3*time.Second-2*time.Millisecond, seekedTo)
}

func TestDemuxerIsDrainedRequiresEOFAndEmptyDownstream(t *testing.T) {
	videoQ := NewPacketQueue()
	videoQ.Start()
	d := NewDemuxer(nil, videoQ, nil, nil, NewClock(nil))
	d.SetStreams(0, 0, 0, true, false, false)
	d.DecodersFinished = func() bool { return true }
	d.FrameQueuesEmpty = func() bool { return true }

	require.False(t, d.isDrained(), "not drained until eof is observed")

	d.mu.Lock()
	d.eof = true
	d.mu.Unlock()
	require.True(t, d.isDrained())
}

func TestDemuxerLoopingReseeksToStartWhenDrained(t *testing.T) {
	videoQ := NewPacketQueue()
	videoQ.Start()
	d := NewDemuxer(&fakeNoPacketSource{}, videoQ, nil, nil, NewClock(nil))
	d.SetStreams(0, 0, 0, true, false, false)
	d.SetLoop(-1, false)
	d.DecodersFinished = func() bool { return true }
	d.FrameQueuesEmpty = func() bool { return true }

	var seeked time.Duration
	var seekCalled bool
	d.Seeker = func(target time.Duration, byBytes bool) error {
		seeked = target
		seekCalled = true
		return nil
	}

	d.mu.Lock()
	d.eof = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for !seekCalled {
			time.Sleep(time.Millisecond)
		}
		d.Abort()
		close(done)
	}()

	errc := make(chan error, 1)
	go func() { errc <- d.Run() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("looping demuxer never issued a restart seek")
	}
	<-errc
	require.Equal(t, time.Duration(0), seeked)
}

type fakeNoPacketSource struct{}

func (fakeNoPacketSource) ReadPacket() (*reisen.Packet, bool, error) { return nil, false, nil }
