package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pushVideoFrame(t *testing.T, fq *FrameQueue, serial int, pts, duration time.Duration) {
	t.Helper()
	slot, err := fq.PeekWritable()
	require.NoError(t, err)
	*slot = Frame{Kind: FrameVideo, PTS: pts, HasPTS: true, Duration: duration, Serial: serial}
	fq.Push()
}

func newTestRefresher(t *testing.T) (*VideoRefresher, *FrameQueue, *PacketQueue) {
	t.Helper()
	pktq := NewPacketQueue()
	pktq.Start()
	videoQ := NewFrameQueue(pktq, 3, true)
	videoClk := NewClock(pktq.Serial)
	sync := NewSyncController(SyncPreferVideo, NewClock(nil), videoClk, NewClock(nil), false, true)

	r := NewVideoRefresher(videoQ, nil, sync, videoClk)
	r.Paused = func() bool { return false }
	return r, videoQ, pktq
}

func TestRefreshOnePresentsAnOverdueFrame(t *testing.T) {
	r, videoQ, pktq := newTestRefresher(t)
	pushVideoFrame(t, videoQ, pktq.Serial(), 0, 100*time.Millisecond)

	var presented []*Frame
	r.Present = func(f *Frame) { presented = append(presented, f) }

	r.RefreshOne(time.Now(), 50*time.Millisecond)
	require.Len(t, presented, 1)
	require.Equal(t, time.Duration(0), presented[0].PTS)

	// nothing new queued: a second pass should not re-present
	r.RefreshOne(time.Now(), 50*time.Millisecond)
	require.Len(t, presented, 1)
}

func TestRefreshOneWaitsForNotYetDueFrame(t *testing.T) {
	r, videoQ, pktq := newTestRefresher(t)
	now := time.Now()
	r.frameTimer = nowSeconds(now) + 0.2 // timer anchored 200ms ahead; with the 100ms duration the frame is due 300ms from now

	pushVideoFrame(t, videoQ, pktq.Serial(), 0, 100*time.Millisecond)

	var presented []*Frame
	r.Present = func(f *Frame) { presented = append(presented, f) }

	remaining := r.RefreshOne(now, 2*time.Second)
	require.Empty(t, presented, "frame not due yet should not be presented")
	require.Less(t, remaining, 2*time.Second, "remaining time should be clamped down to the wait until due")
	require.Greater(t, remaining, time.Duration(0))
}

func TestRefreshOneDropsLateFrameWhenNotVideoMaster(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	videoQ := NewFrameQueue(pktq, 3, true)
	videoClk := NewClock(pktq.Serial)
	audioClk := NewClock(nil)
	sync := NewSyncController(SyncPreferAudio, audioClk, videoClk, NewClock(nil), true, true)

	r := NewVideoRefresher(videoQ, nil, sync, videoClk)
	r.Paused = func() bool { return false }
	r.FrameDrop = true

	now := time.Now()
	// Pin the frame timer 50ms behind "now", close enough that the
	// catch-up reset (AVSyncThresholdMax == 100ms) doesn't fire, but far
	// enough that the next frame's nominal 10ms duration is already
	// exceeded, so it is reported as late.
	r.frameTimer = nowSeconds(now) - 0.05

	serial := pktq.Serial()
	pushVideoFrame(t, videoQ, serial, 0, 10*time.Millisecond)
	pushVideoFrame(t, videoQ, serial, 10*time.Millisecond, 10*time.Millisecond)

	var presented []*Frame
	r.Present = func(f *Frame) { presented = append(presented, f) }

	r.RefreshOne(now, 50*time.Millisecond)
	require.Equal(t, 1, r.FramesDropped())
	require.Len(t, presented, 1)
	require.Equal(t, 10*time.Millisecond, presented[0].PTS)
}
