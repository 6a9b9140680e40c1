package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSync(cfg SyncConfig, hasAudio, hasVideo bool) (*SyncController, *Clock, *Clock, *Clock) {
	audioClk := NewClock(nil)
	videoClk := NewClock(nil)
	extClk := NewClock(nil)
	s := NewSyncController(cfg, audioClk, videoClk, extClk, hasAudio, hasVideo)
	return s, audioClk, videoClk, extClk
}

func TestMasterSyncTypeSelection(t *testing.T) {
	s, _, _, _ := newTestSync(SyncPreferAudio, true, true)
	require.Equal(t, SyncAudioMaster, s.GetMasterSyncType())

	s, _, _, _ = newTestSync(SyncPreferAudio, false, true)
	require.Equal(t, SyncExternalClock, s.GetMasterSyncType())

	s, _, _, _ = newTestSync(SyncPreferVideo, false, true)
	require.Equal(t, SyncVideoMaster, s.GetMasterSyncType())

	s, _, _, _ = newTestSync(SyncPreferExternal, true, true)
	require.Equal(t, SyncExternalClock, s.GetMasterSyncType())
}

func TestSynchronizeAudioPassthroughWhenAudioIsMaster(t *testing.T) {
	s, _, _, _ := newTestSync(SyncPreferAudio, true, true)
	require.Equal(t, 1024, s.SynchronizeAudio(1024))
}

func TestSynchronizeAudioWarmupDoesNotAdjust(t *testing.T) {
	s, audioClk, _, extClk := newTestSync(SyncPreferExternal, true, false)
	audioClk.Set(1.0, 1)
	extClk.Set(0.0, 1)

	for i := 0; i < AudioDiffAvgNB-1; i++ {
		got := s.SynchronizeAudio(1024)
		require.Equal(t, 1024, got, "should not adjust before warm-up count is reached")
	}
}

func TestComputeTargetDelayPassthroughWhenVideoIsMaster(t *testing.T) {
	s, _, _, _ := newTestSync(SyncPreferVideo, false, true)
	delay := 40 * time.Millisecond
	require.Equal(t, delay, s.ComputeTargetDelay(delay, time.Second))
}

func TestComputeTargetDelaySpeedsUpWhenVideoIsBehind(t *testing.T) {
	s, _, videoClk, extClk := newTestSync(SyncPreferExternal, false, true)
	extClk.Set(10.0, 1)
	videoClk.Set(9.5, 1) // video lags master by 500ms, well past AVSyncThresholdMax

	delay := 40 * time.Millisecond
	got := s.ComputeTargetDelay(delay, time.Second)
	require.Less(t, got, delay)
}

func TestSynchronizeAudioIgnoresDriftBelowHWBuffer(t *testing.T) {
	s, audioClk, _, extClk := newTestSync(SyncPreferExternal, true, false)
	audioClk.Set(1.005, 1)
	extClk.Set(1.0, 1) // 5ms drift
	s.HWBufferSeconds = 0.02 // 20ms device buffer, bigger than the drift

	var got int
	for i := 0; i < AudioDiffAvgNB+5; i++ {
		got = s.SynchronizeAudio(1024)
	}
	require.Equal(t, 1024, got, "drift below the device buffer size should not trigger correction")
}

func TestSynchronizeAudioCorrectsDriftPastHWBufferAfterWarmup(t *testing.T) {
	s, audioClk, _, extClk := newTestSync(SyncPreferExternal, true, false)
	audioClk.Set(1.05, 1)
	extClk.Set(1.0, 1) // 50ms drift
	s.HWBufferSeconds = 0.02 // 20ms device buffer, smaller than the drift
	s.AudioSampleRate = 48000

	var got int
	for i := 0; i < AudioDiffAvgNB+5; i++ {
		got = s.SynchronizeAudio(1024)
	}
	require.NotEqual(t, 1024, got, "drift past the device buffer size should trigger sample-count correction once warmed up")
}

func TestCheckExternalClockSpeedStarvingSlowsDown(t *testing.T) {
	s, _, _, extClk := newTestSync(SyncPreferExternal, true, true)
	videoQ := NewPacketQueue()
	videoQ.Start()
	audioQ := NewPacketQueue()
	audioQ.Start()

	before := extClk.Speed()
	s.CheckExternalClockSpeed(videoQ, audioQ, true, true)
	require.LessOrEqual(t, extClk.Speed(), before)
}
