package engine

import (
	"math"
	"time"
)

// SyncConfig selects the user-requested master clock preference
// (spec §6 "-sync {audio|video|ext}").
type SyncConfig uint8

const (
	SyncPreferAudio SyncConfig = iota
	SyncPreferVideo
	SyncPreferExternal
)

// SyncController implements the master-clock selection and slave
// correction math of spec C8. It operates purely on *Clock values and has
// no dependency on reisen or ebiten, so it is fully unit-testable.
type SyncController struct {
	Config SyncConfig

	AudioClock    *Clock
	VideoClock    *Clock
	ExternalClock *Clock

	hasAudioStream bool
	hasVideoStream bool

	audioDiffCum   float64
	audioDiffAvgCount int
	audioDiffCoef  float64

	// HWBufferSeconds is the host audio device's output buffer duration
	// (AudioOutput.DeviceLatency, in seconds): SynchronizeAudio only
	// corrects once the average drift exceeds it, matching ffplay's
	// hw_buf_size/bytes_per_sec diff_threshold. Set by AudioOutput on
	// every decoded audio frame.
	HWBufferSeconds float64

	// AudioSampleRate is kept in sync with the source stream's sample
	// rate by the audio pipeline; SynchronizeAudio uses it to convert a
	// seconds-diff into a samples-diff. It can change mid-playback on a
	// codec-parameter change (spec §8 scenario 6).
	AudioSampleRate int
}

// NewSyncController builds a controller wired to the three engine clocks.
func NewSyncController(cfg SyncConfig, audio, video, external *Clock, hasAudio, hasVideo bool) *SyncController {
	return &SyncController{
		Config:         cfg,
		AudioClock:     audio,
		VideoClock:     video,
		ExternalClock:  external,
		hasAudioStream: hasAudio,
		hasVideoStream: hasVideo,
		audioDiffCoef:  math.Exp(math.Log(0.01) / AudioDiffAvgNB),
	}
}

// SetStreamsPresent updates which streams are currently open, affecting
// master clock selection.
func (s *SyncController) SetStreamsPresent(hasAudio, hasVideo bool) {
	s.hasAudioStream = hasAudio
	s.hasVideoStream = hasVideo
}

// GetMasterSyncType returns which clock should currently be the master,
// per spec C8's selection table.
func (s *SyncController) GetMasterSyncType() MasterSyncType {
	switch s.Config {
	case SyncPreferVideo:
		if s.hasVideoStream {
			return SyncVideoMaster
		}
		if s.hasAudioStream {
			return SyncAudioMaster
		}
		return SyncExternalClock
	case SyncPreferAudio:
		if s.hasAudioStream {
			return SyncAudioMaster
		}
		return SyncExternalClock
	default:
		return SyncExternalClock
	}
}

// MasterClock returns the Clock currently acting as master.
func (s *SyncController) MasterClock() *Clock {
	switch s.GetMasterSyncType() {
	case SyncVideoMaster:
		return s.VideoClock
	case SyncAudioMaster:
		return s.AudioClock
	default:
		return s.ExternalClock
	}
}

// SynchronizeAudio computes the number of samples the audio callback
// should actually produce this round, compensating for audio/master
// clock drift (spec C8). When audio is master it returns nbSamples
// unchanged.
func (s *SyncController) SynchronizeAudio(nbSamples int) int {
	if s.GetMasterSyncType() == SyncAudioMaster {
		return nbSamples
	}

	diff := s.AudioClock.Get() - s.MasterClock().Get()
	if isNaN(diff) || math.Abs(diff) >= AVNoSyncThreshold.Seconds() {
		s.audioDiffCum = 0
		s.audioDiffAvgCount = 0
		return nbSamples
	}

	s.audioDiffCum = diff + s.audioDiffCoef*s.audioDiffCum
	if s.audioDiffAvgCount < AudioDiffAvgNB {
		s.audioDiffAvgCount++
		return nbSamples
	}

	avg := s.audioDiffCum * (1 - s.audioDiffCoef)
	diffThreshold := s.HWBufferSeconds
	if math.Abs(avg) < diffThreshold {
		return nbSamples
	}

	wanted := float64(nbSamples) + diff*float64(s.audioSampleRateHint())
	minSamples := float64(nbSamples) * (1 - SampleCorrectionMax)
	maxSamples := float64(nbSamples) * (1 + SampleCorrectionMax)
	wanted = clampF(wanted, minSamples, maxSamples)
	return int(math.Round(wanted))
}

// defaultAudioSampleRate is used only before the audio pipeline has ever
// reported a real sample rate.
const defaultAudioSampleRate = 48000

func (s *SyncController) audioSampleRateHint() int {
	if s.AudioSampleRate > 0 {
		return s.AudioSampleRate
	}
	return defaultAudioSampleRate
}

// ComputeTargetDelay implements spec C6's compute_target_delay: given the
// nominal delay for the frame about to be shown and the maximum sane frame
// duration (beyond which drift correction is abandoned), adjust the delay
// based on the video-vs-master clock drift.
func (s *SyncController) ComputeTargetDelay(delay, maxFrameDuration time.Duration) time.Duration {
	if s.GetMasterSyncType() == SyncVideoMaster {
		return delay
	}

	diff := s.VideoClock.Get() - s.MasterClock().Get()
	if isNaN(diff) {
		return delay
	}
	diffDur := time.Duration(diff * float64(time.Second))
	if diffDur < 0 {
		if -diffDur >= maxFrameDuration {
			return delay
		}
	} else if diffDur >= maxFrameDuration {
		return delay
	}

	threshold := clampDuration(delay, AVSyncThresholdMin, AVSyncThresholdMax)

	switch {
	case diffDur <= -threshold:
		delay = delay + diffDur
		if delay < 0 {
			delay = 0
		}
	case diffDur >= threshold && delay > AVSyncFramedupThresh:
		delay = delay + diffDur
	case diffDur >= threshold:
		delay = 2 * delay
	}
	return delay
}

// CheckExternalClockSpeed implements spec C8's realtime rubber-band: it
// nudges the external clock's speed based on whether the active streams'
// packet queues are starving, overflowing, or neither.
func (s *SyncController) CheckExternalClockSpeed(videoQueue, audioQueue *PacketQueue, hasVideo, hasAudio bool) {
	starving := false
	overflowing := true

	check := func(q *PacketQueue, present bool) {
		if !present || q == nil {
			return
		}
		n := q.Count()
		if n < ExternalClockMinPkts {
			starving = true
		}
		if n <= ExternalClockMaxPkts {
			overflowing = false
		}
	}
	check(videoQueue, hasVideo)
	check(audioQueue, hasAudio)
	if !hasVideo && !hasAudio {
		overflowing = false
	}

	speed := s.ExternalClock.Speed()
	switch {
	case starving:
		speed = math.Max(ExternalClockSpeedMin, speed-ExternalClockSpeedStep)
	case overflowing:
		speed = math.Min(ExternalClockSpeedMax, speed+ExternalClockSpeedStep)
	default:
		if speed != 1.0 {
			step := ExternalClockSpeedStep
			if speed > 1.0 {
				step = -step
			}
			speed += step
		}
	}
	s.ExternalClock.SetSpeed(speed)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
