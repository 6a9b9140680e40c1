package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/erparts/reisen"
)

// Orchestrator owns the full lifecycle of a single open media: the
// demuxer goroutine, one decoder goroutine per active stream, the
// packet/frame queues connecting them, the three synchronized clocks, and
// the presentation-facing refresh/audio-output stages (spec C9).
//
// It replaces the three mutually-exclusive controller variants the
// teacher package used (video-only, video-with-audio, live-stream) with a
// single implementation that simply leaves the audio half idle when no
// audio stream is open.
type Orchestrator struct {
	mu sync.Mutex

	media *reisen.Media

	videoStream *reisen.VideoStream
	audioStream *reisen.AudioStream

	videoPktQ, audioPktQ *PacketQueue
	videoFrameQ, audioFrameQ *FrameQueue

	videoClock, audioClock, externalClock *Clock
	sync *SyncController

	demuxer  *Demuxer
	videoDec *Decoder
	audioDec *Decoder

	refresher *VideoRefresher
	Audio     *AudioOutput

	// Presenter is called by RefreshVideo whenever a new video frame
	// becomes due for display. Callers typically wire this to their own
	// pixel-upload routine (e.g. ebiten.Image.WritePixels).
	Presenter func(frame *Frame)

	duration time.Duration

	state   PlaybackState
	looping bool

	started bool // goroutines have been launched at least once
}

// OpenOptions controls which streams to activate and the chosen sync
// preference (spec §6 "-sync").
type OpenOptions struct {
	VideoStream *reisen.VideoStream
	AudioStream *reisen.AudioStream // nil to play without audio
	SyncConfig  SyncConfig
}

// Open builds an Orchestrator over an already-demuxable reisen.Media,
// wiring up queues, clocks and the sync controller, but does not yet spawn
// any goroutine (see Play).
func Open(media *reisen.Media, opts OpenOptions) (*Orchestrator, error) {
	if media == nil || opts.VideoStream == nil {
		return nil, fmt.Errorf("engine: Open requires a media and a video stream")
	}

	o := &Orchestrator{
		media:       media,
		videoStream: opts.VideoStream,
		audioStream: opts.AudioStream,
		state:       Stopped,
	}

	o.videoPktQ = NewPacketQueue()
	o.videoFrameQ = NewFrameQueue(o.videoPktQ, VideoFrameQueueSize, true)
	hasAudio := opts.AudioStream != nil
	if hasAudio {
		o.audioPktQ = NewPacketQueue()
		o.audioFrameQ = NewFrameQueue(o.audioPktQ, AudioFrameQueueSize, true)
	}

	o.videoClock = NewClock(o.videoPktQ.Serial)
	if hasAudio {
		o.audioClock = NewClock(o.audioPktQ.Serial)
	} else {
		o.audioClock = NewClock(nil)
	}
	o.externalClock = NewClock(nil)

	o.sync = NewSyncController(opts.SyncConfig, o.audioClock, o.videoClock, o.externalClock, hasAudio, true)

	videoDuration, err := opts.VideoStream.Duration()
	if err != nil {
		return nil, err
	}
	o.duration = videoDuration
	if hasAudio {
		if audioDuration, err := opts.AudioStream.Duration(); err == nil && audioDuration > o.duration {
			o.duration = audioDuration
		}
	}

	o.demuxer = NewDemuxer(media, o.videoPktQ, o.audioPktQ, nil, o.externalClock)
	o.demuxer.SetStreams(opts.VideoStream.Index(), audioIndexOrZero(opts.AudioStream), 0, true, hasAudio, false)
	o.demuxer.Seeker = func(target time.Duration, byBytes bool) error {
		if err := opts.VideoStream.Rewind(target); err != nil {
			return err
		}
		if hasAudio {
			return opts.AudioStream.Rewind(target)
		}
		return nil
	}
	o.demuxer.DecodersFinished = o.decodersFinished
	o.demuxer.FrameQueuesEmpty = o.frameQueuesEmpty

	o.videoDec = NewVideoDecoder(o.videoPktQ, o.videoFrameQ, opts.VideoStream)
	o.videoDec.Clock = o.videoClock
	if hasAudio {
		o.audioDec = NewAudioDecoder(o.audioPktQ, o.audioFrameQ, opts.AudioStream)
		o.audioDec.Clock = o.audioClock
	}

	o.refresher = NewVideoRefresher(o.videoFrameQ, nil, o.sync, o.videoClock)
	o.refresher.Paused = func() bool { return o.State() == Paused }
	o.refresher.FrameDrop = true
	o.refresher.Present = func(frame *Frame) {
		if o.Presenter != nil {
			o.Presenter(frame)
		}
	}

	if hasAudio {
		o.Audio = NewAudioOutput(o.audioFrameQ, o.sync, o.audioClock)
	}

	return o, nil
}

// ProbeAudioSampleRate opens media just far enough to report its first
// audio stream's sample rate, without starting decode or handing back an
// Orchestrator. It exists for callers (e.g. a host audio context) that
// need the sample rate before they can size their audio device, ahead of
// the real Open.
func ProbeAudioSampleRate(videoFilename string) (int, error) {
	media, err := reisen.NewMedia(videoFilename)
	if err != nil {
		return 0, err
	}
	defer media.Close()

	streams := media.AudioStreams()
	if len(streams) == 0 {
		return 0, ErrNoStream
	}
	return streams[0].SampleRate(), nil
}

func audioIndexOrZero(a *reisen.AudioStream) int {
	if a == nil {
		return 0
	}
	return a.Index()
}

// Play starts (or resumes) playback: on the first call it opens the
// underlying decode contexts and launches the demuxer/decoder goroutines;
// on subsequent calls from Paused it simply un-pauses the clocks (spec C9
// "toggle_pause").
func (o *Orchestrator) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == Playing {
		return nil
	}

	if o.state == Stopped {
		if err := o.media.OpenDecode(); err != nil {
			return err
		}
		if err := o.videoStream.Open(); err != nil {
			return err
		}
		if o.audioStream != nil {
			if err := o.audioStream.Open(); err != nil {
				return err
			}
		}
		o.videoPktQ.Start()
		if o.audioPktQ != nil {
			o.audioPktQ.Start()
		}
		o.startGoroutines()
	} else if o.state == Paused {
		o.unpauseClocksLocked()
	}
	o.state = Playing
	return nil
}

// Pause freezes all three clocks in place so that elapsed wall-clock time
// stops advancing playback position (spec C9 "toggle_pause").
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Playing {
		return nil
	}
	now := time.Now()
	videoNow := o.videoClock.Get()
	o.videoClock.SetAt(videoNow, o.videoClock.Serial(), now)
	if o.audioStream != nil {
		audioNow := o.audioClock.Get()
		o.audioClock.SetAt(audioNow, o.audioClock.Serial(), now)
	}
	extNow := o.externalClock.Get()
	o.externalClock.SetAt(extNow, o.externalClock.Serial(), now)

	o.videoClock.SetPaused(true)
	o.audioClock.SetPaused(true)
	o.externalClock.SetPaused(true)
	o.state = Paused
	return nil
}

func (o *Orchestrator) unpauseClocksLocked() {
	now := time.Now()
	o.videoClock.SetAt(o.videoClock.Get(), o.videoClock.Serial(), now)
	o.videoClock.SetPaused(false)
	if o.audioStream != nil {
		o.audioClock.SetAt(o.audioClock.Get(), o.audioClock.Serial(), now)
		o.audioClock.SetPaused(false)
	}
	o.externalClock.SetAt(o.externalClock.Get(), o.externalClock.Serial(), now)
	o.externalClock.SetPaused(false)
}

// TogglePause flips between Play and Pause, matching ffplay's single
// space-bar binding (spec §6).
func (o *Orchestrator) TogglePause() error {
	if o.State() == Playing {
		return o.Pause()
	}
	return o.Play()
}

// Stop halts playback, rewinds every stream to the start and closes the
// decode contexts. The underlying media stays open; use Close to release
// it permanently.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Stopped {
		return nil
	}
	o.stopGoroutinesLocked()
	o.state = Stopped

	if err := o.videoStream.Rewind(0); err != nil {
		return err
	}
	if o.audioStream != nil {
		if err := o.audioStream.Rewind(0); err != nil {
			return err
		}
	}
	if err := o.videoStream.Close(); err != nil {
		return err
	}
	if o.audioStream != nil {
		if err := o.audioStream.Close(); err != nil {
			return err
		}
	}
	return o.media.CloseDecode()
}

// Close stops playback and releases the underlying decode resources. The
// Orchestrator must not be used afterwards.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	notStopped := o.state != Stopped
	o.mu.Unlock()
	if notStopped {
		if err := o.Stop(); err != nil {
			return err
		}
	}
	return o.media.Close()
}

// RequestSeek routes a seek through the demuxer, matching ffplay's
// stream_seek (spec C9). The external clock is re-anchored later, by the
// demuxer goroutine when it performs the seek.
func (o *Orchestrator) RequestSeek(target time.Duration) {
	o.demuxer.RequestSeek(target, 0, false)
}

// SeekRelative requests a seek rel away from the current master clock
// position, clamped to [0, Duration()] (spec §6 arrow-key seeking).
func (o *Orchestrator) SeekRelative(rel time.Duration) {
	pos, _ := o.Position()
	target := pos + rel
	if target < 0 {
		target = 0
	}
	if d := o.Duration(); d > 0 && target > d {
		target = d
	}
	o.demuxer.RequestSeek(target, 0, false)
}

// Position returns the current master-clock playback position.
func (o *Orchestrator) Position() (time.Duration, error) {
	pos := o.sync.MasterClock().Get()
	if isNaN(pos) {
		return 0, nil
	}
	return time.Duration(pos * float64(time.Second)), nil
}

// Duration returns the longer of the video and audio stream durations.
func (o *Orchestrator) Duration() time.Duration {
	return o.duration
}

// State reports the current playback state.
func (o *Orchestrator) State() PlaybackState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetLooping enables or disables looping back to the start on EOF.
func (o *Orchestrator) SetLooping(looping bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.looping = looping
	if looping {
		o.demuxer.SetLoop(-1, false)
	} else {
		o.demuxer.SetLoop(0, false)
	}
}

// GetLooping reports whether looping is enabled.
func (o *Orchestrator) GetLooping() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.looping
}

// RefreshVideo drives one presentation tick. Callers (the ebiten game loop
// in practice) should call this from Update/Draw with the wall-clock now
// and their own remaining-time budget; see spec C6.
func (o *Orchestrator) RefreshVideo(now time.Time, remainingTime time.Duration) time.Duration {
	return o.refresher.RefreshOne(now, remainingTime)
}

// decodersFinished reports whether every active decoder has observed the
// null/EOF sentinel packet at its stream's current serial (spec C5
// "playback-drained").
func (o *Orchestrator) decodersFinished() bool {
	videoDone := o.videoDec.Finished() == o.videoPktQ.Serial()
	if o.audioDec == nil {
		return videoDone
	}
	return videoDone && o.audioDec.Finished() == o.audioPktQ.Serial()
}

func (o *Orchestrator) frameQueuesEmpty() bool {
	return o.videoFrameQ.NbRemaining() == 0 && (o.audioFrameQ == nil || o.audioFrameQ.NbRemaining() == 0)
}

func (o *Orchestrator) startGoroutines() {
	o.started = true
	go o.demuxer.Run()
	go o.videoDec.Run()
	if o.audioDec != nil {
		go o.audioDec.Run()
	}
}

// stopGoroutinesLocked aborts every queue so the demuxer and decoder
// goroutines unblock from their condition-variable waits and return.
func (o *Orchestrator) stopGoroutinesLocked() {
	if !o.started {
		return
	}
	o.demuxer.Abort()
	o.videoPktQ.Abort()
	o.videoFrameQ.Signal()
	if o.audioPktQ != nil {
		o.audioPktQ.Abort()
		o.audioFrameQ.Signal()
	}
	o.started = false
}
