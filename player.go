// Package avplay is a video player built on top of reisen for demuxing and
// decoding, and ebitengine for presentation and audio output.
//
// The player is a simple abstraction layer or wrapper around the lower
// level [reisen] types, backed internally by a three-clock synchronization
// model (audio/video/external) rather than sampling frames off a single
// wall-clock position.
//
// Usage is quite similar to Ebitengine audio players:
//   - Create a [NewPlayer]().
//   - Call [Player.Play()] to start the video.
//   - Audio will play automatically. Frames are obtained with [Player.CurrentFrame]().
//   - Use [Player.Pause]() and [Player.Stop]() to control the video.
//   - Call [Player.Update]() once per frame to drive presentation timing.
//
// [erparts/reisen]: https://github.com/erparts/reisen
package avplay

import (
	"errors"
	"image/color"
	"path/filepath"
	"time"

	"github.com/erparts/reisen"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/colinpaint/ffplay/internal/engine"
)

// A collection of initialization errors defined by this package for [NewPlayer]().
// Other format-specific errors are also possible.
var (
	ErrNoVideo         = errors.New("file doesn't include any video stream")
	ErrNilAudioContext = errors.New("file has audio stream but audio.Context is not initialized")
	ErrBadSampleRate   = errors.New("file audio stream and audio context sample rates don't match")
)

const playerBufferSize time.Duration = 200 * time.Millisecond

// A [Player] represents a video player, typically also including audio.
//
// The player is a simple abstraction layer or wrapper around the lower level
// [reisen] types, which implement the underlying decoders used to make playing
// video possible on Ebitengine. Internally it drives an
// [engine.Orchestrator], which runs the demuxer and per-stream decoder
// goroutines and keeps the audio/video/external clocks in sync.
//
// [erparts/reisen]: https://github.com/erparts/reisen
type Player struct {
	orch *engine.Orchestrator

	currentFrame  *ebiten.Image
	onBlackFrame  bool
	audioPlayer   *audio.Player
	volume        float64
	muted         bool
	remainingTime time.Duration
}

// NewPlayerWithoutAudio is like [NewPlayer](), but ignoring audio streams.
func NewPlayerWithoutAudio(videoFilename string) (*Player, error) {
	return newPlayer(videoFilename, true)
}

// NewPlayer creates a new video [Player]. TODO: ideally we would use
// io.ReadSeeker, but reisen only has support for explicit filenames.
func NewPlayer(videoFilename string) (*Player, error) {
	return newPlayer(videoFilename, false)
}

// NewStreamPlayer creates a [Player] over a live or otherwise non-seekable
// source. Looping is disabled, matching ffplay's handling of inputs whose
// "-loop" option makes no sense against a live feed.
func NewStreamPlayer(videoFilename string) (*Player, error) {
	p, err := newPlayer(videoFilename, false)
	if err != nil {
		return nil, err
	}
	p.orch.SetLooping(false)
	return p, nil
}

func newPlayer(videoFilename string, ignoreAudio bool) (*Player, error) {
	// initialize stream
	container, err := reisen.NewMedia(videoFilename)
	if err != nil {
		return nil, err
	}

	// make sure there's video stream and headers
	videoStreams := container.VideoStreams()
	audioStreams := container.AudioStreams()
	if len(videoStreams) == 0 {
		return nil, ErrNoVideo
	}
	if len(videoStreams) > 1 {
		pkgLogger.Printf("WARNING: '%s' has multiple video streams; defaulting to the first", filepath.Base(videoFilename))
	}
	videoStream := videoStreams[0]

	var audioStream *reisen.AudioStream
	if len(audioStreams) > 0 && !ignoreAudio {
		if len(audioStreams) > 1 {
			pkgLogger.Printf("WARNING: '%s' has multiple audio streams; defaulting to the first", filepath.Base(videoFilename))
		}
		audioCtx := audio.CurrentContext()
		if audioCtx == nil {
			return nil, ErrNilAudioContext
		}
		if audioCtx.SampleRate() != audioStreams[0].SampleRate() {
			pkgLogger.Printf("WARNING: context sample rate = %d, video audio sample rate = %d\n", audioCtx.SampleRate(), audioStreams[0].SampleRate())
			return nil, ErrBadSampleRate
		}
		audioStream = audioStreams[0]
	}

	orch, err := engine.Open(container, engine.OpenOptions{
		VideoStream: videoStream,
		AudioStream: audioStream,
		SyncConfig:  engine.SyncPreferAudio,
	})
	if err != nil {
		return nil, err
	}

	img := ebiten.NewImage(videoStream.Width(), videoStream.Height())
	img.Fill(color.Black)

	p := &Player{
		orch:         orch,
		currentFrame: img,
		onBlackFrame: true,
		volume:       1.0,
	}
	orch.Presenter = p.present

	if audioStream != nil {
		player, err := audio.CurrentContext().NewPlayer(orch.Audio)
		if err != nil {
			return nil, err
		}
		player.SetBufferSize(playerBufferSize)
		orch.Audio.DeviceLatency = playerBufferSize
		p.audioPlayer = player
	}

	return p, nil
}

// --- frames and resolution ---

// CurrentFrame returns the image corresponding to the video frame that is
// currently due for display, per the presentation timing advanced by the
// last [Player.Update]() call.
//
// The returned image is reused, so calling this method again will overwrite
// its contents. This means you can use the image between calls, but you should
// not store it for later use expecting the image to remain the same.
func (p *Player) CurrentFrame() *ebiten.Image {
	return p.currentFrame
}

// Update drives one tick of the presentation pipeline. It should be called
// once per Ebitengine Update or Draw call, with the current wall-clock
// time, and decides whether a newly due video frame needs to be uploaded
// into the image returned by [Player.CurrentFrame]() (spec C6). Ebitengine's
// own frame cadence stands in for ffplay's REFRESH_RATE sleep loop: each
// call runs a single refresh pass. At Ebitengine's default 60 ticks per
// second that is one pass every ~16.7ms, less often than
// [engine.RefreshRate] (10ms).
func (p *Player) Update(now time.Time) {
	p.remainingTime = p.orch.RefreshVideo(now, engine.RefreshRate)
}

// present is wired as the engine.VideoRefresher's Present callback and
// performs the actual pixel upload, equivalent to the teacher's copyFrame.
func (p *Player) present(frame *engine.Frame) {
	if frame == nil || frame.Payload == nil {
		if !p.onBlackFrame {
			p.currentFrame.Fill(color.Black)
			p.onBlackFrame = true
		}
		return
	}
	vf, ok := frame.Payload.(*reisen.VideoFrame)
	if !ok || vf == nil {
		return
	}
	p.currentFrame.WritePixels(vf.Data())
	p.onBlackFrame = false
}

// Resolution returns the width and height of the video.
func (p *Player) Resolution() (int, int) {
	bounds := p.currentFrame.Bounds()
	return bounds.Dx(), bounds.Dy()
}

// ---- video playback states ----

// State returns the current player's state, which can be [engine.Stopped],
// [engine.Playing] or [engine.Paused]. Notice that even when playing, video
// frames need to be retrieved manually through [Player.CurrentFrame]().
func (p *Player) State() engine.PlaybackState { return p.orch.State() }

// Play activates the player's playback clock. If the player is already
// playing, it just keeps playing and nothing new happens.
//
// If the underlying stream contains any audio, the audio will also start
// or resume. Video frames need to be retrieved manually through
// [Player.CurrentFrame]() instead.
func (p *Player) Play() error {
	if err := p.orch.Play(); err != nil {
		return err
	}
	if p.audioPlayer != nil {
		p.audioPlayer.Play()
	}
	return nil
}

// Pause pauses the player's playback clock. If the player is already
// paused, it just stays paused and nothing new happens.
func (p *Player) Pause() error {
	if err := p.orch.Pause(); err != nil {
		return err
	}
	if p.audioPlayer != nil {
		p.audioPlayer.Pause()
	}
	return nil
}

// TogglePause flips between Play() and Pause(), mirroring ffplay's
// single space-bar pause binding.
func (p *Player) TogglePause() error {
	if p.State() == engine.Playing {
		return p.Pause()
	}
	return p.Play()
}

// Stop stops the player. Using [Player.Play]() again will cause the video
// to restart from the beginning.
func (p *Player) Stop() error {
	p.present(nil)
	return p.orch.Stop()
}

// --- timing ---

// Position returns the player's current playback position, read from the
// master clock, or 0 while that clock has no valid value. Stop does not
// reset the clocks, and reaching the end of the media does not change the
// state to [engine.Stopped].
func (p *Player) Position() (time.Duration, error) {
	return p.orch.Position()
}

// Duration returns the video duration.
func (p *Player) Duration() time.Duration {
	return p.orch.Duration()
}

// Seek moves the player's playback position to the given one, relative to
// the start of the video. The playing/paused state is unaffected.
func (p *Player) Seek(position time.Duration) {
	p.orch.RequestSeek(position)
}

// SeekRelative moves the playback position by rel, clamped to
// [0, Duration()] (spec §6 arrow-key seeking: left/right ±10s, up/down
// ±60s, page up/down ±600s).
func (p *Player) SeekRelative(rel time.Duration) {
	p.orch.SeekRelative(rel)
}

// SetLooping sets whether the video should loop back to the start when
// reaching the end or not.
func (p *Player) SetLooping(looping bool) { p.orch.SetLooping(looping) }

// GetLooping gets whether the video is configured to loop or not. See [Player.SetLooping]().
func (p *Player) GetLooping() bool { return p.orch.GetLooping() }

// --- audio ---

// HasAudio returns whether the video has audio.
func (p *Player) HasAudio() bool { return p.audioPlayer != nil }

// GetVolume gets the video's volume. If the video has no audio, 0 will be returned.
func (p *Player) GetVolume() float64 {
	if p.audioPlayer == nil {
		return 0
	}
	return p.volume
}

// SetVolume sets the volume of the video. If the video has no audio, this method will have no effect.
func (p *Player) SetVolume(volume float64) {
	if p.audioPlayer == nil {
		return
	}
	p.volume = volume
	p.audioPlayer.SetVolume(p.effectiveVolume())
}

// GetMuted returns whether the video is muted or not. If the video has no
// audio, true will be returned.
func (p *Player) GetMuted() bool {
	if p.audioPlayer == nil {
		return true
	}
	return p.muted
}

// SetMuted mutes or unmutes the video. If the video has no audio, this method will have no effect.
func (p *Player) SetMuted(muted bool) {
	if p.audioPlayer == nil {
		return
	}
	p.muted = muted
	p.audioPlayer.SetVolume(p.effectiveVolume())
}

func (p *Player) effectiveVolume() float64 {
	if p.muted {
		return 0
	}
	return p.volume
}

// --- advanced operations ---

// Close completely closes the video player, freeing associated resources.
// This makes the player unusable afterwards. The resources are allocated
// through cgo, so if possible, use this method. This should be treated
// like a C free() operation.
//
// Do not confuse with [Player.Stop]().
func (p *Player) Close() error {
	if p.audioPlayer != nil {
		p.audioPlayer.Close()
	}
	return p.orch.Close()
}
