package avplay

import (
	"errors"

	"github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/colinpaint/ffplay/internal/engine"
)

var ErrNoAudio error = errors.New("media contains no audio")
var ErrNonNilAudioContext = errors.New("audio context already initialized")

// Creates an ebitengine audio context based on the given media.
func CreateAudioContextForMedia(videoFilename string) error {
	if audio.CurrentContext() != nil {
		return ErrNonNilAudioContext
	}

	sampleRate, err := GetMediaAudioSampleRate(videoFilename)
	if err != nil {
		return err
	}
	_ = audio.NewContext(sampleRate)
	return nil
}

// GetMediaAudioSampleRate reports the sample rate of the media's first
// audio stream, probing it through [engine.ProbeAudioSampleRate] rather
// than opening a second, independent reisen.Media of our own here: the
// file gets opened for real by NewPlayer/engine.Open right after this
// call returns. If the media has no audio, [ErrNoAudio] will be returned.
func GetMediaAudioSampleRate(videoFilename string) (int, error) {
	rate, err := engine.ProbeAudioSampleRate(videoFilename)
	if errors.Is(err, engine.ErrNoStream) {
		return 0, ErrNoAudio
	}
	return rate, err
}
