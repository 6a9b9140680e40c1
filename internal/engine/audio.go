package engine

import (
	"encoding/binary"
	"io"
	"sync"
	"time"
)

// bytesPerSample and audioChannels describe the PCM format served to the
// host's audio device: signed 16-bit little-endian, stereo, matching the
// L16 layout the ebiten audio context expects (reads must land on a
// multiple of 4 bytes).
const (
	bytesPerSample = 2
	audioChannels  = 2
	audioFrameSize = bytesPerSample * audioChannels
)

// AudioFrameData narrows a decoded audio Frame's payload down to the one
// call the output stage needs, so audio.go can be exercised against
// synthetic frames without a real reisen.AudioFrame.
type AudioFrameData interface {
	Data() []byte
}

// AudioOutput implements io.Reader over a queue of decoded audio frames,
// serving PCM bytes on demand to the host's audio player while keeping the
// audio clock anchored and applying SynchronizeAudio's sample-count
// compensation (spec C7).
type AudioOutput struct {
	mu sync.Mutex

	Q     *FrameQueue
	Sync  *SyncController
	Clock *Clock

	SampleRate int

	// DeviceLatency is the host audio device's output buffer duration:
	// how far in the future PCM handed to it now will actually be
	// heard. The caller sets it once the device/context buffer size is
	// known (e.g. player.go's playerBufferSize), and it feeds both the
	// audio clock's anchor and SynchronizeAudio's diff threshold (spec
	// §4.7-4.8).
	DeviceLatency time.Duration

	leftover []byte
}

// NewAudioOutput builds an audio output reading decoded frames from q.
func NewAudioOutput(q *FrameQueue, sync *SyncController, clock *Clock) *AudioOutput {
	return &AudioOutput{Q: q, Sync: sync, Clock: clock}
}

// Read fills buffer with PCM audio, decoding further frames from the queue
// as needed. It always returns a length that is a multiple of
// audioFrameSize, clamping down rather than erroring on a misaligned
// buffer.
func (a *AudioOutput) Read(buffer []byte) (int, error) {
	if rem := len(buffer) % audioFrameSize; rem != 0 {
		buffer = buffer[:len(buffer)-rem]
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var served int
	if len(a.leftover) > 0 {
		n := a.copyLeftover(buffer)
		buffer = buffer[n:]
		served += n
	}

	for len(buffer) >= audioFrameSize {
		if err := a.decodeNextFrame(); err != nil {
			if served > 0 {
				return served, nil
			}
			return served, err
		}
		if len(a.leftover) == 0 {
			// the queue produced a silent/empty frame (e.g. a flush
			// boundary); treat it the same as upstream EOF so the caller
			// can decide whether to loop or stop (spec C7 "end of
			// stream").
			return served, io.EOF
		}
		n := a.copyLeftover(buffer)
		buffer = buffer[n:]
		served += n
	}
	return served, nil
}

func (a *AudioOutput) copyLeftover(buffer []byte) int {
	n := copy(buffer, a.leftover)
	if n >= len(a.leftover) {
		a.leftover = a.leftover[:0]
	} else {
		copy(a.leftover, a.leftover[n:])
		a.leftover = a.leftover[:len(a.leftover)-n]
	}
	return n
}

// decodeNextFrame pulls the next queued frame, applies audio/master clock
// drift compensation to its sample count, anchors the audio clock, and
// stashes the resulting PCM bytes as leftover for Read to drain.
func (a *AudioOutput) decodeNextFrame() error {
	vp, err := a.Q.PeekReadable()
	if err != nil {
		return err
	}

	af, _ := vp.Payload.(AudioFrameData)
	if af == nil {
		a.Q.Next()
		a.leftover = nil
		return nil
	}

	data := af.Data()
	nbSamples := len(data) / audioFrameSize

	if vp.SampleRate > 0 {
		a.SampleRate = vp.SampleRate
		if a.Sync != nil {
			a.Sync.AudioSampleRate = vp.SampleRate
		}
	}
	if a.Sync != nil {
		a.Sync.HWBufferSeconds = a.DeviceLatency.Seconds()
	}

	wanted := nbSamples
	if a.Sync != nil && nbSamples > 0 {
		wanted = a.Sync.SynchronizeAudio(nbSamples)
	}
	if wanted != nbSamples && nbSamples > 1 && wanted > 0 {
		data = resampleLinear(data, nbSamples, wanted)
		nbSamples = wanted
	}

	if vp.HasPTS && a.Clock != nil && a.SampleRate > 0 {
		frameDur := time.Duration(float64(nbSamples) / float64(a.SampleRate) * float64(time.Second))
		audioClockSeconds := (vp.PTS + frameDur).Seconds() - a.DeviceLatency.Seconds()
		a.Clock.SetAt(audioClockSeconds, vp.Serial, time.Now())
		if a.Sync != nil {
			a.Sync.ExternalClock.SyncSlaveTo(a.Clock)
		}
	}

	a.leftover = data
	a.Q.Next()
	return nil
}

// resampleLinear stretches or compresses interleaved stereo 16-bit PCM from
// srcFrames to dstFrames using linear interpolation, implementing the
// sample-count side of SynchronizeAudio's drift compensation (spec §4.7:
// no pack library wraps libswresample for raw int16 PCM, so this is a
// documented standard-library fallback).
func resampleLinear(data []byte, srcFrames, dstFrames int) []byte {
	if srcFrames <= 1 || dstFrames <= 0 {
		return data
	}
	out := make([]byte, dstFrames*audioFrameSize)
	step := float64(srcFrames-1) / float64(maxInt(dstFrames-1, 1))
	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * step
		i0 := int(srcPos)
		if i0 >= srcFrames-1 {
			i0 = srcFrames - 2
		}
		if i0 < 0 {
			i0 = 0
		}
		frac := srcPos - float64(i0)
		for c := 0; c < audioChannels; c++ {
			s0 := readInt16LE(data, (i0*audioChannels+c)*bytesPerSample)
			s1 := readInt16LE(data, ((i0+1)*audioChannels+c)*bytesPerSample)
			v := float64(s0) + (float64(s1)-float64(s0))*frac
			writeInt16LE(out, (i*audioChannels+c)*bytesPerSample, int16(v))
		}
	}
	return out
}

func readInt16LE(data []byte, offset int) int16 {
	if offset+2 > len(data) {
		return 0
	}
	return int16(binary.LittleEndian.Uint16(data[offset : offset+2]))
}

func writeInt16LE(data []byte, offset int, v int16) {
	binary.LittleEndian.PutUint16(data[offset:offset+2], uint16(v))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
