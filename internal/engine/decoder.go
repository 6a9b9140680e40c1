package engine

import (
	"sync/atomic"
	"time"

	"github.com/erparts/reisen"
)

// DecodeStatus reports the outcome of one decodeOne pass.
type DecodeStatus uint8

const (
	DecodeGotFrame DecodeStatus = iota
	DecodeNeedMoreInput
	DecodeFinished
	DecodeAborted
)

// videoSource and audioSource narrow reisen's stream types down to the
// methods the decoder actually calls, so decoder.go can be unit-tested
// against fakes without a real media file.
type videoSource interface {
	ReadVideoFrame() (*reisen.VideoFrame, bool, error)
	Index() int
}

type audioSource interface {
	ReadAudioFrame() (*reisen.AudioFrame, bool, error)
	Index() int
	SampleRate() int
}

// Decoder pumps packets from an input PacketQueue through a reisen stream
// and emits frames into an output FrameQueue, honoring serial resets
// (spec C4).
type Decoder struct {
	Type   StreamType
	InQ    *PacketQueue
	OutQ   *FrameQueue
	Clock  *Clock // this stream's clock, may be nil; the decode paths do not read it

	video    videoSource
	audio    audioSource
	subtitle SubtitleSource

	pktSerial  int
	finished   atomic.Int32 // serial at which EOF was observed; 0 means "not finished"
	startPTS   time.Duration
	nextPTS    time.Duration
	haveNext   bool
	packetPend *Packet // if set, nextPacket returns it before reading InQ; no decode path sets it
}

// Finished reports the serial at which this decoder last observed the
// EOF sentinel packet, or 0 if it hasn't. DecodeOne writes it from the
// decoder's own goroutine; Finished is safe to poll from another one
// (Orchestrator.decodersFinished does exactly that).
func (d *Decoder) Finished() int {
	return int(d.finished.Load())
}

// NewVideoDecoder builds a Decoder pumping a reisen video stream.
func NewVideoDecoder(inQ *PacketQueue, outQ *FrameQueue, stream videoSource) *Decoder {
	return &Decoder{Type: StreamVideo, InQ: inQ, OutQ: outQ, video: stream}
}

// NewAudioDecoder builds a Decoder pumping a reisen audio stream.
func NewAudioDecoder(inQ *PacketQueue, outQ *FrameQueue, stream audioSource) *Decoder {
	return &Decoder{Type: StreamAudio, InQ: inQ, OutQ: outQ, audio: stream}
}

// Run drives DecodeOne in a loop until the input queue aborts, intended
// to be launched as the stream's decoder goroutine (spec §5's "one
// decoder thread per active stream").
func (d *Decoder) Run() {
	for {
		_, status, err := d.DecodeOne()
		if err != nil && status == DecodeAborted {
			return
		}
		if status == DecodeFinished {
			// Keep draining: a flush (serial bump) can resurrect the
			// stream later in the same run.
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// DecodeOne implements spec C4's decode_one algorithm: pull the next
// packet, feed the reisen decoder, and push any produced frame into OutQ.
func (d *Decoder) DecodeOne() (*Frame, DecodeStatus, error) {
	pkt, err := d.nextPacket()
	if err != nil {
		if err == ErrQueueAborted {
			return nil, DecodeAborted, err
		}
		return nil, DecodeNeedMoreInput, nil
	}

	// A flush bumped the queue's serial: reset decode state and keep
	// going from the new epoch.
	if pkt.Serial != d.pktSerial {
		d.pktSerial = pkt.Serial
		d.finished.Store(0)
		d.nextPTS = d.startPTS
		d.haveNext = false
	}

	if pkt.Null {
		d.finished.Store(int32(d.pktSerial))
		return nil, DecodeFinished, nil
	}

	switch d.Type {
	case StreamVideo:
		return d.decodeVideo(pkt)
	case StreamAudio:
		return d.decodeAudio(pkt)
	case StreamSubtitle:
		return d.decodeSubtitle(pkt)
	default:
		return nil, DecodeNeedMoreInput, nil
	}
}

func (d *Decoder) decodeSubtitle(pkt Packet) (*Frame, DecodeStatus, error) {
	if d.subtitle == nil {
		return nil, DecodeNeedMoreInput, nil
	}
	sub, got, err := d.subtitle.ReadSubtitleFrame()
	if err != nil {
		return nil, DecodeNeedMoreInput, nil
	}
	if !got || sub == nil {
		return nil, DecodeNeedMoreInput, nil
	}
	frame := &Frame{
		Kind:    FrameSubtitle,
		PTS:     sub.StartPTS,
		HasPTS:  true,
		EndTime: sub.EndPTS,
		Serial:  pkt.Serial,
		Payload: sub,
	}
	return d.pushFrame(frame)
}

func (d *Decoder) nextPacket() (Packet, error) {
	if d.packetPend != nil {
		pkt := *d.packetPend
		d.packetPend = nil
		return pkt, nil
	}
	return d.InQ.Get(true)
}

func (d *Decoder) decodeVideo(pkt Packet) (*Frame, DecodeStatus, error) {
	if d.video == nil {
		return nil, DecodeNeedMoreInput, nil
	}
	vf, got, err := d.video.ReadVideoFrame()
	if err != nil {
		return nil, DecodeNeedMoreInput, nil
	}
	if !got || vf == nil {
		return nil, DecodeNeedMoreInput, nil
	}

	pts, err := vf.PresentationOffset()
	hasPTS := err == nil
	var ptsSeconds time.Duration
	if hasPTS {
		ptsSeconds = pts
		d.nextPTS = pts
		d.haveNext = true
	} else if d.haveNext {
		ptsSeconds = d.nextPTS
		hasPTS = true
	}

	frame := &Frame{
		Kind:     FrameVideo,
		PTS:      ptsSeconds,
		HasPTS:   hasPTS,
		Serial:   pkt.Serial,
		Duration: pkt.Duration,
		Payload:  vf,
	}
	return d.pushFrame(frame)
}

func (d *Decoder) decodeAudio(pkt Packet) (*Frame, DecodeStatus, error) {
	af, got, err := d.audio.ReadAudioFrame()
	if err != nil {
		return nil, DecodeNeedMoreInput, nil
	}
	if !got || af == nil {
		return nil, DecodeNeedMoreInput, nil
	}

	pts, err := af.PresentationOffset()
	hasPTS := err == nil
	var ptsSeconds time.Duration
	if hasPTS {
		ptsSeconds = pts
		d.nextPTS = pts
		d.haveNext = true
	} else if d.haveNext {
		ptsSeconds = d.nextPTS
		hasPTS = true
	}

	frame := &Frame{
		Kind:       FrameAudio,
		PTS:        ptsSeconds,
		HasPTS:     hasPTS,
		Serial:     pkt.Serial,
		SampleRate: d.audio.SampleRate(),
		Payload:    af,
	}
	return d.pushFrame(frame)
}

func (d *Decoder) pushFrame(frame *Frame) (*Frame, DecodeStatus, error) {
	slot, err := d.OutQ.PeekWritable()
	if err != nil {
		return nil, DecodeAborted, err
	}
	*slot = *frame
	d.OutQ.Push()
	return frame, DecodeGotFrame, nil
}

// SubtitleSource feeds a subtitle Decoder (spec C4 step 3) in place of
// reisen, which exposes no subtitle decode surface (see SPEC_FULL.md §4.4
// and DESIGN.md).
type SubtitleSource interface {
	// ReadSubtitleFrame reads a rasterized subtitle region for the next
	// pending packet, or (nil, false, nil) when none is ready yet.
	ReadSubtitleFrame() (*SubtitlePayload, bool, error)
}

// SubtitlePayload is the local stand-in for a decoded subtitle region,
// since reisen has no subtitle type of its own.
type SubtitlePayload struct {
	Regions  [][]byte
	StartPTS time.Duration
	EndPTS   time.Duration
}

// NewSubtitleDecoder builds a Decoder pumping a SubtitleSource. Until a
// real subtitle-capable source is wired in, src may be nil, in which case
// DecodeOne reports DecodeNeedMoreInput for every non-sentinel packet
// without touching src (on an empty queue it blocks in Get like any other
// decoder).
func NewSubtitleDecoder(inQ *PacketQueue, outQ *FrameQueue, src SubtitleSource) *Decoder {
	return &Decoder{Type: StreamSubtitle, InQ: inQ, OutQ: outQ, subtitle: src}
}
