package engine

import (
	"sync"
	"time"

	"github.com/erparts/reisen"
)

// packetSource narrows reisen.Media down to the single call the demuxer
// loop drives, so demuxer.go can be exercised with a fake source in tests.
type packetSource interface {
	ReadPacket() (*reisen.Packet, bool, error)
}

// SeekRequest describes a pending seek (spec C5/C9).
type SeekRequest struct {
	Pos      time.Duration
	Rel      time.Duration
	ByBytes  bool
	Pending  bool
}

// Demuxer is the single-goroutine read loop of spec C5: it reads packets
// from the input, routes them by stream index to the per-stream packet
// queues, and handles seek, EOF, looping and backpressure.
type Demuxer struct {
	mu sync.Mutex

	source packetSource

	VideoQ, AudioQ, SubtitleQ *PacketQueue

	videoStreamIndex    int
	audioStreamIndex    int
	subtitleStreamIndex int
	hasVideo, hasAudio, hasSubtitle bool

	ExternalClock *Clock

	// ContinueRead is broadcast by RequestSeek (and so by Orchestrator on
	// seek), by Abort and by SignalContinueRead, to wake the demuxer early
	// from a backpressure sleep (spec §5). The decoder goroutines do not
	// signal it when their queue goes empty.
	ContinueRead *sync.Cond
	continueMu   sync.Mutex

	abortRequest bool
	eof          bool
	seekReq      SeekRequest
	paused       bool
	pauseChanged bool

	loopCount int // 0 = play once, <0 = loop forever, N = loop N more times
	autoexit  bool

	// StartTime is the position a looping restart seeks back to.
	// PlayDuration is stored only: route applies no -ss/-t play-range
	// filter and keeps every packet of an open stream.
	StartTime time.Duration
	PlayDuration time.Duration

	// DecodersFinished reports whether every active decoder has reached
	// the terminal "finished at serial N" marker, and FrameQueuesEmpty
	// whether every active frame queue is empty (together, spec §4.5's
	// "playback-drained" condition). Wired in by Orchestrator.
	DecodersFinished func() bool
	FrameQueuesEmpty func() bool

	// Seeker performs the actual seek against the underlying media. In
	// the real pipeline this rewinds every open reisen stream; see
	// SPEC_FULL.md §4.5 for why reisen's API only offers a per-stream
	// Rewind rather than libav's min/target/max triple.
	Seeker func(target time.Duration, byBytes bool) error

	RangeFilter func(streamIndex int, pts time.Duration) bool // true = keep; route does not call it
}

// NewDemuxer builds a demuxer reading from source and routing into the
// given per-stream queues. Call SetStreams with hasVideo/hasAudio/
// hasSubtitle = false for streams that are not open; their queue pointer
// may then be nil.
func NewDemuxer(source packetSource, videoQ, audioQ, subtitleQ *PacketQueue, extClock *Clock) *Demuxer {
	d := &Demuxer{
		source:        source,
		VideoQ:        videoQ,
		AudioQ:        audioQ,
		SubtitleQ:     subtitleQ,
		ExternalClock: extClock,
	}
	d.ContinueRead = sync.NewCond(&d.continueMu)
	return d
}

// SetStreams records which stream indices are active.
func (d *Demuxer) SetStreams(video, audio, subtitle int, hasVideo, hasAudio, hasSubtitle bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.videoStreamIndex, d.hasVideo = video, hasVideo
	d.audioStreamIndex, d.hasAudio = audio, hasAudio
	d.subtitleStreamIndex, d.hasSubtitle = subtitle, hasSubtitle
}

// SetLoop configures looping: count<0 loops forever, 0 plays once, N
// loops N additional times after the first play-through.
func (d *Demuxer) SetLoop(count int, autoexit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loopCount = count
	d.autoexit = autoexit
}

// RequestSeek queues a seek and wakes the demuxer if it is sleeping on
// backpressure (spec C9 "Seek request").
func (d *Demuxer) RequestSeek(pos, rel time.Duration, byBytes bool) {
	d.mu.Lock()
	d.seekReq = SeekRequest{Pos: pos, Rel: rel, ByBytes: byBytes, Pending: true}
	d.mu.Unlock()
	d.ContinueRead.Broadcast()
}

// SetPaused toggles the demuxer's input-pause bookkeeping. Run notices the
// change but makes no read_pause/read_play call against the media.
func (d *Demuxer) SetPaused(paused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused != paused {
		d.paused = paused
		d.pauseChanged = true
	}
}

// Abort stops the demuxer loop and propagates to all queues.
func (d *Demuxer) Abort() {
	d.mu.Lock()
	d.abortRequest = true
	d.mu.Unlock()
	if d.VideoQ != nil {
		d.VideoQ.Abort()
	}
	if d.AudioQ != nil {
		d.AudioQ.Abort()
	}
	if d.SubtitleQ != nil {
		d.SubtitleQ.Abort()
	}
	d.ContinueRead.Broadcast()
}

// SignalContinueRead wakes the demuxer early from a backpressure sleep
// (spec §5). Nothing in the engine calls it; the decoder goroutines do not
// signal when their input queue runs dry.
func (d *Demuxer) SignalContinueRead() {
	d.ContinueRead.Broadcast()
}

// Run is the spec C5 loop. It returns when aborted or, for a finite
// (non-looping, autoexit) source, when playback has fully drained.
func (d *Demuxer) Run() error {
	for {
		d.mu.Lock()
		abort := d.abortRequest
		d.mu.Unlock()
		if abort {
			return nil
		}

		d.handlePauseChange()
		if err := d.handleSeek(); err != nil {
			return err
		}

		if d.shouldBackoff() {
			d.sleepOnContinueRead(10 * time.Millisecond)
			continue
		}

		if d.isDrained() {
			d.mu.Lock()
			loop := d.loopCount
			autoexit := d.autoexit
			d.mu.Unlock()
			if loop != 0 {
				if loop > 0 {
					d.mu.Lock()
					d.loopCount--
					d.mu.Unlock()
				}
				d.RequestSeek(d.StartTime, 0, false)
				continue
			}
			if autoexit {
				return nil
			}
			d.sleepOnContinueRead(10 * time.Millisecond)
			continue
		}

		pkt, found, err := d.source.ReadPacket()
		if err != nil || !found {
			d.putNullOnActiveQueues()
			d.mu.Lock()
			d.eof = true
			d.mu.Unlock()
			d.sleepOnContinueRead(10 * time.Millisecond)
			continue
		}
		d.mu.Lock()
		d.eof = false
		d.mu.Unlock()
		d.route(pkt)
	}
}

func (d *Demuxer) handlePauseChange() {
	d.mu.Lock()
	changed := d.pauseChanged
	d.pauseChanged = false
	d.mu.Unlock()
	if !changed {
		return
	}
	// The change is only consumed here: no read_pause/read_play call is
	// made against the media, for live or file sources alike.
}

func (d *Demuxer) handleSeek() error {
	d.mu.Lock()
	req := d.seekReq
	d.seekReq = SeekRequest{}
	paused := d.paused
	d.mu.Unlock()
	if !req.Pending {
		return nil
	}

	// Rounding compensation on seek bounds, preserved per spec §9's
	// documented heuristic: applied to the target before calling Seeker
	// rather than to a min/max pair reisen doesn't expose.
	target := req.Pos + req.Rel
	const roundingUnits = 2 * time.Millisecond
	if req.Rel < 0 {
		target -= roundingUnits
	} else if req.Rel > 0 {
		target += roundingUnits
	}
	if target < 0 {
		target = 0
	}

	if d.Seeker != nil {
		if err := d.Seeker(target, req.ByBytes); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.eof = false
	d.mu.Unlock()

	if d.VideoQ != nil {
		d.VideoQ.Flush()
	}
	if d.AudioQ != nil {
		d.AudioQ.Flush()
	}
	if d.SubtitleQ != nil {
		d.SubtitleQ.Flush()
	}

	if d.ExternalClock != nil {
		if req.ByBytes {
			d.ExternalClock.Set(nan, -1)
		} else {
			d.ExternalClock.Set(target.Seconds(), d.ExternalClock.Serial())
		}
	}

	if paused {
		// Net effect: one ContinueRead broadcast. No frame step is forced
		// while paused.
		d.RequestSeek(0, 0, false)
		d.mu.Lock()
		d.seekReq = SeekRequest{} // cleared again, so this does not re-seek
		d.mu.Unlock()
	}
	return nil
}

func (d *Demuxer) shouldBackoff() bool {
	totalBytes := 0
	if d.VideoQ != nil {
		totalBytes += d.VideoQ.Size()
	}
	if d.AudioQ != nil {
		totalBytes += d.AudioQ.Size()
	}
	if d.SubtitleQ != nil {
		totalBytes += d.SubtitleQ.Size()
	}
	if totalBytes > MaxQueueSizeBytes {
		return true
	}

	enough := func(q *PacketQueue, present bool) bool {
		return !present || q == nil || q.EnoughPackets()
	}
	return enough(d.VideoQ, d.hasVideo) && enough(d.AudioQ, d.hasAudio) && enough(d.SubtitleQ, d.hasSubtitle)
}

func (d *Demuxer) isDrained() bool {
	if d.DecodersFinished == nil || d.FrameQueuesEmpty == nil {
		return false
	}
	d.mu.Lock()
	eof := d.eof
	d.mu.Unlock()
	return eof && d.DecodersFinished() && d.FrameQueuesEmpty()
}

func (d *Demuxer) putNullOnActiveQueues() {
	if d.hasVideo && d.VideoQ != nil {
		_ = d.VideoQ.PutNull(d.videoStreamIndex, StreamVideo)
	}
	if d.hasAudio && d.AudioQ != nil {
		_ = d.AudioQ.PutNull(d.audioStreamIndex, StreamAudio)
	}
	if d.hasSubtitle && d.SubtitleQ != nil {
		_ = d.SubtitleQ.PutNull(d.subtitleStreamIndex, StreamSubtitle)
	}
}

func (d *Demuxer) route(pkt *reisen.Packet) {
	idx := pkt.StreamIndex()
	typ := pkt.Type()

	var q *PacketQueue
	switch {
	case d.hasVideo && idx == d.videoStreamIndex:
		q = d.VideoQ
	case d.hasAudio && idx == d.audioStreamIndex:
		q = d.AudioQ
	case d.hasSubtitle && idx == d.subtitleStreamIndex:
		q = d.SubtitleQ
	default:
		return // packet for a stream we didn't open
	}
	if q == nil {
		return
	}

	_ = typ
	_ = q.Put(Packet{StreamIndex: idx, Type: streamTypeOf(typ), Payload: pkt})
}

// streamTypeOf adapts reisen's own stream-type enum to the engine's.
func streamTypeOf(t reisen.StreamType) StreamType {
	switch t {
	case reisen.StreamVideo:
		return StreamVideo
	case reisen.StreamAudio:
		return StreamAudio
	default:
		return StreamSubtitle
	}
}

func (d *Demuxer) sleepOnContinueRead(max time.Duration) {
	done := make(chan struct{})
	timer := time.AfterFunc(max, func() {
		d.ContinueRead.Broadcast()
	})
	go func() {
		d.continueMu.Lock()
		d.ContinueRead.Wait()
		d.continueMu.Unlock()
		close(done)
	}()
	<-done
	timer.Stop()
}
