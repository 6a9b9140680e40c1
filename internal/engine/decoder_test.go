package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// The video/audio decode paths call into concrete *reisen.VideoFrame /
// *reisen.AudioFrame types, which require a live cgo decoder to produce —
// the teacher's own controllers have no unit tests for the same reason.
// What's tested here is the decode-unit state machine around that boundary:
// the null-sentinel/finished marker and the serial-flush reset, both of
// which only touch PacketQueue/FrameQueue.

func TestDecodeOneReportsFinishedOnNullPacket(t *testing.T) {
	inQ := NewPacketQueue()
	inQ.Start()
	outQ := NewFrameQueue(inQ, 3, true)

	d := NewVideoDecoder(inQ, outQ, nil)
	require.NoError(t, inQ.PutNull(0, StreamVideo))

	_, status, err := d.DecodeOne()
	require.NoError(t, err)
	require.Equal(t, DecodeFinished, status)
	require.Equal(t, inQ.Serial(), d.Finished())
}

func TestDecodeOneResetsFinishedMarkerOnFlush(t *testing.T) {
	inQ := NewPacketQueue()
	inQ.Start()
	outQ := NewFrameQueue(inQ, 3, true)
	d := NewVideoDecoder(inQ, outQ, nil)

	require.NoError(t, inQ.PutNull(0, StreamVideo))
	_, status, err := d.DecodeOne()
	require.NoError(t, err)
	require.Equal(t, DecodeFinished, status)

	inQ.Flush()
	require.NoError(t, inQ.Put(Packet{}))
	_, status, err = d.DecodeOne()
	require.NoError(t, err)
	require.Equal(t, DecodeNeedMoreInput, status, "nil video source reports need-more-input, not finished")
	require.Equal(t, 0, d.Finished(), "finished marker resets across a flush-bumped serial")
}

func TestDecodeOneReportsAbortedWhenQueueAborted(t *testing.T) {
	inQ := NewPacketQueue()
	inQ.Start()
	outQ := NewFrameQueue(inQ, 3, true)
	d := NewVideoDecoder(inQ, outQ, nil)

	inQ.Abort()
	_, status, err := d.DecodeOne()
	require.ErrorIs(t, err, ErrQueueAborted)
	require.Equal(t, DecodeAborted, status)
}

func TestSubtitleDecoderWithNilSourceNeedsMoreInput(t *testing.T) {
	inQ := NewPacketQueue()
	inQ.Start()
	outQ := NewFrameQueue(inQ, SubtitleFrameQueueSize, false)
	d := NewSubtitleDecoder(inQ, outQ, nil)

	require.NoError(t, inQ.Put(Packet{}))
	_, status, err := d.DecodeOne()
	require.NoError(t, err)
	require.Equal(t, DecodeNeedMoreInput, status)
}
