package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pushFrame(t *testing.T, fq *FrameQueue, pts time.Duration) {
	t.Helper()
	slot, err := fq.PeekWritable()
	require.NoError(t, err)
	*slot = Frame{Kind: FrameVideo, PTS: pts, HasPTS: true}
	fq.Push()
}

func TestFrameQueueKeepLastSemantics(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	fq := NewFrameQueue(pktq, 3, true)

	pushFrame(t, fq, time.Second)
	require.Equal(t, 1, fq.NbRemaining())

	// first Next just flips rindexShown, the slot is still "current"
	fq.Next()
	require.Equal(t, 0, fq.NbRemaining())

	pushFrame(t, fq, 2*time.Second)
	require.Equal(t, 1, fq.NbRemaining())

	readable, err := fq.PeekReadable()
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, readable.PTS)
}

func TestFrameQueueCapacityBlocksWriter(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	fq := NewFrameQueue(pktq, 2, false)

	pushFrame(t, fq, time.Second)
	pushFrame(t, fq, 2*time.Second)

	full := make(chan struct{})
	go func() {
		pushFrame(t, fq, 3*time.Second)
		close(full)
	}()

	select {
	case <-full:
		t.Fatal("PeekWritable returned while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	fq.Next()
	select {
	case <-full:
	case <-time.After(time.Second):
		t.Fatal("PeekWritable did not unblock after Next freed a slot")
	}
}

func TestFrameQueueAbortUnblocksReaderAndWriter(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	fq := NewFrameQueue(pktq, 1, false)

	readErrc := make(chan error, 1)
	go func() {
		_, err := fq.PeekReadable()
		readErrc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	pktq.Abort()
	fq.Signal()

	select {
	case err := <-readErrc:
		require.ErrorIs(t, err, ErrQueueAborted)
	case <-time.After(time.Second):
		t.Fatal("PeekReadable did not unblock after abort")
	}

	_, err := fq.PeekWritable()
	require.ErrorIs(t, err, ErrQueueAborted)
}

func TestFrameQueuePeekNextAndLast(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	fq := NewFrameQueue(pktq, 4, true)

	pushFrame(t, fq, time.Second)
	pushFrame(t, fq, 2*time.Second)

	require.Equal(t, time.Second, fq.Peek().PTS)
	require.Equal(t, 2*time.Second, fq.PeekNext().PTS)
	require.Equal(t, time.Second, fq.PeekLast().PTS)

	fq.Next()
	require.Equal(t, time.Second, fq.PeekLast().PTS)
	require.Equal(t, 2*time.Second, fq.Peek().PTS)
}
