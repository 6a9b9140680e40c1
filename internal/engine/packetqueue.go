package engine

import (
	"sync"
	"time"
)

// Packet is an opaque compressed unit carried between the demuxer and a
// decoder. Payload is a pointer to whatever the producer already holds
// (a *reisen.Packet in the real pipeline, or a synthetic value in tests);
// engine code never inspects it directly, it only moves it along.
type Packet struct {
	StreamIndex int
	Type        StreamType
	PTS         time.Duration
	DTS         time.Duration
	Duration    time.Duration
	Size        int
	Serial      int
	Null        bool // sentinel marking end-of-stream for StreamIndex
	Payload     any
}

// PacketQueue is a thread-safe FIFO of packets with size/duration/count
// accounting and a serial-tagged flush protocol (spec C1).
//
// A queue starts aborted: producers must call Start before the first Put.
type PacketQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []Packet
	size     int
	duration time.Duration
	serial   int
	aborted  bool
}

// NewPacketQueue returns an empty, aborted queue. Call Start before use.
func NewPacketQueue() *PacketQueue {
	q := &PacketQueue{aborted: true}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start clears the abort flag and increments the serial, beginning a new
// epoch. Safe to call whether or not the queue was already started.
func (q *PacketQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.aborted = false
	q.serial++
}

// Abort sets the abort flag and wakes every waiter. Gets and peek-writable
// waits fail with ErrQueueAborted from this point on, until Start is called
// again.
func (q *PacketQueue) Abort() {
	q.mu.Lock()
	q.aborted = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Flush drops all held packets, zeroes the accounting fields and increments
// the serial by exactly one, marking everything still in flight from the
// prior epoch as stale.
func (q *PacketQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	q.size = 0
	q.duration = 0
	q.serial++
}

// Put appends pkt, tagging it with the queue's current serial. It fails
// with ErrQueueAborted if the queue has not been started (or has been
// aborted since).
func (q *PacketQueue) Put(pkt Packet) error {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		return ErrQueueAborted
	}
	pkt.Serial = q.serial
	q.items = append(q.items, pkt)
	q.size += pkt.Size
	q.duration += pkt.Duration
	q.mu.Unlock()
	q.cond.Signal()
	return nil
}

// PutNull enqueues a sentinel packet marking end-of-stream for streamIndex.
func (q *PacketQueue) PutNull(streamIndex int, typ StreamType) error {
	return q.Put(Packet{StreamIndex: streamIndex, Type: typ, Null: true})
}

// Get retrieves the next packet. If block is true, it waits on the
// condition variable until a packet is available or the queue is aborted.
// If block is false and the queue is empty, it returns ErrQueueEmpty.
func (q *PacketQueue) Get(block bool) (Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.aborted {
			return Packet{}, ErrQueueAborted
		}
		if len(q.items) > 0 {
			pkt := q.items[0]
			q.items = q.items[1:]
			q.size -= pkt.Size
			q.duration -= pkt.Duration
			return pkt, nil
		}
		if !block {
			return Packet{}, ErrQueueEmpty
		}
		q.cond.Wait()
	}
}

// Serial returns the queue's current serial number.
func (q *PacketQueue) Serial() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.serial
}

// Count returns the number of packets currently held.
func (q *PacketQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Size returns the aggregate byte size of packets currently held.
func (q *PacketQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Duration returns the aggregate duration of packets currently held.
func (q *PacketQueue) Duration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.duration
}

// Aborted reports whether the queue is currently in the aborted state.
func (q *PacketQueue) Aborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// EnoughPackets reports whether this queue, for a stream that is present
// and not an attached picture, already holds enough packets that the
// demuxer should stop reading ahead for it (spec C5 "enough packets").
func (q *PacketQueue) EnoughPackets() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.aborted {
		return true
	}
	n := len(q.items)
	return n > MinFramesForEnough && (q.duration == 0 || q.duration > MinFramesForEnoughDur)
}

// Destroy releases held packets. After Destroy the queue must not be used.
func (q *PacketQueue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.size = 0
	q.duration = 0
}
