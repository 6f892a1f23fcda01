package synth

import "sync/atomic"

type opCode uint8

const (
	opAmplitude opCode = iota
	opMute
	opFrequency
	opSampleRate
)

// event is one DSP update destined for a single voice.
type event struct {
	op    opCode
	flag  bool
	voice VoiceID
	value float64
}

// eventQueue is a bounded single-producer/single-consumer ring. The producer
// stages any number of events and makes them visible with one atomic store in
// commit, so the consumer observes a batch either completely or not at all.
//
// The producer side (stage, commit, rollback, free) must be serialised by the
// caller; the consumer side (drain) must only run on one goroutine.
type eventQueue struct {
	buf  []event
	mask uint64

	head atomic.Uint64 // next slot to read; written by the consumer
	tail atomic.Uint64 // end of the last committed batch; written by the producer

	staged uint64 // producer-private write position
}

func newEventQueue(capacity int) *eventQueue {
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &eventQueue{buf: make([]event, n), mask: uint64(n - 1)}
}

// free returns how many more events can be staged. Space only grows
// concurrently, so a check followed by staging from the same producer is safe.
func (q *eventQueue) free() int {
	return len(q.buf) - int(q.staged-q.head.Load())
}

func (q *eventQueue) stage(ev event) bool {
	if q.free() == 0 {
		return false
	}
	q.buf[q.staged&q.mask] = ev
	q.staged++
	return true
}

func (q *eventQueue) commit() { q.tail.Store(q.staged) }

func (q *eventQueue) rollback() { q.staged = q.tail.Load() }

// pending returns the number of committed events not yet drained.
func (q *eventQueue) pending() int {
	return int(q.tail.Load() - q.head.Load())
}

// drain applies every committed event in order and returns how many were
// applied. It does not allocate.
func (q *eventQueue) drain(apply func(event)) int {
	h := q.head.Load()
	t := q.tail.Load()
	n := int(t - h)
	for ; h != t; h++ {
		apply(q.buf[h&q.mask])
	}
	q.head.Store(h)
	return n
}
