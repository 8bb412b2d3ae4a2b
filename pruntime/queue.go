package pruntime

import "github.com/VimanyuAgg/P/pvalue"

// queueEntry is one undelivered event together with its payload. The
// payload is exclusively owned by the queue until the entry is removed.
type queueEntry struct {
	event   uint32
	payload *pvalue.Value
}

// eventQueue is the bounded FIFO of a machine instance. Deferred events
// stay in place at the front while later non-deferred events are scanned
// past them, so a defer never blocks delivery of the rest of the queue.
// All methods require the owning machine's lock.
type eventQueue struct {
	entries []queueEntry

	// counts tracks live per-event occupancy, indexed by event decl
	// index, to enforce the per-event max-instances bound.
	counts []uint32

	max uint32
}

func newEventQueue(maxSize uint32, numEvents int) eventQueue {
	return eventQueue{
		counts: make([]uint32, numEvents),
		max:    maxSize,
	}
}

// size returns the number of queued events.
func (q *eventQueue) size() int {
	return len(q.entries)
}

// full reports whether another entry would exceed the queue bound.
func (q *eventQueue) full() bool {
	return uint32(len(q.entries)) >= q.max
}

// push appends an entry, taking ownership of its payload. The caller has
// already checked the queue and per-event bounds.
func (q *eventQueue) push(e queueEntry) {
	q.entries = append(q.entries, e)
	q.counts[e.event]++
}

// removeAt removes and returns the entry at position i, transferring
// payload ownership to the caller. Earlier entries stay in place so that
// deferred events keep their queue positions.
func (q *eventQueue) removeAt(i int) queueEntry {
	e := q.entries[i]
	q.counts[e.event]--
	copy(q.entries[i:], q.entries[i+1:])
	q.entries[len(q.entries)-1] = queueEntry{}
	q.entries = q.entries[:len(q.entries)-1]
	return e
}

// firstNonDeferred returns the position of the first entry whose event is
// not in defers, scanning from the head.
func (q *eventQueue) firstNonDeferred(defers *EventSet) (int, bool) {
	for i := range q.entries {
		if !defers.Contains(q.entries[i].event) {
			return i, true
		}
	}
	return 0, false
}

// firstMatching returns the position of the first entry whose event is in
// the case set, skipping entries deferred by the current state.
func (q *eventQueue) firstMatching(caseSet, defers *EventSet) (int, bool) {
	for i := range q.entries {
		ev := q.entries[i].event
		if defers.Contains(ev) {
			continue
		}
		if caseSet.Contains(ev) {
			return i, true
		}
	}
	return 0, false
}

// drain frees every queued payload and empties the queue.
func (q *eventQueue) drain() {
	for i := range q.entries {
		pvalue.Free(q.entries[i].payload)
		q.entries[i] = queueEntry{}
	}
	q.entries = nil
	for i := range q.counts {
		q.counts[i] = 0
	}
}
