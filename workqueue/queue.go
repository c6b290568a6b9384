// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package workqueue implements the serial executor that peers of a group share.

Work items are plain closures tagged with an owner.  They run one at a time,
in submission order, on a single goroutine, so any state that is only touched
from inside work items needs no further locking.  Submitting never blocks,
which lets network read loops hand messages over without ever stalling on slow
business logic.  All queued items of an owner can be discarded with Cancel,
which is how a disconnecting peer drops work that no longer applies.
*/
package workqueue

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// workItem is a single unit of queued work.
type workItem struct {
	owner interface{}
	fn    func()
}

// Queue is an unbounded serial work queue.  The zero value is not usable, use
// New to create one.
type Queue struct {
	started int32
	stopped int32

	mtx     sync.Mutex
	pending *list.List

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// New returns a new queue.  Work may be submitted right away, it starts being
// executed once Start is called.
func New() *Queue {
	return &Queue{
		pending: list.New(),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
}

// Start begins executing queued work.
func (q *Queue) Start() {
	if atomic.AddInt32(&q.started, 1) != 1 {
		return
	}

	log.Trace("Starting work queue")
	q.wg.Add(1)
	go q.queueHandler()
}

// Stop discards any pending work and waits for the item being executed, if
// any, to return.  It must not be called from inside a work item.
func (q *Queue) Stop() {
	if atomic.AddInt32(&q.stopped, 1) != 1 {
		return
	}

	close(q.quit)
	q.wg.Wait()

	q.mtx.Lock()
	discarded := q.pending.Len()
	q.pending.Init()
	q.mtx.Unlock()

	log.Tracef("Work queue stopped (%d pending items discarded)", discarded)
}

// Submit appends fn to the queue on behalf of owner.  The owner may be nil when
// the work must never be cancelled.  It returns false when the queue has been
// stopped and fn was not queued.
//
// This function is safe for concurrent access and never blocks.
func (q *Queue) Submit(owner interface{}, fn func()) bool {
	if atomic.LoadInt32(&q.stopped) != 0 {
		return false
	}

	q.mtx.Lock()
	q.pending.PushBack(&workItem{owner: owner, fn: fn})
	q.mtx.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Do submits fn and waits for it to be executed.  It returns false when the
// queue was stopped before fn ran.
//
// Calling Do from inside a work item deadlocks.
func (q *Queue) Do(fn func()) bool {
	done := make(chan struct{})
	ok := q.Submit(nil, func() {
		fn()
		close(done)
	})
	if !ok {
		return false
	}

	select {
	case <-done:
		return true
	case <-q.quit:
		// The item may still have been executed before the queue
		// noticed the stop request.
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// Cancel removes every queued, not yet executing, item submitted by owner and
// returns how many were removed.  A nil owner never matches.
//
// This function is safe for concurrent access.
func (q *Queue) Cancel(owner interface{}) int {
	if owner == nil {
		return 0
	}

	q.mtx.Lock()
	defer q.mtx.Unlock()

	var removed int
	for e := q.pending.Front(); e != nil; {
		next := e.Next()
		if e.Value.(*workItem).owner == owner {
			q.pending.Remove(e)
			removed++
		}
		e = next
	}
	return removed
}

// Stopped returns a channel that is closed once Stop has been called.
func (q *Queue) Stopped() <-chan struct{} {
	return q.quit
}

// Len returns the number of queued items that have not started executing.
//
// This function is safe for concurrent access.
func (q *Queue) Len() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return q.pending.Len()
}

// next pops the oldest queued item, if any.
func (q *Queue) next() *workItem {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	elem := q.pending.Front()
	if elem == nil {
		return nil
	}
	q.pending.Remove(elem)
	return elem.Value.(*workItem)
}

// queueHandler executes queued work one item at a time.  It must be run as a
// goroutine.
func (q *Queue) queueHandler() {
	defer q.wg.Done()

	for {
		select {
		case <-q.quit:
			return
		default:
		}

		item := q.next()
		if item == nil {
			select {
			case <-q.quit:
				return
			case <-q.wake:
			}
			continue
		}

		item.fn()
	}
}
