// Copyright 2025 James Ross
package arbiter

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
	"github.com/juanmitaboada/redismultiplexer/internal/item"
	"go.uber.org/zap"
)

// Request is what a worker submits: an optional ordering key and an
// optional item. Key is nil when the item has no ordering key (or when the
// worker is only asking for a flush on an idle pop). Item is nil on an
// idle-pop poll. ID is a per-submission correlation id, useful for tracing
// a single request through debug logs across the worker/arbiter boundary.
type Request struct {
	ID       string
	WorkerID int
	Key      *item.Key
	Item     []byte
	Reply    chan [][]byte
}

// Arbiter is the single-threaded serializer described in spec.md §4.D. It
// owns the priority buffer; all access is from its own goroutine, so no
// locking is needed, per the "shared-resource policy" in spec.md §5.
type Arbiter struct {
	bufferTime time.Duration
	reqCh      chan Request
	controlCh  chan bool // true = drain mode, false = exit
	sizeCh     chan *int // nil on exit, a count otherwise
	log        *zap.Logger

	buf   minHeap
	drain bool
	now   func() time.Time
}

// New constructs an Arbiter. bufferTime is the hold-down window
// (ordering_buffer_time). sizeCh receives the buffer size after every
// submission and a nil sentinel when the arbiter exits. log may be nil.
func New(bufferTime time.Duration, sizeCh chan *int, log *zap.Logger) *Arbiter {
	return &Arbiter{
		bufferTime: bufferTime,
		reqCh:      make(chan Request),
		controlCh:  make(chan bool, 1),
		sizeCh:     sizeCh,
		log:        log,
		now:        time.Now,
	}
}

// Requests returns the channel workers submit on.
func (a *Arbiter) Requests() chan<- Request { return a.reqCh }

// Submit sends a request and blocks for its reply. Each call allocates its
// own reply channel, which is how request/reply pairing across concurrent
// workers is preserved without the arbiter needing a fixed array of
// per-worker channels (spec.md §5's reply[i] requirement, satisfied by
// embedding the reply channel in the request instead).
func Submit(reqCh chan<- Request, workerID int, key *item.Key, itemBytes []byte) [][]byte {
	reply := make(chan [][]byte, 1)
	reqCh <- Request{ID: uuid.NewString(), WorkerID: workerID, Key: key, Item: itemBytes, Reply: reply}
	return <-reply
}

// Shutdown tells the arbiter to enter drain mode (true, release everything
// regardless of age) or to exit (false), mirroring arb_shutdown in
// spec.md §5.
func (a *Arbiter) Shutdown(drainThenExit bool) {
	a.controlCh <- drainThenExit
}

// Run is the arbiter's main loop. It performs a non-blocking receive on the
// request channel and sleeps 1ms when idle, per spec.md §5's "short poll;
// do not busy-spin" requirement.
func (a *Arbiter) Run() {
	heap.Init(&a.buf)
	keepWorking := true
	for keepWorking {
		select {
		case req := <-a.reqCh:
			released := a.handle(req)
			req.Reply <- released
			if a.log != nil {
				a.log.Debug("arbiter processed request",
					zap.String("request_id", req.ID),
					zap.Int("worker", req.WorkerID),
					zap.Int("released", len(released)))
			}
			if a.sizeCh != nil {
				n := a.buf.Len()
				a.sizeCh <- &n
			}
		default:
			time.Sleep(time.Millisecond)
		}

		select {
		case drainThenExit := <-a.controlCh:
			if drainThenExit {
				a.drain = true
			} else {
				keepWorking = false
			}
		default:
		}
	}
	if a.sizeCh != nil {
		a.sizeCh <- nil
	}
}

// handle implements submit()'s semantics (spec.md §4.D).
func (a *Arbiter) handle(req Request) [][]byte {
	var released [][]byte

	if a.drain {
		for a.buf.Len() > 0 {
			n := heap.Pop(&a.buf).(node)
			released = append(released, n.data)
		}
		if req.Item != nil {
			released = append(released, req.Item)
		}
		return released
	}

	if req.Item != nil {
		if req.Key != nil {
			heap.Push(&a.buf, node{key: *req.Key, insertedAt: a.now(), data: req.Item})
		} else {
			released = append(released, req.Item)
		}
	}

	cutoff := a.now().Add(-a.bufferTime)
	for a.buf.Len() > 0 && a.buf[0].insertedAt.Before(cutoff) {
		n := heap.Pop(&a.buf).(node)
		released = append(released, n.data)
	}
	return released
}
