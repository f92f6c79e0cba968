// Package notify broadcasts document change events to external observers.
//
// Observers (a home-screen summary widget, the SSE bridge) re-read the
// document record themselves; events carry only the document id. Broadcasts
// are throttled per document: an attachment add/remove goes out immediately,
// a pure text change only once the idle interval since the last broadcast
// has elapsed. A text change landing inside the interval is not lost: one
// deferred broadcast fires when the interval runs out, so the last save of a
// burst always reaches observers.
package notify

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handler receives change events. Handlers run on the notifier loop and
// must not block.
type Handler func(docID uuid.UUID)

type changeReq struct {
	docID              uuid.UUID
	attachmentsChanged bool
}

// Notifier fans document change events out to subscribed handlers.
//
// Concurrency model: a single loop goroutine owns the subscriber set and
// the per-document last-broadcast timestamps; public methods communicate
// through channels.
type Notifier struct {
	idle time.Duration

	subscribeCh chan Handler
	changeCh    chan changeReq
	forgetCh    chan uuid.UUID
	deferredCh  chan uuid.UUID

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New creates a notifier with the given idle interval for text-only
// changes.
func New(idle time.Duration) *Notifier {
	if idle <= 0 {
		idle = 5 * time.Second
	}
	n := &Notifier{
		idle:        idle,
		subscribeCh: make(chan Handler),
		changeCh:    make(chan changeReq, 256),
		forgetCh:    make(chan uuid.UUID, 64),
		deferredCh:  make(chan uuid.UUID, 64),
		stopCh:      make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer close(n.stopped)

	var handlers []Handler
	lastBroadcast := make(map[uuid.UUID]time.Time)
	pending := make(map[uuid.UUID]struct{})

	broadcast := func(docID uuid.UUID) {
		lastBroadcast[docID] = time.Now()
		delete(pending, docID)
		for _, h := range handlers {
			h(docID)
		}
	}

	for {
		select {
		case <-n.stopCh:
			return

		case h := <-n.subscribeCh:
			handlers = append(handlers, h)

		case req := <-n.changeCh:
			if req.attachmentsChanged {
				broadcast(req.docID)
				continue
			}
			last, seen := lastBroadcast[req.docID]
			if !seen || time.Since(last) >= n.idle {
				broadcast(req.docID)
				continue
			}
			// Suppressed. Observers re-read state, so any number of
			// changes inside the interval collapse into the single
			// deferred broadcast armed for its end.
			if _, armed := pending[req.docID]; armed {
				continue
			}
			pending[req.docID] = struct{}{}
			docID := req.docID
			time.AfterFunc(n.idle-time.Since(last), func() {
				select {
				case n.deferredCh <- docID:
				case <-n.stopped:
				}
			})

		case docID := <-n.deferredCh:
			if _, armed := pending[docID]; armed {
				broadcast(docID)
			}

		case docID := <-n.forgetCh:
			delete(lastBroadcast, docID)
			delete(pending, docID)
		}
	}
}

// Subscribe registers a handler for all future change events.
func (n *Notifier) Subscribe(h Handler) {
	if n.closed.Load() {
		return
	}
	select {
	case n.subscribeCh <- h:
	case <-n.stopped:
	}
}

// DocumentChanged reports that a document's persisted state changed.
// attachmentsChanged forces an immediate broadcast; text-only changes are
// throttled by the idle interval.
func (n *Notifier) DocumentChanged(docID uuid.UUID, attachmentsChanged bool) {
	if n.closed.Load() {
		return
	}
	select {
	case n.changeCh <- changeReq{docID: docID, attachmentsChanged: attachmentsChanged}:
	case <-n.stopped:
	}
}

// Forget drops throttle state for a deleted document.
func (n *Notifier) Forget(docID uuid.UUID) {
	if n.closed.Load() {
		return
	}
	select {
	case n.forgetCh <- docID:
	case <-n.stopped:
	}
}

// Close stops the notifier loop.
func (n *Notifier) Close() {
	if n.closed.CompareAndSwap(false, true) {
		close(n.stopCh)
	}
	<-n.stopped
}
