// Package scheduler debounces keystroke-level edits into batched saves.
//
// Each document owns one Scheduler running a four-state machine: Idle,
// PendingSave (debounce timer armed), Saving (save in flight), and
// SaveQueuedAgain (an edit landed mid-save; exactly one follow-up save runs
// after the current one completes). At most one save is ever in flight.
package scheduler

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// State of the per-document save machine.
type State uint8

const (
	Idle State = iota
	PendingSave
	Saving
	SaveQueuedAgain
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingSave:
		return "pending"
	case Saving:
		return "saving"
	case SaveQueuedAgain:
		return "queued"
	}
	return "unknown"
}

// SaveFunc performs one full save of the owning document: tokenize,
// archive, hash, persist, reconcile. It runs on a background goroutine and
// always runs to completion; errors leave the document eligible for retry
// on the next natural trigger.
type SaveFunc func() error

// Config holds the scheduler policy knobs.
type Config struct {
	// Debounce is how long edits must stop arriving before a save starts.
	Debounce time.Duration
	// MinSpacing is the minimum interval between the end of one save and
	// the start of the next. A debounce that fires early is rescheduled
	// for the remainder rather than saving immediately.
	MinSpacing time.Duration

	// AttachmentScale stretches the debounce after an attachment insert,
	// so serialization does not contend with the larger payload write.
	AttachmentScale float64
	// LargeDocBytes and LargeDocScale stretch the debounce once the
	// document grows past the threshold, to avoid re-serializing very
	// large documents on every pause.
	LargeDocBytes int
	LargeDocScale float64
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 600 * time.Millisecond
	}
	if c.MinSpacing < 0 {
		c.MinSpacing = 0
	}
	if c.AttachmentScale < 1 {
		c.AttachmentScale = 1
	}
	if c.LargeDocScale < 1 {
		c.LargeDocScale = 1
	}
	return c
}

// Edit is one edit notification from the editing surface.
type Edit struct {
	// Attachment marks an attachment insert/remove rather than a text edit.
	Attachment bool
	// DocBytes is the approximate document text size after the edit.
	DocBytes int
}

// Scheduler owns the save state machine for a single document.
//
// Concurrency model: a single internal loop goroutine owns all mutable
// state (state, timer, last-save timestamp). Public methods communicate
// with the loop through channels, so no mutexes are required. Saves run on
// their own goroutine and report back to the loop.
type Scheduler struct {
	cfg    Config
	save   SaveFunc
	logger *slog.Logger

	editCh  chan Edit
	flushCh chan chan error
	stateCh chan chan State

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New creates and starts a scheduler for one document.
func New(cfg Config, save SaveFunc, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:     cfg.withDefaults(),
		save:    save,
		logger:  logger,
		editCh:  make(chan Edit, 64),
		flushCh: make(chan chan error),
		stateCh: make(chan chan State),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

// Edited records an edit. While Idle or PendingSave this (re)arms the
// debounce timer, cancelling any previous one; while a save is in flight it
// queues exactly one follow-up save.
func (s *Scheduler) Edited(e Edit) {
	if s.closed.Load() {
		return
	}
	select {
	case s.editCh <- e:
	case <-s.stopped:
	}
}

// Flush forces a save now, bypassing debounce and spacing. Used at
// lifecycle checkpoints (app moving to background, shutdown). If a save is
// already in flight, Flush returns once that save completes.
func (s *Scheduler) Flush() error {
	if s.closed.Load() {
		return nil
	}
	resp := make(chan error, 1)
	select {
	case s.flushCh <- resp:
	case <-s.stopped:
		return nil
	}
	select {
	case err := <-resp:
		return err
	case <-s.stopped:
		return nil
	}
}

// State reports the current machine state. Intended for tests and
// diagnostics.
func (s *Scheduler) State() State {
	if s.closed.Load() {
		return Idle
	}
	resp := make(chan State, 1)
	select {
	case s.stateCh <- resp:
	case <-s.stopped:
		return Idle
	}
	select {
	case st := <-resp:
		return st
	case <-s.stopped:
		return Idle
	}
}

// Close stops the scheduler. An in-flight save runs to completion first;
// no new saves start.
func (s *Scheduler) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopCh)
	}
	<-s.stopped
}

func (s *Scheduler) run() {
	defer close(s.stopped)

	var (
		state       State
		timer       *time.Timer
		timerCh     <-chan time.Time
		doneCh      = make(chan error, 1)
		lastSaveEnd time.Time
		haveSaved   bool
		flushers    []chan error
	)

	arm := func(d time.Duration) {
		if timer == nil {
			timer = time.NewTimer(d)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timerCh:
			default:
			}
		}
		timer.Reset(d)
	}

	disarm := func() {
		if timer != nil && !timer.Stop() {
			select {
			case <-timerCh:
			default:
			}
		}
	}

	startSave := func() {
		state = Saving
		go func() {
			doneCh <- s.save()
		}()
	}

	for {
		select {
		case <-s.stopCh:
			disarm()
			if state == Saving || state == SaveQueuedAgain {
				err := <-doneCh
				s.finishSave(err)
				for _, f := range flushers {
					f <- err
				}
			}
			return

		case e := <-s.editCh:
			switch state {
			case Idle, PendingSave:
				arm(s.debounceFor(e))
				state = PendingSave
			case Saving:
				state = SaveQueuedAgain
			case SaveQueuedAgain:
				// Already queued; further edits fold in.
			}

		case <-timerCh:
			if state != PendingSave {
				continue
			}
			if haveSaved {
				if wait := s.cfg.MinSpacing - time.Since(lastSaveEnd); wait > 0 {
					// Too soon after the last save: defer for the
					// remaining spacing instead of saving now.
					arm(wait)
					continue
				}
			}
			startSave()

		case err := <-doneCh:
			lastSaveEnd = time.Now()
			haveSaved = true
			s.finishSave(err)
			for _, f := range flushers {
				f <- err
			}
			flushers = nil
			if state == SaveQueuedAgain {
				arm(s.cfg.Debounce)
				state = PendingSave
			} else {
				state = Idle
			}

		case resp := <-s.flushCh:
			switch state {
			case Saving, SaveQueuedAgain:
				// Answer once the in-flight (or queued) save lands.
				flushers = append(flushers, resp)
			default:
				disarm()
				flushers = append(flushers, resp)
				startSave()
			}

		case resp := <-s.stateCh:
			resp <- state
		}
	}
}

func (s *Scheduler) finishSave(err error) {
	if err != nil {
		// The document's persisted hash is untouched; the next edit or
		// flush retries naturally. No retry timer.
		s.logger.Warn("scheduler: save failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) debounceFor(e Edit) time.Duration {
	d := float64(s.cfg.Debounce)
	if e.Attachment {
		d *= s.cfg.AttachmentScale
	}
	if s.cfg.LargeDocBytes > 0 && e.DocBytes > s.cfg.LargeDocBytes {
		d *= s.cfg.LargeDocScale
	}
	return time.Duration(d)
}
