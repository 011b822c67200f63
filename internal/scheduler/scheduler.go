// Package scheduler decides when an AI participant speaks without human
// action. It arms at most one delayed turn at a time and re-evaluates its
// guard after every state change; a scheduler belongs to exactly one game
// goroutine and is not safe for concurrent use.
package scheduler

import (
	"time"

	"github.com/DoyleJ11/liar-game/internal/engine"
)

const DefaultDelay = 2000 * time.Millisecond

// Due is posted when an armed delay elapses. Generation identifies the arming
// so a fire that raced a cancel can be recognised and dropped.
type Due struct {
	Generation uint64
}

// ShouldArm is the guard: talking, round still open, nothing in flight, no
// unacknowledged failure and the next speaker is an AI. A failed turn is only
// retried by an explicit request.
func ShouldArm(s engine.State) bool {
	return s.Phase == engine.PhaseTalk &&
		!s.RoundComplete &&
		!s.Busy &&
		s.Error == nil &&
		s.NextTurn != "" &&
		s.NextTurn != engine.UserID
}

// key pins an armed timer to the turn it was armed for.
type key struct {
	nextTurn   string
	historyLen int
}

func keyOf(s engine.State) key {
	return key{nextTurn: s.NextTurn, historyLen: len(s.History)}
}

type Scheduler struct {
	delay  time.Duration
	notify func(Due)

	gen   uint64
	timer *time.Timer
	armed bool
	key   key
}

// New returns a scheduler that calls notify from the timer goroutine when an
// armed delay elapses. notify must hand the Due back to the owning goroutine.
func New(delay time.Duration, notify func(Due)) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{delay: delay, notify: notify}
}

// Reconcile arms, keeps or cancels the pending turn for state s. It reports
// whether a turn is armed afterwards.
func (s *Scheduler) Reconcile(st engine.State) bool {
	if !ShouldArm(st) {
		s.Cancel()
		return false
	}

	k := keyOf(st)
	if s.armed && s.key == k {
		return true
	}

	// Armed for a different turn: drop it and start fresh.
	s.Cancel()
	s.gen++
	gen := s.gen
	s.armed = true
	s.key = k
	s.timer = time.AfterFunc(s.delay, func() {
		s.notify(Due{Generation: gen})
	})
	return true
}

// Accept consumes a fired Due. It returns true only for the current arming
// when the guard still holds for the turn it was armed for; the caller then
// issues exactly one autonomous turn.
func (s *Scheduler) Accept(d Due, st engine.State) bool {
	if !s.armed || d.Generation != s.gen {
		return false
	}
	s.armed = false
	s.timer = nil

	return ShouldArm(st) && keyOf(st) == s.key
}

// Cancel drops the pending turn, if any. A callback already in flight will
// carry a stale generation.
func (s *Scheduler) Cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.armed {
		s.gen++
		s.armed = false
	}
}

func (s *Scheduler) Stop() { s.Cancel() }

func (s *Scheduler) Armed() bool { return s.armed }

