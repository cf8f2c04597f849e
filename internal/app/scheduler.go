package app

import (
	"log"
	"sync"
	"time"
)

// FinishFunc force-completes a game on behalf of the player who already
// answered everything.
type FinishFunc func(gameID int64, finishedUserID string, finishedPlayerID int64) error

// FinishScheduler arms at most one deferred-finish timer per game. The map is
// process-local: a restart drops pending timers and the games they guard stay
// active until the slow player answers or an operator intervenes.
type FinishScheduler struct {
	delay  time.Duration
	finish FinishFunc

	mu     sync.Mutex
	timers map[int64]*time.Timer
}

func NewFinishScheduler(delay time.Duration, finish FinishFunc) *FinishScheduler {
	return &FinishScheduler{
		delay:  delay,
		finish: finish,
		timers: make(map[int64]*time.Timer),
	}
}

// Schedule arms the timer for a game. A game with a live timer keeps it; the
// duplicate request is logged and dropped.
func (s *FinishScheduler) Schedule(gameID int64, finishedUserID string, finishedPlayerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[gameID]; ok {
		log.Printf("finish scheduler: timer already armed for game %d", gameID)
		return
	}
	s.timers[gameID] = time.AfterFunc(s.delay, func() {
		s.fire(gameID, finishedUserID, finishedPlayerID)
	})
}

// Cancel disarms and removes the game's timer. It reports whether a timer was
// armed; cancelling an unknown game is logged and ignored.
func (s *FinishScheduler) Cancel(gameID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[gameID]
	if !ok {
		log.Printf("finish scheduler: no timer to cancel for game %d", gameID)
		return false
	}
	delete(s.timers, gameID)
	timer.Stop()
	return true
}

// Armed reports whether a timer is live for the game.
func (s *FinishScheduler) Armed(gameID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[gameID]
	return ok
}

func (s *FinishScheduler) fire(gameID int64, finishedUserID string, finishedPlayerID int64) {
	s.mu.Lock()
	_, ok := s.timers[gameID]
	delete(s.timers, gameID)
	s.mu.Unlock()
	if !ok {
		// Cancelled after the timer fired but before we claimed the entry.
		return
	}

	// The entry is already gone, so a failure here cannot leave the map
	// holding a dead timer.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("finish scheduler: panic while finishing game %d: %v", gameID, r)
		}
	}()
	if err := s.finish(gameID, finishedUserID, finishedPlayerID); err != nil {
		log.Printf("finish scheduler: force finish of game %d failed: %v", gameID, err)
	}
}
