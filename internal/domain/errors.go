package domain

import "errors"

var (
	// ErrAlreadyInGame is returned when a user who already holds a seat in a
	// pending or active game tries to connect again.
	ErrAlreadyInGame = errors.New("user already participates in a pending or active game")
	// ErrNotInActiveGame is returned when a user submits an answer without a
	// seat in an active game.
	ErrNotInActiveGame = errors.New("user is not in an active game")
	// ErrAllQuestionsAnswered is returned when a player has no unanswered
	// questions left.
	ErrAllQuestionsAnswered = errors.New("all questions are already answered")
	// ErrNotGameParticipant is returned when a user requests a game they are
	// not a player of.
	ErrNotGameParticipant = errors.New("user is not a participant of this game")
	// ErrGameNotFound indicates the requested game id does not exist.
	ErrGameNotFound = errors.New("game not found")
	// ErrNoCurrentGame indicates the user has no pending or active game.
	ErrNoCurrentGame = errors.New("no current game for user")
	// ErrNotEnoughQuestions indicates the question bank holds fewer published
	// questions than a game needs.
	ErrNotEnoughQuestions = errors.New("not enough published questions")
	// ErrProgressMissing indicates game data expected after validation was not
	// found; it signals a storage consistency violation, not a caller mistake.
	ErrProgressMissing = errors.New("game progress data is missing")
)
