package domain

import "time"

// RequiredQuestionsCount is the number of questions assigned to a pair game
// and the answer count at which a player is considered finished.
const RequiredQuestionsCount = 5

type GameStatus string

const (
	GamePending  GameStatus = "pending"
	GameActive   GameStatus = "active"
	GameFinished GameStatus = "finished"
)

type PlayerRole string

const (
	// RoleHost marks the first joiner, the one whose connect created the game.
	RoleHost   PlayerRole = "host"
	RolePlayer PlayerRole = "player"
)

type AnswerStatus string

const (
	AnswerCorrect   AnswerStatus = "correct"
	AnswerIncorrect AnswerStatus = "incorrect"
)

type QuestionStatus string

const (
	QuestionDraft     QuestionStatus = "draft"
	QuestionPublished QuestionStatus = "published"
)

// Game is a two-player pair. It is created pending, becomes active when the
// second player joins and questions are assigned, and finishes exactly once.
type Game struct {
	ID         int64
	Status     GameStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Player is one seat of a pair game. A user holds at most one player row in
// any non-finished game.
type Player struct {
	ID     int64
	GameID int64
	UserID string
	Role   PlayerRole
	Score  int
}

// GameQuestion attaches a question to a game at a fixed 1-based position.
// The sequence is written once when the second player joins and never changes.
type GameQuestion struct {
	ID         int64
	GameID     int64
	QuestionID int64
	Order      int
}

// Answer is a player's single attempt at one game question. A player answers
// questions strictly in order and never twice.
type Answer struct {
	ID             int64
	PlayerID       int64
	GameQuestionID int64
	Body           string
	Status         AnswerStatus
	AddedAt        time.Time
}

// Question is quiz content from the question bank. Only published questions
// are ever assigned to games.
type Question struct {
	ID             int64
	Body           string
	CorrectAnswers []string
	Status         QuestionStatus
}

// AnswerView is the outcome of recording one answer.
type AnswerView struct {
	QuestionID int64        `json:"questionId"`
	Status     AnswerStatus `json:"answerStatus"`
	AddedAt    time.Time    `json:"addedAt"`
}

// QuestionView exposes question content to players; correct answers are
// deliberately absent.
type QuestionView struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// PlayerProgress is one player's side of a game snapshot.
type PlayerProgress struct {
	UserID  string       `json:"userId"`
	Role    PlayerRole   `json:"role"`
	Score   int          `json:"score"`
	Answers []AnswerView `json:"answers"`
}

// GameView is a consistent snapshot of a game for its participants.
type GameView struct {
	ID              int64            `json:"id"`
	Status          GameStatus       `json:"status"`
	PairCreatedDate time.Time        `json:"pairCreatedDate"`
	StartGameDate   *time.Time       `json:"startGameDate,omitempty"`
	FinishGameDate  *time.Time       `json:"finishGameDate,omitempty"`
	Players         []PlayerProgress `json:"players"`
	Questions       []QuestionView   `json:"questions"`
}
