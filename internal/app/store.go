package app

import (
	"context"

	"pair-game-service/internal/domain"
)

// Store provides transactional access to pair game state (in-memory, Postgres).
// A transaction owns every row it touches: concurrent mutations of the same
// game are serialized by the *ForUpdate reads.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside one transaction.
type Tx interface {
	// CreateGame inserts a game and fills in its ID.
	CreateGame(ctx context.Context, game *domain.Game) error
	// GetGame returns domain.ErrGameNotFound for unknown ids.
	GetGame(ctx context.Context, id int64) (domain.Game, error)
	// GameForUpdate loads a game holding an exclusive row lock until commit.
	GameForUpdate(ctx context.Context, id int64) (domain.Game, error)
	// JoinablePendingGameForUpdate locks and returns the oldest pending game
	// with a free seat, or nil when none exists.
	JoinablePendingGameForUpdate(ctx context.Context) (*domain.Game, error)
	UpdateGame(ctx context.Context, game domain.Game) error

	// CreatePlayer inserts a player and fills in its ID. The (game, user)
	// pair is unique and a game never holds more than two players.
	CreatePlayer(ctx context.Context, player *domain.Player) error
	// PlayerInOpenGame returns the user's player row in a pending or active
	// game together with that game, or nils when the user has none.
	PlayerInOpenGame(ctx context.Context, userID string) (*domain.Player, *domain.Game, error)
	// PlayerInGame returns the user's player row in the given game, or nil.
	PlayerInGame(ctx context.Context, gameID int64, userID string) (*domain.Player, error)
	PlayersByGame(ctx context.Context, gameID int64) ([]domain.Player, error)
	UpdatePlayerScore(ctx context.Context, playerID int64, score int) error

	CreateGameQuestions(ctx context.Context, questions []domain.GameQuestion) error
	// GameQuestions returns the game's questions ordered by position.
	GameQuestions(ctx context.Context, gameID int64) ([]domain.GameQuestion, error)
	QuestionsByIDs(ctx context.Context, ids []int64) ([]domain.Question, error)

	// CreateAnswer inserts an answer; the (player, game question) pair is unique.
	CreateAnswer(ctx context.Context, answer *domain.Answer) error
	// AnswersByPlayer returns the player's answers ordered by submission time.
	AnswersByPlayer(ctx context.Context, playerID int64) ([]domain.Answer, error)
}

// QuestionBank supplies quiz content for new games.
type QuestionBank interface {
	// RandomPublished draws count distinct published questions uniformly at
	// random. It fails with domain.ErrNotEnoughQuestions when the bank holds
	// fewer than count.
	RandomPublished(ctx context.Context, count int) ([]domain.Question, error)
}
