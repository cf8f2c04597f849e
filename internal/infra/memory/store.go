package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pair-game-service/internal/app"
	"pair-game-service/internal/domain"
)

// Store is an in-memory implementation of app.Store, used in tests and in the
// no-database demo mode. A single mutex serializes transactions, which gives
// the same one-mutation-per-game guarantee the Postgres row locks provide.
type Store struct {
	mu sync.Mutex

	questions     map[int64]domain.Question
	games         map[int64]*domain.Game
	players       map[int64]*domain.Player
	gameQuestions map[int64]*domain.GameQuestion
	answers       map[int64]*domain.Answer
	nextID        int64
}

// NewStore seeds the store with question content so assigned questions can be
// resolved inside transactions, mirroring the questions table in Postgres.
func NewStore(questions []domain.Question) *Store {
	s := &Store{
		questions:     make(map[int64]domain.Question, len(questions)),
		games:         make(map[int64]*domain.Game),
		players:       make(map[int64]*domain.Player),
		gameQuestions: make(map[int64]*domain.GameQuestion),
		answers:       make(map[int64]*domain.Answer),
	}
	for _, q := range questions {
		s.questions[q.ID] = q
	}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &storeTx{store: s})
}

type storeTx struct {
	store *Store
}

func (t *storeTx) CreateGame(_ context.Context, game *domain.Game) error {
	game.ID = t.store.id()
	copied := *game
	t.store.games[game.ID] = &copied
	return nil
}

func (t *storeTx) GetGame(_ context.Context, id int64) (domain.Game, error) {
	game, ok := t.store.games[id]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return *game, nil
}

func (t *storeTx) GameForUpdate(ctx context.Context, id int64) (domain.Game, error) {
	// The store mutex already serializes transactions.
	return t.GetGame(ctx, id)
}

func (t *storeTx) JoinablePendingGameForUpdate(_ context.Context) (*domain.Game, error) {
	var oldest *domain.Game
	for _, game := range t.store.games {
		if game.Status != domain.GamePending {
			continue
		}
		if t.playerCount(game.ID) >= 2 {
			continue
		}
		if oldest == nil || game.ID < oldest.ID {
			oldest = game
		}
	}
	if oldest == nil {
		return nil, nil
	}
	copied := *oldest
	return &copied, nil
}

func (t *storeTx) UpdateGame(_ context.Context, game domain.Game) error {
	if _, ok := t.store.games[game.ID]; !ok {
		return domain.ErrGameNotFound
	}
	copied := game
	t.store.games[game.ID] = &copied
	return nil
}

func (t *storeTx) CreatePlayer(_ context.Context, player *domain.Player) error {
	if t.playerCount(player.GameID) >= 2 {
		return fmt.Errorf("game %d already has two players", player.GameID)
	}
	for _, p := range t.store.players {
		if p.GameID == player.GameID && p.UserID == player.UserID {
			return fmt.Errorf("user %s already seated in game %d", player.UserID, player.GameID)
		}
	}
	player.ID = t.store.id()
	copied := *player
	t.store.players[player.ID] = &copied
	return nil
}

func (t *storeTx) PlayerInOpenGame(_ context.Context, userID string) (*domain.Player, *domain.Game, error) {
	for _, p := range t.store.players {
		if p.UserID != userID {
			continue
		}
		game := t.store.games[p.GameID]
		if game == nil || game.Status == domain.GameFinished {
			continue
		}
		playerCopy := *p
		gameCopy := *game
		return &playerCopy, &gameCopy, nil
	}
	return nil, nil, nil
}

func (t *storeTx) PlayerInGame(_ context.Context, gameID int64, userID string) (*domain.Player, error) {
	for _, p := range t.store.players {
		if p.GameID == gameID && p.UserID == userID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (t *storeTx) PlayersByGame(_ context.Context, gameID int64) ([]domain.Player, error) {
	var players []domain.Player
	for _, p := range t.store.players {
		if p.GameID == gameID {
			players = append(players, *p)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players, nil
}

func (t *storeTx) UpdatePlayerScore(_ context.Context, playerID int64, score int) error {
	player, ok := t.store.players[playerID]
	if !ok {
		return fmt.Errorf("player %d not found", playerID)
	}
	player.Score = score
	return nil
}

func (t *storeTx) CreateGameQuestions(_ context.Context, questions []domain.GameQuestion) error {
	for i := range questions {
		questions[i].ID = t.store.id()
		copied := questions[i]
		t.store.gameQuestions[copied.ID] = &copied
	}
	return nil
}

func (t *storeTx) GameQuestions(_ context.Context, gameID int64) ([]domain.GameQuestion, error) {
	var questions []domain.GameQuestion
	for _, gq := range t.store.gameQuestions {
		if gq.GameID == gameID {
			questions = append(questions, *gq)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
	return questions, nil
}

func (t *storeTx) QuestionsByIDs(_ context.Context, ids []int64) ([]domain.Question, error) {
	questions := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := t.store.questions[id]; ok {
			questions = append(questions, q)
		}
	}
	return questions, nil
}

func (t *storeTx) CreateAnswer(_ context.Context, answer *domain.Answer) error {
	for _, a := range t.store.answers {
		if a.PlayerID == answer.PlayerID && a.GameQuestionID == answer.GameQuestionID {
			return fmt.Errorf("player %d already answered game question %d", answer.PlayerID, answer.GameQuestionID)
		}
	}
	answer.ID = t.store.id()
	copied := *answer
	t.store.answers[answer.ID] = &copied
	return nil
}

func (t *storeTx) AnswersByPlayer(_ context.Context, playerID int64) ([]domain.Answer, error) {
	var answers []domain.Answer
	for _, a := range t.store.answers {
		if a.PlayerID == playerID {
			answers = append(answers, *a)
		}
	}
	sort.Slice(answers, func(i, j int) bool {
		if !answers[i].AddedAt.Equal(answers[j].AddedAt) {
			return answers[i].AddedAt.Before(answers[j].AddedAt)
		}
		return answers[i].ID < answers[j].ID
	})
	return answers, nil
}

func (t *storeTx) playerCount(gameID int64) int {
	count := 0
	for _, p := range t.store.players {
		if p.GameID == gameID {
			count++
		}
	}
	return count
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}
