package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pair-game-service/internal/app"
	"pair-game-service/internal/domain"

	"github.com/uptrace/bun"
)

// Store is the bun-backed implementation of app.Store. Pessimistic row locks
// (SELECT ... FOR UPDATE) on the games table serialize mutations per game.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &storeTx{tx: tx})
	})
}

type storeTx struct {
	tx bun.Tx
}

type gameRecord struct {
	bun.BaseModel `bun:"table:games,alias:g"`

	ID         int64      `bun:"id,pk,autoincrement"`
	Status     string     `bun:"status,notnull"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
	StartedAt  *time.Time `bun:"started_at"`
	FinishedAt *time.Time `bun:"finished_at"`
}

type playerRecord struct {
	bun.BaseModel `bun:"table:players,alias:p"`

	ID     int64  `bun:"id,pk,autoincrement"`
	GameID int64  `bun:"game_id,notnull"`
	UserID string `bun:"user_id,notnull"`
	Role   string `bun:"role,notnull"`
	Score  int    `bun:"score,notnull"`
}

type gameQuestionRecord struct {
	bun.BaseModel `bun:"table:game_questions,alias:gq"`

	ID         int64 `bun:"id,pk,autoincrement"`
	GameID     int64 `bun:"game_id,notnull"`
	QuestionID int64 `bun:"question_id,notnull"`
	Order      int   `bun:"ord,notnull"`
}

type answerRecord struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	ID             int64     `bun:"id,pk,autoincrement"`
	PlayerID       int64     `bun:"player_id,notnull"`
	GameQuestionID int64     `bun:"game_question_id,notnull"`
	Body           string    `bun:"body,notnull"`
	Status         string    `bun:"status,notnull"`
	AddedAt        time.Time `bun:"added_at,notnull"`
}

type questionRecord struct {
	bun.BaseModel `bun:"table:questions,alias:q"`

	ID             int64    `bun:"id,pk,autoincrement"`
	Body           string   `bun:"body,notnull"`
	CorrectAnswers []string `bun:"correct_answers,type:jsonb"`
	Status         string   `bun:"status,notnull"`
}

func (t *storeTx) CreateGame(ctx context.Context, game *domain.Game) error {
	rec := &gameRecord{
		Status:     string(game.Status),
		CreatedAt:  game.CreatedAt,
		StartedAt:  game.StartedAt,
		FinishedAt: game.FinishedAt,
	}
	if _, err := t.tx.NewInsert().Model(rec).Returning("id").Exec(ctx); err != nil {
		return err
	}
	game.ID = rec.ID
	return nil
}

func (t *storeTx) GetGame(ctx context.Context, id int64) (domain.Game, error) {
	rec := new(gameRecord)
	err := t.tx.NewSelect().Model(rec).Where("g.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, err
	}
	return toGame(rec), nil
}

func (t *storeTx) GameForUpdate(ctx context.Context, id int64) (domain.Game, error) {
	rec := new(gameRecord)
	err := t.tx.NewSelect().Model(rec).Where("g.id = ?", id).For("UPDATE").Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, err
	}
	return toGame(rec), nil
}

func (t *storeTx) JoinablePendingGameForUpdate(ctx context.Context) (*domain.Game, error) {
	rec := new(gameRecord)
	err := t.tx.NewSelect().Model(rec).
		Where("g.status = ?", string(domain.GamePending)).
		Where("(SELECT count(*) FROM players p WHERE p.game_id = g.id) < 2").
		OrderExpr("g.id").
		Limit(1).
		For("UPDATE OF g").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	game := toGame(rec)
	return &game, nil
}

func (t *storeTx) UpdateGame(ctx context.Context, game domain.Game) error {
	rec := &gameRecord{
		ID:         game.ID,
		Status:     string(game.Status),
		CreatedAt:  game.CreatedAt,
		StartedAt:  game.StartedAt,
		FinishedAt: game.FinishedAt,
	}
	_, err := t.tx.NewUpdate().Model(rec).WherePK().Exec(ctx)
	return err
}

func (t *storeTx) CreatePlayer(ctx context.Context, player *domain.Player) error {
	rec := &playerRecord{
		GameID: player.GameID,
		UserID: player.UserID,
		Role:   string(player.Role),
		Score:  player.Score,
	}
	if _, err := t.tx.NewInsert().Model(rec).Returning("id").Exec(ctx); err != nil {
		return err
	}
	player.ID = rec.ID
	return nil
}

func (t *storeTx) PlayerInOpenGame(ctx context.Context, userID string) (*domain.Player, *domain.Game, error) {
	rec := new(playerRecord)
	err := t.tx.NewSelect().Model(rec).
		Join("JOIN games AS g ON g.id = p.game_id").
		Where("p.user_id = ?", userID).
		Where("g.status != ?", string(domain.GameFinished)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	game, err := t.GetGame(ctx, rec.GameID)
	if err != nil {
		return nil, nil, err
	}
	player := toPlayer(rec)
	return &player, &game, nil
}

func (t *storeTx) PlayerInGame(ctx context.Context, gameID int64, userID string) (*domain.Player, error) {
	rec := new(playerRecord)
	err := t.tx.NewSelect().Model(rec).
		Where("p.game_id = ?", gameID).
		Where("p.user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	player := toPlayer(rec)
	return &player, nil
}

func (t *storeTx) PlayersByGame(ctx context.Context, gameID int64) ([]domain.Player, error) {
	var recs []playerRecord
	err := t.tx.NewSelect().Model(&recs).
		Where("p.game_id = ?", gameID).
		OrderExpr("p.id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	players := make([]domain.Player, 0, len(recs))
	for i := range recs {
		players = append(players, toPlayer(&recs[i]))
	}
	return players, nil
}

func (t *storeTx) UpdatePlayerScore(ctx context.Context, playerID int64, score int) error {
	_, err := t.tx.NewUpdate().Model((*playerRecord)(nil)).
		Set("score = ?", score).
		Where("id = ?", playerID).
		Exec(ctx)
	return err
}

func (t *storeTx) CreateGameQuestions(ctx context.Context, questions []domain.GameQuestion) error {
	if len(questions) == 0 {
		return nil
	}
	recs := make([]gameQuestionRecord, 0, len(questions))
	for _, gq := range questions {
		recs = append(recs, gameQuestionRecord{
			GameID:     gq.GameID,
			QuestionID: gq.QuestionID,
			Order:      gq.Order,
		})
	}
	if _, err := t.tx.NewInsert().Model(&recs).Returning("id").Exec(ctx); err != nil {
		return err
	}
	for i := range questions {
		questions[i].ID = recs[i].ID
	}
	return nil
}

func (t *storeTx) GameQuestions(ctx context.Context, gameID int64) ([]domain.GameQuestion, error) {
	var recs []gameQuestionRecord
	err := t.tx.NewSelect().Model(&recs).
		Where("gq.game_id = ?", gameID).
		OrderExpr("gq.ord").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	questions := make([]domain.GameQuestion, 0, len(recs))
	for _, rec := range recs {
		questions = append(questions, domain.GameQuestion{
			ID:         rec.ID,
			GameID:     rec.GameID,
			QuestionID: rec.QuestionID,
			Order:      rec.Order,
		})
	}
	return questions, nil
}

func (t *storeTx) QuestionsByIDs(ctx context.Context, ids []int64) ([]domain.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []questionRecord
	err := t.tx.NewSelect().Model(&recs).
		Where("q.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	questions := make([]domain.Question, 0, len(recs))
	for _, rec := range recs {
		questions = append(questions, domain.Question{
			ID:             rec.ID,
			Body:           rec.Body,
			CorrectAnswers: rec.CorrectAnswers,
			Status:         domain.QuestionStatus(rec.Status),
		})
	}
	return questions, nil
}

func (t *storeTx) CreateAnswer(ctx context.Context, answer *domain.Answer) error {
	rec := &answerRecord{
		PlayerID:       answer.PlayerID,
		GameQuestionID: answer.GameQuestionID,
		Body:           answer.Body,
		Status:         string(answer.Status),
		AddedAt:        answer.AddedAt,
	}
	if _, err := t.tx.NewInsert().Model(rec).Returning("id").Exec(ctx); err != nil {
		return err
	}
	answer.ID = rec.ID
	return nil
}

func (t *storeTx) AnswersByPlayer(ctx context.Context, playerID int64) ([]domain.Answer, error) {
	var recs []answerRecord
	err := t.tx.NewSelect().Model(&recs).
		Where("a.player_id = ?", playerID).
		OrderExpr("a.added_at, a.id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	answers := make([]domain.Answer, 0, len(recs))
	for _, rec := range recs {
		answers = append(answers, domain.Answer{
			ID:             rec.ID,
			PlayerID:       rec.PlayerID,
			GameQuestionID: rec.GameQuestionID,
			Body:           rec.Body,
			Status:         domain.AnswerStatus(rec.Status),
			AddedAt:        rec.AddedAt,
		})
	}
	return answers, nil
}

func toGame(rec *gameRecord) domain.Game {
	return domain.Game{
		ID:         rec.ID,
		Status:     domain.GameStatus(rec.Status),
		CreatedAt:  rec.CreatedAt,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
}

func toPlayer(rec *playerRecord) domain.Player {
	return domain.Player{
		ID:     rec.ID,
		GameID: rec.GameID,
		UserID: rec.UserID,
		Role:   domain.PlayerRole(rec.Role),
		Score:  rec.Score,
	}
}
