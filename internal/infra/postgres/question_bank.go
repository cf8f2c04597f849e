package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"pair-game-service/internal/domain"

	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionBank draws published questions from Postgres.
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

func (b *QuestionBank) RandomPublished(ctx context.Context, count int) ([]domain.Question, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, body, correct_answers FROM questions WHERE status = $1 ORDER BY random() LIMIT $2`,
		string(domain.QuestionPublished), count)
	if err != nil {
		return nil, fmt.Errorf("draw questions: %w", err)
	}
	defer rows.Close()

	questions, err := scanQuestions(rows)
	if err != nil {
		return nil, err
	}
	if len(questions) < count {
		return nil, fmt.Errorf("%w: required %d, available %d", domain.ErrNotEnoughQuestions, count, len(questions))
	}
	return questions, nil
}

// PublishedQuestions returns the full published set, the fill source for the
// redis question cache.
func (b *QuestionBank) PublishedQuestions(ctx context.Context) ([]domain.Question, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, body, correct_answers FROM questions WHERE status = $1 ORDER BY id`,
		string(domain.QuestionPublished))
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()
	return scanQuestions(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanQuestions(rows pgxRows) ([]domain.Question, error) {
	var questions []domain.Question
	for rows.Next() {
		var (
			q   domain.Question
			raw []byte
		)
		if err := rows.Scan(&q.ID, &q.Body, &raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(raw, &q.CorrectAnswers); err != nil {
			return nil, fmt.Errorf("unmarshal correct answers: %w", err)
		}
		q.Status = domain.QuestionPublished
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return questions, nil
}
