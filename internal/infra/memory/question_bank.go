package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pair-game-service/internal/domain"
)

// QuestionBank draws questions from a fixed in-memory set (useful for tests
// and the no-database demo mode).
type QuestionBank struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	questions []domain.Question
}

func NewQuestionBank(questions []domain.Question) *QuestionBank {
	return &QuestionBank{
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		questions: questions,
	}
}

func (b *QuestionBank) RandomPublished(_ context.Context, count int) ([]domain.Question, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	published := make([]domain.Question, 0, len(b.questions))
	for _, q := range b.questions {
		if q.Status == domain.QuestionPublished {
			published = append(published, q)
		}
	}
	if len(published) < count {
		return nil, fmt.Errorf("%w: required %d, available %d", domain.ErrNotEnoughQuestions, count, len(published))
	}

	drawn := make([]domain.Question, 0, count)
	for _, i := range b.rnd.Perm(len(published))[:count] {
		drawn = append(drawn, published[i])
	}
	return drawn, nil
}

// PublishedQuestions returns every published question; the redis cache layer
// uses it as its fill source.
func (b *QuestionBank) PublishedQuestions(_ context.Context) ([]domain.Question, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	published := make([]domain.Question, 0, len(b.questions))
	for _, q := range b.questions {
		if q.Status == domain.QuestionPublished {
			published = append(published, q)
		}
	}
	return published, nil
}
