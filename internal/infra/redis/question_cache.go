package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"pair-game-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// PublishedLoader fetches the published question set from a backing store.
type PublishedLoader interface {
	PublishedQuestions(ctx context.Context) ([]domain.Question, error)
}

const publishedKey = "questions:published"

// QuestionCache keeps the published question set in a Redis hash
// (HSET questions:published {questionID} {json}) and samples draws from it
// in-process. Cache misses are filled through the loader behind singleflight,
// with TTL jitter to spread expirations.
type QuestionCache struct {
	client *redis.Client
	loader PublishedLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuestionCache(client *redis.Client, loader PublishedLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

type cachedQuestion struct {
	Body           string   `json:"body"`
	CorrectAnswers []string `json:"correctAnswers"`
}

func (c *QuestionCache) RandomPublished(ctx context.Context, count int) ([]domain.Question, error) {
	published, err := c.published(ctx)
	if err != nil {
		return nil, err
	}
	if len(published) < count {
		return nil, fmt.Errorf("%w: required %d, available %d", domain.ErrNotEnoughQuestions, count, len(published))
	}
	drawn := make([]domain.Question, 0, count)
	for _, i := range rand.Perm(len(published))[:count] {
		drawn = append(drawn, published[i])
	}
	return drawn, nil
}

func (c *QuestionCache) published(ctx context.Context) ([]domain.Question, error) {
	fields, err := c.client.HGetAll(ctx, publishedKey).Result()
	if err == nil && len(fields) > 0 {
		return decodeQuestions(fields)
	}

	result, err, _ := c.sf.Do(publishedKey, func() (interface{}, error) {
		// Re-check in case another goroutine filled the hash.
		fields, err := c.client.HGetAll(ctx, publishedKey).Result()
		if err == nil && len(fields) > 0 {
			return decodeQuestions(fields)
		}

		questions, err := c.loader.PublishedQuestions(ctx)
		if err != nil {
			return nil, err
		}

		pipe := c.client.Pipeline()
		for _, q := range questions {
			data, err := json.Marshal(cachedQuestion{Body: q.Body, CorrectAnswers: q.CorrectAnswers})
			if err != nil {
				return nil, err
			}
			pipe.HSet(ctx, publishedKey, strconv.FormatInt(q.ID, 10), data)
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, publishedKey, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func decodeQuestions(fields map[string]string) ([]domain.Question, error) {
	questions := make([]domain.Question, 0, len(fields))
	for field, raw := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad question id %q in cache: %w", field, err)
		}
		var cached cachedQuestion
		if err := json.Unmarshal([]byte(raw), &cached); err != nil {
			return nil, fmt.Errorf("unmarshal cached question %d: %w", id, err)
		}
		questions = append(questions, domain.Question{
			ID:             id,
			Body:           cached.Body,
			CorrectAnswers: cached.CorrectAnswers,
			Status:         domain.QuestionPublished,
		})
	}
	return questions, nil
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
