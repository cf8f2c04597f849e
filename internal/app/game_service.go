package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"pair-game-service/internal/domain"
)

// GameService contains the pair game use cases: matchmaking, answer scoring,
// progress snapshots, and the game state machine.
type GameService struct {
	store     Store
	bank      QuestionBank
	scheduler *FinishScheduler
	now       func() time.Time
}

// NewGameService wires the service and its deferred-finish scheduler.
// finishDelay is the grace window given to the slower player once the faster
// one has answered everything.
func NewGameService(store Store, bank QuestionBank, finishDelay time.Duration) *GameService {
	s := &GameService{store: store, bank: bank, now: time.Now}
	s.scheduler = NewFinishScheduler(finishDelay, s.forceFinish)
	return s
}

// Scheduler exposes the deferred-finish scheduler for introspection.
func (s *GameService) Scheduler() *FinishScheduler {
	return s.scheduler
}

// ConnectToGame joins the user into a pair. With no pending game around it
// creates one and seats the caller as host; otherwise it takes the free seat,
// assigns questions, and activates the game.
func (s *GameService) ConnectToGame(ctx context.Context, userID string) (int64, error) {
	var gameID int64
	var joinedPending bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		player, _, err := tx.PlayerInOpenGame(ctx, userID)
		if err != nil {
			return err
		}
		if player != nil {
			return domain.ErrAlreadyInGame
		}

		pending, err := tx.JoinablePendingGameForUpdate(ctx)
		if err != nil {
			return err
		}
		if pending != nil {
			// The candidate was picked from a snapshot taken before the row
			// lock was granted. A join that committed while we waited leaves
			// the row itself unchanged, so re-count the seats under the lock.
			seated, err := tx.PlayersByGame(ctx, pending.ID)
			if err != nil {
				return err
			}
			if len(seated) >= 2 {
				pending = nil
			}
		}
		if pending == nil {
			game := &domain.Game{Status: domain.GamePending, CreatedAt: s.now()}
			if err := tx.CreateGame(ctx, game); err != nil {
				return err
			}
			gameID = game.ID
			return tx.CreatePlayer(ctx, &domain.Player{
				GameID: game.ID,
				UserID: userID,
				Role:   domain.RoleHost,
			})
		}

		gameID = pending.ID
		joinedPending = true
		return tx.CreatePlayer(ctx, &domain.Player{
			GameID: pending.ID,
			UserID: userID,
			Role:   domain.RolePlayer,
		})
	})
	if err != nil {
		return 0, err
	}
	if !joinedPending {
		return gameID, nil
	}
	// Assignment runs after the join committed: a failed question draw leaves
	// the pending game with both players attached, recoverable by publishing
	// more questions.
	if err := s.activateGame(ctx, gameID); err != nil {
		return 0, err
	}
	return gameID, nil
}

// activateGame assigns the question sequence and moves the game to active.
func (s *GameService) activateGame(ctx context.Context, gameID int64) error {
	questions, err := s.bank.RandomPublished(ctx, domain.RequiredQuestionsCount)
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		game, err := tx.GameForUpdate(ctx, gameID)
		if err != nil {
			return err
		}
		if game.Status != domain.GamePending {
			return nil
		}
		assigned := make([]domain.GameQuestion, 0, len(questions))
		for i, q := range questions {
			assigned = append(assigned, domain.GameQuestion{
				GameID:     gameID,
				QuestionID: q.ID,
				Order:      i + 1,
			})
		}
		if err := tx.CreateGameQuestions(ctx, assigned); err != nil {
			return err
		}
		now := s.now()
		game.Status = domain.GameActive
		game.StartedAt = &now
		return tx.UpdateGame(ctx, game)
	})
}

// RecordAnswer scores the user's answer to their next unanswered question.
func (s *GameService) RecordAnswer(ctx context.Context, userID, answerText string) (domain.AnswerView, error) {
	var view domain.AnswerView
	// Timer actions are decided inside the transaction but applied only after
	// it commits, so a rolled-back answer leaves no phantom schedule or cancel.
	var (
		gameID      int64
		playerID    int64
		armTimer    bool
		disarmTimer bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		player, game, err := tx.PlayerInOpenGame(ctx, userID)
		if err != nil {
			return err
		}
		if player == nil || game.Status != domain.GameActive {
			return domain.ErrNotInActiveGame
		}
		// Lock the game row, then re-read everything under the lock.
		*game, err = tx.GameForUpdate(ctx, game.ID)
		if err != nil {
			return err
		}
		if game.Status != domain.GameActive {
			return domain.ErrNotInActiveGame
		}
		player, err = tx.PlayerInGame(ctx, game.ID, userID)
		if err != nil {
			return err
		}
		if player == nil {
			return fmt.Errorf("%w: player of user %s in game %d", domain.ErrProgressMissing, userID, game.ID)
		}

		questions, err := tx.GameQuestions(ctx, game.ID)
		if err != nil {
			return err
		}
		answers, err := tx.AnswersByPlayer(ctx, player.ID)
		if err != nil {
			return err
		}
		if len(answers) >= domain.RequiredQuestionsCount {
			return domain.ErrAllQuestionsAnswered
		}
		order := len(answers) + 1
		if order > len(questions) {
			return fmt.Errorf("%w: game %d has %d questions", domain.ErrProgressMissing, game.ID, len(questions))
		}
		current := questions[order-1]

		content, err := tx.QuestionsByIDs(ctx, []int64{current.QuestionID})
		if err != nil {
			return err
		}
		if len(content) == 0 {
			return fmt.Errorf("%w: question %d", domain.ErrProgressMissing, current.QuestionID)
		}
		status := domain.AnswerIncorrect
		if isCorrectAnswer(content[0], answerText) {
			status = domain.AnswerCorrect
		}
		now := s.now()
		if err := tx.CreateAnswer(ctx, &domain.Answer{
			PlayerID:       player.ID,
			GameQuestionID: current.ID,
			Body:           answerText,
			Status:         status,
			AddedAt:        now,
		}); err != nil {
			return err
		}

		opponent, err := s.opponentOf(ctx, tx, game.ID, player.ID)
		if err != nil {
			return err
		}
		opponentAnswers, err := tx.AnswersByPlayer(ctx, opponent.ID)
		if err != nil {
			return err
		}
		opponentDone := len(opponentAnswers) >= domain.RequiredQuestionsCount

		if points := awardPoints(status, order, player.Score, opponentDone); points > 0 {
			player.Score += points
			if err := tx.UpdatePlayerScore(ctx, player.ID, player.Score); err != nil {
				return err
			}
		}
		view = domain.AnswerView{QuestionID: current.QuestionID, Status: status, AddedAt: now}

		if order == domain.RequiredQuestionsCount {
			gameID = game.ID
			playerID = player.ID
			if opponentDone {
				disarmTimer = true
				return s.finishGame(ctx, tx, game.ID)
			}
			armTimer = true
		}
		return nil
	})
	if err != nil {
		return domain.AnswerView{}, err
	}
	// Disarming after the finish committed is safe: a timer that fires in the
	// gap reloads the game, sees it finished, and backs off.
	if disarmTimer {
		s.scheduler.Cancel(gameID)
	}
	if armTimer {
		s.scheduler.Schedule(gameID, userID, playerID)
	}
	return view, nil
}

// GetCurrentGame returns the snapshot of the user's pending or active game.
func (s *GameService) GetCurrentGame(ctx context.Context, userID string) (domain.GameView, error) {
	var view domain.GameView
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		player, game, err := tx.PlayerInOpenGame(ctx, userID)
		if err != nil {
			return err
		}
		if player == nil {
			return domain.ErrNoCurrentGame
		}
		view, err = s.buildView(ctx, tx, *game)
		return err
	})
	if err != nil {
		return domain.GameView{}, err
	}
	return view, nil
}

// GetGame returns the snapshot of a specific game for one of its players.
func (s *GameService) GetGame(ctx context.Context, userID string, gameID int64) (domain.GameView, error) {
	var view domain.GameView
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		game, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		player, err := tx.PlayerInGame(ctx, gameID, userID)
		if err != nil {
			return err
		}
		if player == nil {
			return domain.ErrNotGameParticipant
		}
		view, err = s.buildView(ctx, tx, game)
		return err
	})
	if err != nil {
		return domain.GameView{}, err
	}
	return view, nil
}

// forceFinish is the scheduler callback: the grace window elapsed and the slow
// player forfeits their unanswered questions.
func (s *GameService) forceFinish(gameID int64, finishedUserID string, finishedPlayerID int64) error {
	ctx := context.Background()
	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		game, err := tx.GameForUpdate(ctx, gameID)
		if err != nil {
			return err
		}
		if game.Status == domain.GameFinished {
			// The opponent beat the clock between cancellation and firing.
			return nil
		}
		if game.Status != domain.GameActive {
			return fmt.Errorf("game %d in unexpected state %q at finish deadline", gameID, game.Status)
		}

		players, err := tx.PlayersByGame(ctx, gameID)
		if err != nil {
			return err
		}
		var fast, slow *domain.Player
		for i := range players {
			if players[i].ID == finishedPlayerID {
				fast = &players[i]
			} else {
				slow = &players[i]
			}
		}
		if fast == nil || slow == nil {
			return fmt.Errorf("%w: players of game %d", domain.ErrProgressMissing, gameID)
		}

		slowAnswers, err := tx.AnswersByPlayer(ctx, slow.ID)
		if err != nil {
			return err
		}
		if len(slowAnswers) >= domain.RequiredQuestionsCount {
			log.Printf("game %d: slow player %d already answered everything, leaving finish to the answer path", gameID, slow.ID)
			return nil
		}

		questions, err := tx.GameQuestions(ctx, gameID)
		if err != nil {
			return err
		}
		answered := make(map[int64]bool, len(slowAnswers))
		for _, a := range slowAnswers {
			answered[a.GameQuestionID] = true
		}
		now := s.now()
		for _, gq := range questions {
			if answered[gq.ID] {
				continue
			}
			if err := tx.CreateAnswer(ctx, &domain.Answer{
				PlayerID:       slow.ID,
				GameQuestionID: gq.ID,
				Body:           "",
				Status:         domain.AnswerIncorrect,
				AddedAt:        now,
			}); err != nil {
				return err
			}
		}

		if fast.Score > 0 {
			if err := tx.UpdatePlayerScore(ctx, fast.ID, fast.Score+1); err != nil {
				return err
			}
		}
		log.Printf("game %d: finish deadline reached, closing out for user %s", gameID, finishedUserID)
		return s.finishGame(ctx, tx, gameID)
	})
}

// finishGame is the Active→Finished transition. Finishing an already finished
// game is a no-op so the fast path and the timeout path can never double-apply.
func (s *GameService) finishGame(ctx context.Context, tx Tx, gameID int64) error {
	game, err := tx.GameForUpdate(ctx, gameID)
	if err != nil {
		return err
	}
	if game.Status == domain.GameFinished {
		return nil
	}
	now := s.now()
	game.Status = domain.GameFinished
	game.FinishedAt = &now
	return tx.UpdateGame(ctx, game)
}

func (s *GameService) opponentOf(ctx context.Context, tx Tx, gameID, playerID int64) (*domain.Player, error) {
	players, err := tx.PlayersByGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for i := range players {
		if players[i].ID != playerID {
			return &players[i], nil
		}
	}
	return nil, fmt.Errorf("%w: opponent of player %d in game %d", domain.ErrProgressMissing, playerID, gameID)
}

func (s *GameService) buildView(ctx context.Context, tx Tx, game domain.Game) (domain.GameView, error) {
	players, err := tx.PlayersByGame(ctx, game.ID)
	if err != nil {
		return domain.GameView{}, err
	}
	gameQuestions, err := tx.GameQuestions(ctx, game.ID)
	if err != nil {
		return domain.GameView{}, err
	}

	questionIDs := make([]int64, 0, len(gameQuestions))
	questionByGQ := make(map[int64]int64, len(gameQuestions))
	for _, gq := range gameQuestions {
		questionIDs = append(questionIDs, gq.QuestionID)
		questionByGQ[gq.ID] = gq.QuestionID
	}

	questionViews := make([]domain.QuestionView, 0, len(gameQuestions))
	if len(questionIDs) > 0 {
		content, err := tx.QuestionsByIDs(ctx, questionIDs)
		if err != nil {
			return domain.GameView{}, err
		}
		bodyByID := make(map[int64]string, len(content))
		for _, q := range content {
			bodyByID[q.ID] = q.Body
		}
		for _, gq := range gameQuestions {
			questionViews = append(questionViews, domain.QuestionView{
				ID:   gq.QuestionID,
				Body: bodyByID[gq.QuestionID],
			})
		}
	}

	progress := make([]domain.PlayerProgress, 0, len(players))
	for _, p := range players {
		answers, err := tx.AnswersByPlayer(ctx, p.ID)
		if err != nil {
			return domain.GameView{}, err
		}
		answerViews := make([]domain.AnswerView, 0, len(answers))
		for _, a := range answers {
			answerViews = append(answerViews, domain.AnswerView{
				QuestionID: questionByGQ[a.GameQuestionID],
				Status:     a.Status,
				AddedAt:    a.AddedAt,
			})
		}
		progress = append(progress, domain.PlayerProgress{
			UserID:  p.UserID,
			Role:    p.Role,
			Score:   p.Score,
			Answers: answerViews,
		})
	}

	return domain.GameView{
		ID:              game.ID,
		Status:          game.Status,
		PairCreatedDate: game.CreatedAt,
		StartGameDate:   game.StartedAt,
		FinishGameDate:  game.FinishedAt,
		Players:         progress,
		Questions:       questionViews,
	}, nil
}

// isCorrectAnswer reports whether the text exactly matches one of the
// question's accepted answers. Matching is case-sensitive.
func isCorrectAnswer(q domain.Question, text string) bool {
	for _, accepted := range q.CorrectAnswers {
		if accepted == text {
			return true
		}
	}
	return false
}

// awardPoints implements the tie-break table: a point per correct answer, a
// doubled last answer while the opponent is still racing, and a consolation
// point for an incorrect last answer when the player already scored and got
// there first. A zero-score player never receives the consolation bonus.
func awardPoints(status domain.AnswerStatus, order, score int, opponentDone bool) int {
	if order < domain.RequiredQuestionsCount {
		if status == domain.AnswerCorrect {
			return 1
		}
		return 0
	}
	if status == domain.AnswerCorrect {
		if opponentDone {
			return 1
		}
		return 2
	}
	if score > 0 && !opponentDone {
		return 1
	}
	return 0
}
