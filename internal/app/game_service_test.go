package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"pair-game-service/internal/app"
	"pair-game-service/internal/domain"
	"pair-game-service/internal/infra/memory"
)

func TestConnectCreatesPendingThenActivates(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, time.Minute, 6)

	gameID, err := service.ConnectToGame(ctx, "u1")
	if err != nil {
		t.Fatalf("connect u1: %v", err)
	}
	view, err := service.GetCurrentGame(ctx, "u1")
	if err != nil {
		t.Fatalf("current game: %v", err)
	}
	if view.Status != domain.GamePending {
		t.Fatalf("expected pending game, got %s", view.Status)
	}
	if len(view.Questions) != 0 {
		t.Fatalf("pending game must carry no questions, got %d", len(view.Questions))
	}
	if view.StartGameDate != nil {
		t.Fatalf("pending game must not have a start date")
	}

	secondID, err := service.ConnectToGame(ctx, "u2")
	if err != nil {
		t.Fatalf("connect u2: %v", err)
	}
	if secondID != gameID {
		t.Fatalf("expected u2 to join game %d, got %d", gameID, secondID)
	}

	view, err = service.GetGame(ctx, "u1", gameID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if view.Status != domain.GameActive {
		t.Fatalf("expected active game, got %s", view.Status)
	}
	if view.StartGameDate == nil {
		t.Fatalf("active game must have a start date")
	}
	if len(view.Questions) != domain.RequiredQuestionsCount {
		t.Fatalf("expected %d questions, got %d", domain.RequiredQuestionsCount, len(view.Questions))
	}
	if len(view.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(view.Players))
	}
	roles := map[string]domain.PlayerRole{}
	for _, p := range view.Players {
		roles[p.UserID] = p.Role
	}
	if roles["u1"] != domain.RoleHost || roles["u2"] != domain.RolePlayer {
		t.Fatalf("expected u1 host and u2 player, got %v", roles)
	}
}

func TestConnectWhileAlreadyPairedIsForbidden(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, time.Minute, 6)

	if _, err := service.ConnectToGame(ctx, "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := service.ConnectToGame(ctx, "u1"); !errors.Is(err, domain.ErrAlreadyInGame) {
		t.Fatalf("expected ErrAlreadyInGame, got %v", err)
	}
	// Nothing extra was created: u1 still sits in one pending game.
	view, err := service.GetCurrentGame(ctx, "u1")
	if err != nil {
		t.Fatalf("current game: %v", err)
	}
	if len(view.Players) != 1 {
		t.Fatalf("expected a single player, got %d", len(view.Players))
	}
}

func TestThirdUserStartsAnotherPair(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, time.Minute, 12)

	first, _ := service.ConnectToGame(ctx, "u1")
	if _, err := service.ConnectToGame(ctx, "u2"); err != nil {
		t.Fatalf("connect u2: %v", err)
	}
	second, err := service.ConnectToGame(ctx, "u3")
	if err != nil {
		t.Fatalf("connect u3: %v", err)
	}
	if second == first {
		t.Fatalf("expected a fresh pending game for u3")
	}
	view, err := service.GetCurrentGame(ctx, "u3")
	if err != nil {
		t.Fatalf("current game: %v", err)
	}
	if view.Status != domain.GamePending {
		t.Fatalf("expected pending game for u3, got %s", view.Status)
	}
}

func TestAnswerWithoutActiveGameIsForbidden(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, time.Minute, 6)

	if _, err := service.RecordAnswer(ctx, "nobody", "whatever"); !errors.Is(err, domain.ErrNotInActiveGame) {
		t.Fatalf("expected ErrNotInActiveGame, got %v", err)
	}

	// A host waiting for an opponent cannot answer either.
	if _, err := service.ConnectToGame(ctx, "u1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := service.RecordAnswer(ctx, "u1", "whatever"); !errors.Is(err, domain.ErrNotInActiveGame) {
		t.Fatalf("expected ErrNotInActiveGame for pending game, got %v", err)
	}
}

func TestFastFinisherGetsDoubledLastPoint(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, time.Minute, 6)
	gameID := startPair(t, service, "u1", "u2")

	// u1 races through all five questions correctly while u2 idles.
	for i := 0; i < domain.RequiredQuestionsCount; i++ {
		answerNext(t, service, "u1", true)
	}
	if !service.Scheduler().Armed(gameID) {
		t.Fatalf("expected deferred finish armed after u1 finished first")
	}

	// u2 catches up within the grace window.
	for i := 0; i < domain.RequiredQuestionsCount; i++ {
		answerNext(t, service, "u2", true)
	}

	view, err := service.GetGame(ctx, "u1", gameID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if view.Status != domain.GameFinished {
		t.Fatalf("expected finished game, got %s", view.Status)
	}
	if view.FinishGameDate == nil {
		t.Fatalf("finished game must have a finish date")
	}
	scores := scoresByUser(view)
	if scores["u1"] != 6 || scores["u2"] != 5 {
		t.Fatalf("expected u1=6 u2=5, got %v", scores)
	}
	if service.Scheduler().Armed(gameID) {
		t.Fatalf("finished game must not keep a live timer")
	}
	for _, p := range view.Players {
		for _, a := range p.Answers {
			if a.Status != domain.AnswerCorrect {
				t.Fatalf("no forced incorrect answers expected, got %v for %s", a.Status, p.UserID)
			}
		}
	}
}

func TestLastPointHalvedWhenOpponentAlreadyDone(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, time.Minute, 6)
	gameID := startPair(t, service, "u1", "u2")

	for i := 0; i < 4; i++ {
		answerNext(t, service, "u1", true)
		answerNext(t, service, "u2", true)
	}
	// u2 lands the fifth first: opponent still racing, doubled point.
	answerNext(t, service, "u2", true)
	// u1 finishes second: opponent already done, single point.
	answerNext(t, service, "u1", true)

	view, err := service.GetGame(ctx, "u2", gameID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if view.Status != domain.GameFinished {
		t.Fatalf("expected finished game, got %s", view.Status)
	}
	scores := scoresByUser(view)
	if scores["u2"] != 6 || scores["u1"] != 5 {
		t.Fatalf("expected u2=6 u1=5, got %v", scores)
	}
}

func TestNoConsolationPointAtZeroScore(t *testing.T) {
	service := newTestService(t, time.Minute, 6)
	startPair(t, service, "u1", "u2")

	// u1 misses everything; the incorrect fifth answer while ahead would be
	// worth a point, but not on a zero score.
	for i := 0; i < domain.RequiredQuestionsCount; i++ {
		answerNext(t, service, "u1", false)
	}
	view, err := service.GetCurrentGame(context.Background(), "u2")
	if err != nil {
		t.Fatalf("current game: %v", err)
	}
	if scoresByUser(view)["u1"] != 0 {
		t.Fatalf("expected u1 to stay at 0, got %d", scoresByUser(view)["u1"])
	}
}

func TestConsolationPointForScoringFastFinisher(t *testing.T) {
	service := newTestService(t, time.Minute, 6)
	startPair(t, service, "u1", "u2")

	// Four correct answers, then an incorrect fifth while the opponent is
	// still racing: the consolation point applies.
	for i := 0; i < 4; i++ {
		answerNext(t, service, "u1", true)
	}
	answerNext(t, service, "u1", false)

	view, err := service.GetCurrentGame(context.Background(), "u2")
	if err != nil {
		t.Fatalf("current game: %v", err)
	}
	if scoresByUser(view)["u1"] != 5 {
		t.Fatalf("expected u1=5 (4 correct + consolation), got %d", scoresByUser(view)["u1"])
	}
}

func TestAnswerCapIsEnforced(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, time.Minute, 6)
	startPair(t, service, "u1", "u2")

	for i := 0; i < domain.RequiredQuestionsCount; i++ {
		answerNext(t, service, "u1", true)
	}
	if _, err := service.RecordAnswer(ctx, "u1", "one more"); !errors.Is(err, domain.ErrAllQuestionsAnswered) {
		t.Fatalf("expected ErrAllQuestionsAnswered, got %v", err)
	}
	view, err := service.GetCurrentGame(ctx, "u1")
	if err != nil {
		t.Fatalf("current game: %v", err)
	}
	for _, p := range view.Players {
		if len(p.Answers) > domain.RequiredQuestionsCount {
			t.Fatalf("player %s holds %d answers", p.UserID, len(p.Answers))
		}
	}
}

func TestTimeoutForcesFinish(t *testing.T) {
	service := newTestService(t, 50*time.Millisecond, 6)
	gameID := startPair(t, service, "u1", "u2")

	for i := 0; i < domain.RequiredQuestionsCount; i++ {
		answerNext(t, service, "u1", true)
	}
	answerNext(t, service, "u2", true)

	view := waitFinished(t, service, "u1", gameID)
	scores := scoresByUser(view)
	// 4 + doubled fifth + timeout bonus.
	if scores["u1"] != 7 {
		t.Fatalf("expected u1=7, got %d", scores["u1"])
	}
	if scores["u2"] != 1 {
		t.Fatalf("expected u2=1, got %d", scores["u2"])
	}
	for _, p := range view.Players {
		if len(p.Answers) != domain.RequiredQuestionsCount {
			t.Fatalf("expected %s filled to %d answers, got %d", p.UserID, domain.RequiredQuestionsCount, len(p.Answers))
		}
		if p.UserID == "u2" {
			incorrect := 0
			for _, a := range p.Answers {
				if a.Status == domain.AnswerIncorrect {
					incorrect++
				}
			}
			if incorrect != 4 {
				t.Fatalf("expected 4 forced incorrect answers for u2, got %d", incorrect)
			}
		}
	}
	if service.Scheduler().Armed(gameID) {
		t.Fatalf("timer entry must be gone after firing")
	}
}

func TestTimeoutBonusSkippedAtZeroScore(t *testing.T) {
	service := newTestService(t, 50*time.Millisecond, 6)
	gameID := startPair(t, service, "u1", "u2")

	for i := 0; i < domain.RequiredQuestionsCount; i++ {
		answerNext(t, service, "u1", false)
	}
	answerNext(t, service, "u2", true)

	view := waitFinished(t, service, "u1", gameID)
	scores := scoresByUser(view)
	if scores["u1"] != 0 {
		t.Fatalf("expected no timeout bonus on zero score, got %d", scores["u1"])
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, 150*time.Millisecond, 6)
	gameID := startPair(t, service, "u1", "u2")
	for i := 0; i < domain.RequiredQuestionsCount; i++ {
		answerNext(t, service, "u1", true)
		answerNext(t, service, "u2", true)
	}
	before, err := service.GetGame(ctx, "u1", gameID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if before.Status != domain.GameFinished {
		t.Fatalf("expected finished game, got %s", before.Status)
	}

	// Arm a timer against the already finished game; the callback must see
	// the terminal state and change nothing.
	service.Scheduler().Schedule(gameID, "u1", 0)
	waitDisarmed(t, service, gameID)

	after, err := service.GetGame(ctx, "u1", gameID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if !after.FinishGameDate.Equal(*before.FinishGameDate) {
		t.Fatalf("finish date changed on replay: %v vs %v", after.FinishGameDate, before.FinishGameDate)
	}
	if fmt.Sprint(scoresByUser(after)) != fmt.Sprint(scoresByUser(before)) {
		t.Fatalf("scores changed on replay: %v vs %v", scoresByUser(after), scoresByUser(before))
	}
}

func TestGetGameAccessControl(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, time.Minute, 6)
	gameID := startPair(t, service, "u1", "u2")

	if _, err := service.GetGame(ctx, "stranger", gameID); !errors.Is(err, domain.ErrNotGameParticipant) {
		t.Fatalf("expected ErrNotGameParticipant, got %v", err)
	}
	if _, err := service.GetGame(ctx, "u1", 424242); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
	if _, err := service.GetCurrentGame(ctx, "stranger"); !errors.Is(err, domain.ErrNoCurrentGame) {
		t.Fatalf("expected ErrNoCurrentGame, got %v", err)
	}
}

func TestInsufficientQuestionsLeavesPendingPair(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, time.Minute, 3)

	if _, err := service.ConnectToGame(ctx, "u1"); err != nil {
		t.Fatalf("connect u1: %v", err)
	}
	if _, err := service.ConnectToGame(ctx, "u2"); !errors.Is(err, domain.ErrNotEnoughQuestions) {
		t.Fatalf("expected ErrNotEnoughQuestions, got %v", err)
	}

	// Both players stay attached to the pending game for remediation.
	view, err := service.GetCurrentGame(ctx, "u2")
	if err != nil {
		t.Fatalf("current game: %v", err)
	}
	if view.Status != domain.GamePending || len(view.Players) != 2 || len(view.Questions) != 0 {
		t.Fatalf("expected pending 2-player game without questions, got status=%s players=%d questions=%d",
			view.Status, len(view.Players), len(view.Questions))
	}

	// The broken pair is full; the next caller starts a fresh one.
	freshID, err := service.ConnectToGame(ctx, "u3")
	if err != nil {
		t.Fatalf("connect u3: %v", err)
	}
	if freshID == view.ID {
		t.Fatalf("expected u3 to open a new game, joined %d", freshID)
	}
}

func TestConnectSkipsGameFilledWhileWaitingForLock(t *testing.T) {
	ctx := context.Background()
	// Too few questions: the pair stays pending with both seats taken.
	questions := testQuestions(3)
	store := memory.NewStore(questions)
	bank := memory.NewQuestionBank(questions)
	setup := app.NewGameService(store, bank, time.Minute)

	fullID, err := setup.ConnectToGame(ctx, "u1")
	if err != nil {
		t.Fatalf("connect u1: %v", err)
	}
	if _, err := setup.ConnectToGame(ctx, "u2"); !errors.Is(err, domain.ErrNotEnoughQuestions) {
		t.Fatalf("expected ErrNotEnoughQuestions, got %v", err)
	}

	// u3's pending-game lookup hands back the full game, the way a waiter
	// with a pre-lock snapshot sees it after the winning join commits.
	service := app.NewGameService(&stalePairStore{inner: store, gameID: fullID}, bank, time.Minute)
	freshID, err := service.ConnectToGame(ctx, "u3")
	if err != nil {
		t.Fatalf("connect u3: %v", err)
	}
	if freshID == fullID {
		t.Fatalf("u3 must not take a third seat in game %d", fullID)
	}
	view, err := setup.GetGame(ctx, "u1", fullID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if len(view.Players) != 2 {
		t.Fatalf("expected the full pair untouched, got %d players", len(view.Players))
	}
}

func TestFailedCommitDoesNotArmTimer(t *testing.T) {
	ctx := context.Background()
	questions := testQuestions(6)
	store := &brittleStore{inner: memory.NewStore(questions)}
	service := app.NewGameService(store, memory.NewQuestionBank(questions), time.Minute)
	gameID := startPair(t, service, "u1", "u2")

	for i := 0; i < domain.RequiredQuestionsCount-1; i++ {
		answerNext(t, service, "u1", true)
	}
	store.fail = true
	if _, err := service.RecordAnswer(ctx, "u1", "whatever"); err == nil {
		t.Fatalf("expected the failed commit to surface")
	}
	if service.Scheduler().Armed(gameID) {
		t.Fatalf("timer must not arm for an answer that did not commit")
	}
}

func TestFailedCommitKeepsOpponentTimerArmed(t *testing.T) {
	ctx := context.Background()
	questions := testQuestions(6)
	store := &brittleStore{inner: memory.NewStore(questions)}
	service := app.NewGameService(store, memory.NewQuestionBank(questions), time.Minute)
	gameID := startPair(t, service, "u1", "u2")

	for i := 0; i < domain.RequiredQuestionsCount; i++ {
		answerNext(t, service, "u1", true)
	}
	if !service.Scheduler().Armed(gameID) {
		t.Fatalf("expected deferred finish armed after u1 finished first")
	}
	for i := 0; i < domain.RequiredQuestionsCount-1; i++ {
		answerNext(t, service, "u2", true)
	}
	store.fail = true
	if _, err := service.RecordAnswer(ctx, "u2", "whatever"); err == nil {
		t.Fatalf("expected the failed commit to surface")
	}
	if !service.Scheduler().Armed(gameID) {
		t.Fatalf("deferred finish must stay armed when the closing answer did not commit")
	}
}

// stalePairStore hands joiners a fixed pending game regardless of its seat
// count, reproducing a lock waiter whose candidate came from a snapshot
// taken before the winning join committed.
type stalePairStore struct {
	inner  app.Store
	gameID int64
}

func (s *stalePairStore) InTx(ctx context.Context, fn func(context.Context, app.Tx) error) error {
	return s.inner.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		return fn(ctx, &stalePairTx{Tx: tx, gameID: s.gameID})
	})
}

type stalePairTx struct {
	app.Tx
	gameID int64
}

func (t *stalePairTx) JoinablePendingGameForUpdate(ctx context.Context) (*domain.Game, error) {
	game, err := t.Tx.GetGame(ctx, t.gameID)
	if err != nil {
		return nil, err
	}
	return &game, nil
}

// brittleStore runs the transaction body and then fails the commit on demand.
type brittleStore struct {
	inner app.Store
	fail  bool
}

func (s *brittleStore) InTx(ctx context.Context, fn func(context.Context, app.Tx) error) error {
	if err := s.inner.InTx(ctx, fn); err != nil {
		return err
	}
	if s.fail {
		return errors.New("commit failed")
	}
	return nil
}

func newTestService(t *testing.T, finishDelay time.Duration, questionCount int) *app.GameService {
	t.Helper()
	questions := testQuestions(questionCount)
	store := memory.NewStore(questions)
	bank := memory.NewQuestionBank(questions)
	return app.NewGameService(store, bank, finishDelay)
}

func testQuestions(n int) []domain.Question {
	questions := make([]domain.Question, 0, n)
	for i := 1; i <= n; i++ {
		questions = append(questions, domain.Question{
			ID:             int64(i),
			Body:           fmt.Sprintf("question %d", i),
			CorrectAnswers: []string{fmt.Sprintf("answer %d", i)},
			Status:         domain.QuestionPublished,
		})
	}
	return questions
}

func startPair(t *testing.T, service *app.GameService, first, second string) int64 {
	t.Helper()
	ctx := context.Background()
	gameID, err := service.ConnectToGame(ctx, first)
	if err != nil {
		t.Fatalf("connect %s: %v", first, err)
	}
	if _, err := service.ConnectToGame(ctx, second); err != nil {
		t.Fatalf("connect %s: %v", second, err)
	}
	return gameID
}

// answerNext submits the user's next question in sequence, either the known
// correct text or a guaranteed miss.
func answerNext(t *testing.T, service *app.GameService, userID string, correct bool) domain.AnswerView {
	t.Helper()
	ctx := context.Background()
	view, err := service.GetCurrentGame(ctx, userID)
	if err != nil {
		t.Fatalf("current game for %s: %v", userID, err)
	}
	answered := 0
	for _, p := range view.Players {
		if p.UserID == userID {
			answered = len(p.Answers)
		}
	}
	if answered >= len(view.Questions) {
		t.Fatalf("%s has no questions left", userID)
	}
	text := "definitely wrong"
	if correct {
		text = strings.Replace(view.Questions[answered].Body, "question", "answer", 1)
	}
	result, err := service.RecordAnswer(ctx, userID, text)
	if err != nil {
		t.Fatalf("record answer for %s: %v", userID, err)
	}
	want := domain.AnswerIncorrect
	if correct {
		want = domain.AnswerCorrect
	}
	if result.Status != want {
		t.Fatalf("expected %s answer for %s, got %s", want, userID, result.Status)
	}
	return result
}

func scoresByUser(view domain.GameView) map[string]int {
	scores := make(map[string]int, len(view.Players))
	for _, p := range view.Players {
		scores[p.UserID] = p.Score
	}
	return scores
}

func waitFinished(t *testing.T, service *app.GameService, userID string, gameID int64) domain.GameView {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		view, err := service.GetGame(ctx, userID, gameID)
		if err != nil {
			t.Fatalf("get game: %v", err)
		}
		if view.Status == domain.GameFinished {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("game %d did not finish in time", gameID)
	return domain.GameView{}
}

func waitDisarmed(t *testing.T, service *app.GameService, gameID int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !service.Scheduler().Armed(gameID) {
			// Give the in-flight callback a moment to run to completion.
			time.Sleep(20 * time.Millisecond)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timer for game %d never fired", gameID)
}
