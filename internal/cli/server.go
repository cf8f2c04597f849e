package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pair-game-service/internal/app"
	"pair-game-service/internal/config"
	"pair-game-service/internal/domain"
	"pair-game-service/internal/infra/memory"
	pg "pair-game-service/internal/infra/postgres"
	rediscache "pair-game-service/internal/infra/redis"
	transport "pair-game-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the pair game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var (
		store app.Store
		bank  app.QuestionBank
	)
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()
		store = pg.NewStore(db)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		pgBank := pg.NewQuestionBank(pool)
		if redisClient != nil {
			questionsTTL := config.Duration(cfg.Game.QuestionsTTL, 10*time.Minute)
			bank = rediscache.NewQuestionCache(redisClient, pgBank, questionsTTL)
		} else {
			bank = pgBank
		}
	} else {
		questions := sampleQuestions()
		store = memory.NewStore(questions)
		bank = memory.NewQuestionBank(questions)
		log.Printf("no postgres configured, running with in-memory storage and %d sample questions", len(questions))
	}

	finishDelay := config.Duration(cfg.Game.FinishDelay, 10*time.Second)
	service := app.NewGameService(store, bank, finishDelay)
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting pair game service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestions seeds the in-memory demo mode; real content lives in the
// questions table.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: 1, Body: "What is the capital of France?", CorrectAnswers: []string{"Paris"}, Status: domain.QuestionPublished},
		{ID: 2, Body: "What is 7 * 8?", CorrectAnswers: []string{"56"}, Status: domain.QuestionPublished},
		{ID: 3, Body: "Which planet is known as the Red Planet?", CorrectAnswers: []string{"Mars"}, Status: domain.QuestionPublished},
		{ID: 4, Body: "What is the chemical symbol for gold?", CorrectAnswers: []string{"Au"}, Status: domain.QuestionPublished},
		{ID: 5, Body: "In which year did World War II end?", CorrectAnswers: []string{"1945"}, Status: domain.QuestionPublished},
		{ID: 6, Body: "What is the largest ocean on Earth?", CorrectAnswers: []string{"Pacific", "Pacific Ocean"}, Status: domain.QuestionPublished},
		{ID: 7, Body: "Who painted the Mona Lisa?", CorrectAnswers: []string{"Leonardo da Vinci", "da Vinci"}, Status: domain.QuestionPublished},
	}
}
