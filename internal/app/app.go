package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"go.uber.org/zap"

	"dealdesk/internal/config"
	"dealdesk/internal/db"
	"dealdesk/internal/engine"
	"dealdesk/internal/migrate"
	"dealdesk/internal/oracle"
)

// Options controls Setup. Interpreter and Scorer override the Gemini
// oracle, which tests use to avoid network calls.
type Options struct {
	Workspace   string
	Log         *zap.Logger
	Interpreter oracle.Interpreter
	Scorer      oracle.Scorer
}

// App bundles the wired engine with its store and config.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine *engine.Engine
	Log    *zap.Logger
}

// Setup opens the store, applies migrations, loads config and wires the
// engine. With no Interpreter/Scorer override it builds the Gemini oracle
// from GEMINI_API_KEY.
func Setup(ctx context.Context, opts Options) (*App, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	interp := opts.Interpreter
	scorer := opts.Scorer
	if interp == nil || scorer == nil {
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			conn.Close()
			return nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		gem, err := oracle.NewGemini(ctx, oracle.GeminiConfig{
			APIKey:  key,
			Model:   cfg.Oracle.Model,
			Timeout: cfg.OracleTimeout(),
		}, log)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("oracle: %w", err)
		}
		if interp == nil {
			interp = gem
		}
		if scorer == nil {
			scorer = gem
		}
	}

	return &App{
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg, interp, scorer, log),
		Log:    log,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
