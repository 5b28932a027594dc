package bootstrap

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/petclub/wabot/core/config"
	"github.com/petclub/wabot/core/database"
	"github.com/petclub/wabot/core/engine"
	"github.com/petclub/wabot/core/logger"
	"github.com/petclub/wabot/core/server"
	"github.com/petclub/wabot/core/store"
	"github.com/petclub/wabot/core/whatsapp"
)

// Options control the bootstrap pipeline. The function hooks exist so tests
// can stub infrastructure; nil hooks use the real implementations.
type Options struct {
	Config *config.Config

	LoggerInit func(logger.Settings) error
	Connect    func(database.Config) (*sqlx.DB, error)
	Migrate    func(database.Config) error
}

// Result exposes the wired application.
type Result struct {
	DB     *sqlx.DB
	Store  *store.Postgres
	Client *whatsapp.Client
	Engine *engine.Engine
	Server *server.Server
}

// Run initializes the logger, connects to the database, applies migrations,
// and wires the store, the Cloud API client, the conversation engine, and
// the webhook server.
func Run(opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.Init
	}
	if err := loggerInit(cfg.LoggerSettings()); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = database.Connect
	}
	db, err := connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = database.RunMigrations
	}
	if err := migrate(cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	st := store.NewPostgres(db)
	client := whatsapp.NewClient(whatsapp.Options{
		Token:        cfg.WhatsApp.Token,
		BaseURL:      cfg.WhatsApp.BaseURL,
		GraphVersion: cfg.WhatsApp.GraphVersion,
	})

	eng := engine.New(st, client, engine.Settings{
		FlowTTLMinutes: cfg.Conversation.FlowTTLMinutes,
		MenuTTLMinutes: cfg.Conversation.MenuTTLMinutes,
		GreetingWindow: time.Duration(cfg.Conversation.GreetingWindowMinutes) * time.Minute,
		Messages:       cfg.Messages,
	})
	registerMenuFunctions(eng)

	srv := server.New(cfg.Server, cfg.WhatsApp.VerifyToken, eng)

	return &Result{
		DB:     db,
		Store:  st,
		Client: client,
		Engine: eng,
		Server: srv,
	}, nil
}
