package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roomchat/internal/auth"
	"github.com/roomchat/internal/config"
	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/handler"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/push"
	"github.com/roomchat/internal/repository"
	"github.com/roomchat/internal/service"
	"github.com/roomchat/internal/startup"
	"github.com/roomchat/internal/storage"
	"github.com/roomchat/internal/storage/memory"
	"github.com/roomchat/internal/ws"
	"github.com/roomchat/migrations"
)

type flags struct {
	migrate  bool
	dev      bool
	inMemory bool
	devToken string
}

func main() {
	logger.SetPrefix("api")
	var f flags
	flag.BoolVar(&f.migrate, "migrate", false, "apply database migrations and exit")
	flag.BoolVar(&f.dev, "dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.BoolVar(&f.inMemory, "memory", false, "keep all data in process memory (no database)")
	flag.StringVar(&f.devToken, "dev-token", "", "print a session token for the named user and exit")
	flag.Parse()

	// os.Exit only after run's defers (embedded database included) have run.
	if err := run(f); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg := config.Load()
	tokens := auth.NewTokens(cfg.SessionSecret, cfg.SessionTTL)

	if f.devToken != "" {
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("roomchat:"+f.devToken)).String()
		tok, err := tokens.Issue(id, f.devToken)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Printf("user_id=%s\ntoken=%s\n", id, tok)
		return nil
	}

	logger.Info("starting API service")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store    storage.Store
		presence storage.PresenceStore
		bus      feed.Bus
	)
	if f.inMemory {
		mem := memory.New()
		store, presence = mem, mem
		logger.Info("using in-memory storage")
	} else {
		if f.dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				return fmt.Errorf("embedded postgres: %w", err)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			return fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 2
		pool, err := startup.ConnectDB(ctx, poolCfg, 60*time.Second)
		if err != nil {
			return err
		}
		defer pool.Close()
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		n, err := migrations.Apply(migrateCtx, pool)
		cancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		logger.Infof("migrations applied: %d", n)
		if f.migrate {
			return nil
		}
		store = repository.New(pool)
		logger.Info("database connected")
	}

	if cfg.RedisURL != "" {
		rc, err := startup.ConnectRedis(ctx, cfg.RedisURL, 30*time.Second)
		if err != nil {
			return err
		}
		defer rc.Close()
		bus = feed.NewRedisBus(rc.Raw())
		presence = rc
		logger.Info("redis connected: shared feed bus and presence")
	} else {
		bus = feed.NewMemoryBus()
		if presence == nil {
			presence = memory.New()
		}
	}
	defer bus.Close()

	pushClient := push.NewClient(cfg.PushServiceURL, cfg.InternalSecret)
	var notifier service.Notifier
	if pushClient.Enabled() {
		notifier = pushClient
	}
	svc := service.New(store, presence, bus, notifier, service.Options{TypingFreshness: cfg.TypingFreshness})

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(svc, bus, cfg.MaxWSConnections)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()
	defer func() {
		hubCancel()
		hubWg.Wait()
		logger.Info("hub stopped")
	}()

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(handler.RouterDeps{
			Config:    cfg,
			Service:   svc,
			Hub:       hub,
			Tokens:    tokens,
			Push:      pushClient,
			AccessLog: true,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			serveErr = fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	return serveErr
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "roomchat"
		password = "roomchat_secret"
		database = "roomchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
