package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/fetchd/internal/artifact"
	"github.com/you/fetchd/internal/config"
	"github.com/you/fetchd/internal/fetch"
	"github.com/you/fetchd/internal/queue"
	"github.com/you/fetchd/internal/server"
	"github.com/you/fetchd/internal/storage"
	"github.com/you/fetchd/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.AppEnv)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	q, err := newQueue(cfg)
	if err != nil {
		return err
	}

	pool := worker.NewPool(worker.Options{
		Store:      store,
		Queue:      q,
		Fetcher:    fetch.NewTool(cfg.YtDlpBin, cfg.GalleryDlBin, log.Named("fetch")),
		Relocator:  artifact.NewRelocator(cfg.StorageDir, log.Named("relocate")),
		ScratchDir: cfg.ScratchDir,
		Size:       cfg.WorkerCount,
		Timeout:    cfg.FetchTimeout,
		Log:        log.Named("worker"),
	})

	srv := server.New(store, q, cfg.StorageDir, log.Named("http"))
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Workers that were mid-job removed their own scratch dirs; sweep the
	// root for anything a hard crash may have left behind.
	if rmErr := os.RemoveAll(cfg.ScratchDir); rmErr != nil {
		log.Warn("scratch sweep failed", zap.Error(rmErr))
	}
	return err
}

func newLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func newStore(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return storage.NewMemory(), func() {}, nil
	case "postgres":
		if err := migrate(cfg); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		db, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return storage.NewPostgres(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func migrate(cfg config.Config) error {
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, cfg.MigrationsDir)
}

func newQueue(cfg config.Config) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case "memory":
		return queue.NewMem(cfg.QueueCapacity), nil
	case "redis":
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		return queue.NewRedis(rdb, cfg.QueueName), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}
