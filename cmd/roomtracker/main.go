package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/example/room-tracker/internal/application"
	"github.com/example/room-tracker/internal/changelog"
	"github.com/example/room-tracker/internal/config"
	httptransport "github.com/example/room-tracker/internal/http"
	"github.com/example/room-tracker/internal/logging"
	"github.com/example/room-tracker/internal/persistence"
	"github.com/example/room-tracker/internal/persistence/memory"
	"github.com/example/room-tracker/internal/persistence/sqlite"
	"github.com/example/room-tracker/internal/tasks"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "roomtracker:", err)
		os.Exit(1)
	}
}

type options struct {
	configFile  string
	envFile     string
	storage     string
	port        int
	migrateOnly bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("roomtracker", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file (overrides ROOMS_CONFIG_FILE)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration; missing is fine")
	flags.StringVar(&opts.storage, "storage", "", "storage backend: sqlite or memory")
	flags.IntVarP(&opts.port, "port", "p", 0, "HTTP port")
	flags.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if flags.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	return opts, nil
}

// loadConfig layers the dotenv file under the real environment, then applies
// flag overrides on top of the loaded configuration.
func loadConfig(opts options) (config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", opts.envFile, err)
		}
	}

	path := opts.configFile
	if path == "" {
		path = os.Getenv("ROOMS_CONFIG_FILE")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, err
	}

	switch opts.storage {
	case "":
	case config.StorageSQLite, config.StorageMemory:
		cfg.Storage = opts.storage
	default:
		return config.Config{}, fmt.Errorf("unknown storage %q", opts.storage)
	}
	if opts.port > 0 {
		cfg.HTTPPort = opts.port
	}
	return cfg, nil
}

// taskQueue is satisfied by both the in-memory and the Redis queue.
type taskQueue interface {
	tasks.Scheduler
	Run(ctx context.Context, interval time.Duration) error
}

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    persistence.Store
	queue    taskQueue
	services *application.Services
	handler  http.Handler
	closers  []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on exit")
		return memory.New(), nil
	}

	store, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.Migrate(ctx, logger); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return store, nil
}

func newQueue(ctx context.Context, cfg config.Config, registry *tasks.Registry, logger *slog.Logger) (taskQueue, func() error, error) {
	if cfg.RedisAddr == "" {
		return tasks.NewMemoryQueue(registry, logger, time.Now), func() error { return nil }, nil
	}

	queue := tasks.NewRedisQueue(tasks.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), registry, logger)
	if err := queue.Ping(ctx); err != nil {
		_ = queue.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return queue, queue.Close, nil
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	registry := tasks.NewRegistry()
	queue, closeQueue, err := newQueue(ctx, cfg, registry, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.queue = queue
	a.closers = append(a.closers, closeQueue)

	codec, err := changelog.NewCodec([]byte(cfg.SigningKey))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build change codec: %w", err)
	}

	a.services = application.NewServices(application.Dependencies{
		Store:    store,
		Queue:    queue,
		Registry: registry,
		Codec:    codec,
		Booking: application.BookingOptions{
			MaxOccupyDuration: cfg.MaxOccupyDuration,
			OccurrencesPeriod: cfg.OccurrencesPeriod,
			Location:          cfg.Location,
		},
		Accounts: application.AccountOptions{
			VerificationTTL: cfg.VerificationTTL,
			SigningKey:      []byte(cfg.SigningKey),
		},
		IDGenerator: uuid.NewString,
		Now:         time.Now,
		Logger:      logger,
	})
	// Mail delivery lives outside this service; the code is only logged.
	a.services.VerificationCreated.Handle(func(ctx context.Context, v application.EmailVerificationCreated) error {
		logger.InfoContext(ctx, "email verification created", "email", v.Email, "code", v.Code, "expires_at", v.ExpiresAt)
		return nil
	})

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Rooms:      httptransport.NewRoomHandler(a.services.Rooms, a.services.Availability, logger),
		Events:     httptransport.NewEventHandler(a.services.Booking, logger),
		Changes:    httptransport.NewChangeHandler(a.services.History, logger),
		Accounts:   httptransport.NewAccountHandler(a.services.Accounts, logger),
		Logger:     logger,
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})
	return a, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stdout)
	if err != nil {
		return err
	}

	if opts.migrateOnly {
		if cfg.Storage != config.StorageSQLite {
			return errors.New("--migrate-only requires sqlite storage")
		}
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		logger.Info("migrations applied")
		return store.Close()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Error("failed to release resources", "error", cerr)
		}
	}()

	return a.serve(ctx)
}

// serve runs the task worker and the HTTP server until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- a.queue.Run(ctx, a.cfg.TaskPollInterval)
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("failed to shutdown server", "error", err)
		}
	}()

	a.logger.Info("room tracker listening", "addr", server.Addr, "storage", a.cfg.Storage, "redis", a.cfg.RedisAddr != "")
	err := server.ListenAndServe()
	cancel()
	if werr := <-workerDone; werr != nil && !errors.Is(werr, context.Canceled) {
		a.logger.Error("task worker stopped", "error", werr)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
