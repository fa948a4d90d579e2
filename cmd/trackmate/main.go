// Command trackmate is the field reporter: it files trail issue reports and
// surveys with the relay, queueing them while the relay is out of reach.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pathlabs/trackmate/internal"
	"github.com/pathlabs/trackmate/internal/network"
	"github.com/pathlabs/trackmate/internal/queue"
	"github.com/pathlabs/trackmate/internal/relay"
	"github.com/pathlabs/trackmate/internal/service"
	"github.com/pathlabs/trackmate/internal/storage"
)

const usage = `Usage: trackmate <command> [flags]

Commands:
  submit    File an issue report
  survey    Send a completed survey CSV
  flush     Deliver queued submissions now
  pending   List queued submissions, or show one with -id
  watch     Flush the queue whenever the relay is reachable
  ping      Check that the relay answers

Run "trackmate <command> -h" for command flags.
`

// app holds the wired reporter components shared by every command.
type app struct {
	cfg     *internal.ClientConfig
	logger  *slog.Logger
	db      *sql.DB
	client  *relay.Client
	probe   *network.RelayProbe
	photos  storage.Storage
	store   *queue.Store
	service *service.SubmissionService
	out     io.Writer
}

func newApp(cfg *internal.ClientConfig, logger *slog.Logger, out io.Writer) (*app, error) {
	if cfg.QueueDriver == queue.DriverSQLite && !strings.HasPrefix(cfg.QueueDSN, ":memory:") && !strings.HasPrefix(cfg.QueueDSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.QueueDSN), 0755); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}

	db, err := queue.Open(cfg.QueueDriver, cfg.QueueDSN)
	if err != nil {
		return nil, fmt.Errorf("queue database connection failed: %w", err)
	}
	if err := internal.RunMigrations(db, cfg.QueueDriver); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Debug("Queue ready", "driver", cfg.QueueDriver)

	photos, err := storage.New(cfg.PhotoStorageProvider,
		storage.LocalConfig{BasePath: cfg.PhotoStoragePath},
		storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		},
		logger,
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("photo storage initialization failed: %w", err)
	}

	client := relay.NewClient(cfg.RelayURL, cfg.RequestTimeout)
	probe := network.NewRelayProbe(client, cfg.ProbeTimeout, logger)
	store := queue.NewStore(db, cfg.QueueDriver, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		client:  client,
		probe:   probe,
		photos:  photos,
		store:   store,
		service: service.NewSubmissionService(store, client, probe, photos, logger),
		out:     out,
	}, nil
}

// withChecker returns a service that decides connectivity with checker.
func (a *app) withChecker(checker network.Checker) *service.SubmissionService {
	return service.NewSubmissionService(a.store, a.client, checker, a.photos, a.logger)
}

func (a *app) Close() error {
	return a.db.Close()
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("no command given")
	}
	cmd, args := args[0], args[1:]

	commands := map[string]func(context.Context, *app, []string) error{
		"submit":  runSubmit,
		"survey":  runSurvey,
		"flush":   runFlush,
		"pending": runPending,
		"watch":   runWatch,
		"ping":    runPing,
	}
	fn, ok := commands[cmd]
	if !ok {
		if cmd == "help" || cmd == "-h" || cmd == "--help" {
			fmt.Fprint(out, usage)
			return nil
		}
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	// Load configuration
	cfg, err := internal.NewClientConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Logs go to stderr so command output stays clean
	logger := internal.NewLogger(os.Stderr, cfg.Env, cfg.LogLevel)

	a, err := newApp(cfg, logger, out)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a, args)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}
