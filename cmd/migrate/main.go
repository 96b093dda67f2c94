package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

type options struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

// migrator — подмножество postgres.Store, нужное утилите.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.SchemaStatus, error)
	Close() error
}

var openMigrator = func(ctx context.Context, dsn string) (migrator, error) {
	return postgres.Open(ctx, dsn)
}

func main() {
	_ = godotenv.Load()

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid arguments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
}

func parseOptions(fs *flag.FlagSet, args []string, getenv func(string) string) (options, error) {
	var opts options

	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: DATABASE_URL)")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv("DATABASE_URL"))
	}

	switch {
	case opts.dsn == "":
		return options{}, errors.New("DATABASE_URL (or -dsn) is required")
	case opts.direction != "up" && opts.direction != "down" && opts.direction != "status":
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	case opts.steps < 0:
		return options{}, errors.New("steps must be >= 0")
	case opts.timeout <= 0:
		return options{}, errors.New("timeout must be > 0")
	}
	if opts.direction == "down" && opts.steps == 0 {
		opts.steps = 1
	}

	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	store, err := openMigrator(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer func() { _ = store.Close() }()

	switch opts.direction {
	case "up":
		err = store.MigrateUp(ctx, opts.steps)
	case "down":
		err = store.MigrateDown(ctx, opts.steps)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", opts.direction, err)
	}

	status, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	if _, err := fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n",
		opts.direction, status.Version, status.Applied, len(status.Pending)); err != nil {
		return err
	}
	for _, name := range status.Pending {
		if _, err := fmt.Fprintf(out, "  pending %s\n", name); err != nil {
			return err
		}
	}
	return nil
}
