package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/PortNumber53/fitmarket-payments/internal/logger"
	"github.com/PortNumber53/fitmarket-payments/internal/migrations"
	"github.com/PortNumber53/fitmarket-payments/internal/notify"
	"github.com/PortNumber53/fitmarket-payments/internal/store"
)

const usage = "usage: %s [fix|force <version>|status|jobs|job <id>|resend <booking-id>|prune-jobs [days]]\n"

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)
	log := logger.SetupDefault(os.Stderr, slog.LevelInfo)

	// Only the database is needed here, so config.Load's service
	// requirements do not apply.
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(ctx, log, db, os.Args[1:]); err != nil {
		log.Error("dbtool failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, db *sql.DB, args []string) error {
	if len(args) == 0 {
		log.Info("applying migrations")
		if err := migrations.Up(db); err != nil {
			return err
		}
		log.Info("migrations applied successfully")
		return nil
	}

	switch args[0] {
	case "fix":
		log.Info("attempting to fix dirty database")
		if err := migrations.FixDirtyDatabase(db); err != nil {
			return err
		}
		log.Info("database fixed successfully")

	case "force":
		if len(args) < 2 {
			return fmt.Errorf(usage, os.Args[0])
		}
		var v uint
		if _, err := fmt.Sscanf(args[1], "%d", &v); err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		log.Info("forcing database version", slog.Uint64("version", uint64(v)))
		if err := migrations.ForceVersion(db, v); err != nil {
			return err
		}

	case "status":
		v, dirty, err := migrations.Status(db)
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)

	case "jobs":
		jobs, err := store.NewJobStore(db)
		if err != nil {
			return err
		}
		stats, err := jobs.GetStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pending=%d processing=%d completed=%d failed=%d cancelled=%d total=%d\n",
			stats.Pending, stats.Processing, stats.Completed, stats.Failed, stats.Cancelled, stats.Total)

	case "job":
		if len(args) < 2 {
			return fmt.Errorf(usage, os.Args[0])
		}
		var id int64
		if _, err := fmt.Sscanf(args[1], "%d", &id); err != nil {
			return fmt.Errorf("invalid job id: %s", args[1])
		}
		jobs, err := store.NewJobStore(db)
		if err != nil {
			return err
		}
		job, err := jobs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		lastError := ""
		if job.LastError != nil {
			lastError = *job.LastError
		}
		fmt.Printf("id=%d type=%s status=%s attempts=%d/%d last_error=%q\n",
			job.ID, job.JobType, job.Status, job.Attempts, job.MaxAttempts, lastError)

	case "resend":
		// Queues the confirmation jobs again without touching the booking row.
		if len(args) < 2 {
			return fmt.Errorf(usage, os.Args[0])
		}
		jobs, err := store.NewJobStore(db)
		if err != nil {
			return err
		}
		for _, job := range notify.BookingConfirmationJobs(args[1]) {
			if err := jobs.Enqueue(ctx, job); err != nil {
				return err
			}
			log.Info("queued notification job", slog.Int64("job_id", job.ID), slog.String("job_type", job.JobType))
		}

	case "prune-jobs":
		days := 7
		if len(args) > 1 {
			if _, err := fmt.Sscanf(args[1], "%d", &days); err != nil || days < 1 {
				return fmt.Errorf("invalid day count: %s", args[1])
			}
		}
		jobs, err := store.NewJobStore(db)
		if err != nil {
			return err
		}
		n, err := jobs.CleanupOldJobs(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			return err
		}
		log.Info("pruned finished jobs", slog.Int64("deleted", n), slog.Int("older_than_days", days))

	default:
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}
	return nil
}
