package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/PortNumber53/fitmarket-payments/internal/billing"
	"github.com/PortNumber53/fitmarket-payments/internal/booking"
	"github.com/PortNumber53/fitmarket-payments/internal/config"
	"github.com/PortNumber53/fitmarket-payments/internal/handlers"
	"github.com/PortNumber53/fitmarket-payments/internal/httpserver"
	"github.com/PortNumber53/fitmarket-payments/internal/logger"
	"github.com/PortNumber53/fitmarket-payments/internal/metrics"
	"github.com/PortNumber53/fitmarket-payments/internal/migrations"
	"github.com/PortNumber53/fitmarket-payments/internal/models"
	"github.com/PortNumber53/fitmarket-payments/internal/notify"
	"github.com/PortNumber53/fitmarket-payments/internal/store"
	"github.com/PortNumber53/fitmarket-payments/internal/stripe"
	"github.com/PortNumber53/fitmarket-payments/internal/webhook"
	"github.com/PortNumber53/fitmarket-payments/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.SetupDefault(os.Stdout, cfg.SlogLevel())

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	logDBTarget(log, "primary", cfg.DatabaseURL)
	configureDB(db)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	if err := runMigrationsWithDirtyFix(log, db, "primary"); err != nil {
		return err
	}

	st, err := store.New(db)
	if err != nil {
		return err
	}
	jobs, err := store.NewJobStore(db)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Outbound gateway. Left as untyped nil interfaces when unconfigured so
	// the RPCs report failed-precondition.
	var (
		gateway  billing.Gateway
		payments handlers.PaymentGateway
	)
	if cfg.Stripe.Configured() {
		client := stripe.NewClient(cfg.Stripe.SecretKey)
		gateway, payments = client, client
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, payment and checkout RPCs disabled")
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET not set, webhook deliveries will be rejected with 500")
	}

	dispatcherOpts := []notify.Option{notify.WithRecorder(rec), notify.WithLogger(log)}
	if cfg.Mail.Configured() {
		sender, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
		if err != nil {
			return err
		}
		dispatcherOpts = append(dispatcherOpts, notify.WithEmail(sender, cfg.Mail.From))
	} else {
		log.Warn("SMTP not configured, confirmation emails disabled")
	}
	if cfg.Push.Configured() {
		sender, err := notify.NewFCMSender(ctx, cfg.Push.CredentialsFile)
		if err != nil {
			return err
		}
		dispatcherOpts = append(dispatcherOpts, notify.WithPush(sender))
	} else {
		log.Warn("FCM not configured, push notifications disabled")
	}
	notifications := notify.NewDispatcher(st, dispatcherOpts...)

	bookings := booking.NewMachine(st, notify.NewEnqueuer(st), log)
	subscriptions := billing.NewMachine(st, gateway, billing.Config{
		Prices: map[models.BillingPeriod]string{
			models.PeriodMonthly:     cfg.Stripe.PriceMonthly,
			models.PeriodThreeMonths: cfg.Stripe.PriceThreeMonths,
			models.PeriodSixMonths:   cfg.Stripe.PriceSixMonths,
		},
		TrialDays:       cfg.Stripe.TrialDays,
		SuccessURL:      cfg.Stripe.CheckoutSuccessURL,
		CancelURL:       cfg.Stripe.CheckoutCancelURL,
		PortalReturnURL: cfg.Stripe.PortalReturnURL,
	}, log)

	jobWorker := worker.New(worker.Config{MaxConcurrent: cfg.WorkerConcurrency}, jobs, log)
	jobWorker.SetInstrumentation(worker.MetricsInstrumentation(rec))
	worker.RegisterNotificationJobs(jobWorker, notifications)

	var push handlers.PushService
	if cfg.Push.Configured() {
		push = notifications
	}

	events := webhook.NewDispatcher(st, bookings, subscriptions, rec, log)
	srv := httpserver.New(cfg, httpserver.Deps{
		DB:      st,
		Webhook: handlers.NewWebhookHandler(stripe.NewVerifier(cfg.Stripe.WebhookSecret), events, log),
		RPC: &handlers.RPCHandler{
			Gateway:       payments,
			Subscriptions: subscriptions,
			Devices:       st,
			Push:          push,
			Bookings:      bookings,
			Logger:        log,
		},
		Worker:   jobWorker,
		Recorder: rec,
		Gatherer: reg,
		Logger:   log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return pruneJobs(gctx, log, jobs)
	})

	return g.Wait()
}

// pruneJobs deletes finished jobs older than a week, once a day.
func pruneJobs(ctx context.Context, log *slog.Logger, jobs *store.JobStore) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := jobs.CleanupOldJobs(ctx, 7*24*time.Hour)
			if err != nil {
				log.Error("prune finished jobs", slog.Any("error", err))
				continue
			}
			log.Info("pruned finished jobs", slog.Int64("deleted", n))
		}
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(log *slog.Logger, db *sql.DB, name string) error {
	if err := migrations.Up(db); err != nil {
		log.Warn("migrations: error detected", slog.String("db", name), slog.Any("error", err))
		if strings.Contains(err.Error(), "Dirty database version") {
			log.Warn("migrations: dirty database detected, attempting to fix", slog.String("db", name))
			if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
				log.Error("migrations: failed to fix dirty database", slog.String("db", name), slog.Any("error", fixErr))
				return err
			}
			return migrations.Up(db)
		}
		return err
	}
	return nil
}

func logDBTarget(log *slog.Logger, name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Info("db configured", slog.String("db", name), slog.String("dsn_error", err.Error()))
		return
	}
	log.Info("db configured", slog.String("db", name),
		slog.String("host", u.Hostname()),
		slog.String("database", strings.TrimPrefix(u.Path, "/")))
}
