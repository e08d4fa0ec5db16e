// Command flockd runs the persona daemon: it loads the persona configs,
// registers the four mode workflows, recovers any runs interrupted by the
// previous shutdown, and drives the schedule with cron triggers.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/petrijr/flock"
	"github.com/petrijr/flock/internal/bot"
	"github.com/petrijr/flock/internal/persona"
	"github.com/petrijr/flock/internal/policy"
	"github.com/petrijr/flock/internal/quota"
	"github.com/petrijr/flock/internal/social"
	"github.com/petrijr/flock/internal/textgen"
	"github.com/petrijr/flock/pkg/api"
)

var version = "dev"

type options struct {
	envFile    string
	personaDir string
	dbPath     string
	workers    int

	proactiveCron    string
	engagementCron   string
	interactionCron  string
	notificationPoll time.Duration
}

func main() {
	opts := options{}

	root := &cobra.Command{
		Use:           "flockd",
		Short:         "Autonomous social persona daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with credentials (optional)")
	root.PersistentFlags().StringVar(&opts.personaDir, "personas", "personas", "directory of persona YAML files")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "flock.db", "SQLite database path")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	serve.Flags().IntVar(&opts.workers, "workers", 2, "concurrent run workers")
	serve.Flags().StringVar(&opts.proactiveCron, "proactive-cron", "*/30 * * * *", "proactive tick schedule")
	serve.Flags().StringVar(&opts.engagementCron, "engagement-cron", "45 * * * *", "engagement session schedule")
	serve.Flags().StringVar(&opts.interactionCron, "interaction-cron", "15 */4 * * *", "persona-to-persona interaction schedule")
	serve.Flags().DurationVar(&opts.notificationPoll, "notification-poll", 2*time.Minute, "inbound notification poll interval")

	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "flockd:", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, opts options) error {
	// Missing dotenv files are fine; real deployments often use the
	// environment directly.
	_ = godotenv.Load(opts.envFile)

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	personas, err := persona.LoadDir(opts.personaDir)
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}
	logger.Info("personas loaded", zap.Int("count", len(personas)))

	db, err := sql.Open("sqlite", "file:"+opts.dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	metrics := &flock.BasicMetrics{}
	failures := &bot.FailureObserver{Logger: logger}
	bundle, err := flock.NewSQLiteBundle(db, flock.NewCompositeObserver(
		flock.NewLoggingObserver(logger),
		metrics,
		failures,
	))
	if err != nil {
		return fmt.Errorf("sqlite bundle: %w", err)
	}
	// The failure observer writes to the store the bundle just created; no
	// runs start until the workers do.
	failures.Store = bundle.Store

	platformBase := envOr("FLOCK_PLATFORM_URL", "http://localhost:8080")
	clients := make(map[string]bot.Platform, len(personas))
	for _, p := range personas {
		clients[p.ID] = social.NewClient(social.Config{
			BaseURL:  platformBase,
			Handle:   p.Handle,
			Password: os.Getenv("FLOCK_PASSWORD_" + strings.ToUpper(p.ID)),
		}, logger.With(zap.String("persona_id", p.ID)))
	}

	generator := textgen.NewClient(textgen.Config{
		BaseURL: envOr("FLOCK_TEXTGEN_URL", "http://localhost:8090"),
		APIKey:  os.Getenv("FLOCK_TEXTGEN_API_KEY"),
	})

	b, err := bot.New(bot.Config{
		Store:     bundle.Store,
		Personas:  personas,
		Platform:  func(personaID string) bot.Platform { return clients[personaID] },
		Generator: generator,
		Policy:    policy.NewFilter(splitList(os.Getenv("FLOCK_POLICY_EXTRA"))...),
		Worker:    bundle.Worker,
		Logger:    logger,
		Quota:     quota.DefaultConfig(),
	})
	if err != nil {
		return err
	}
	if err := b.Register(bundle.Engine); err != nil {
		return err
	}

	// Recover before any workers start so nothing is legitimately running.
	recovered, err := flock.RecoverStuckRuns(ctx, bundle.Engine)
	if err != nil {
		return fmt.Errorf("recover stuck runs: %w", err)
	}
	if recovered > 0 {
		logger.Warn("recovered interrupted runs", zap.Int("count", recovered))
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	enqueue := func(trig api.Trigger) {
		if err := bundle.Worker.EnqueueRun(ctx, trig); err != nil {
			logger.Warn("enqueue failed",
				zap.String("mode", string(trig.Mode)),
				zap.String("persona_id", trig.PersonaID),
				zap.Error(err))
		}
	}

	sched := cron.New()
	if _, err := sched.AddFunc(opts.proactiveCron, func() {
		for _, p := range personas {
			enqueue(api.Trigger{Mode: api.ModeProactive, PersonaID: p.ID})
		}
	}); err != nil {
		return fmt.Errorf("proactive schedule: %w", err)
	}
	if _, err := sched.AddFunc(opts.engagementCron, func() {
		for _, p := range personas {
			enqueue(api.Trigger{Mode: api.ModeEngagement, PersonaID: p.ID})
		}
	}); err != nil {
		return fmt.Errorf("engagement schedule: %w", err)
	}
	if _, err := sched.AddFunc(opts.interactionCron, func() {
		if len(personas) < 2 {
			return
		}
		i := rng.Intn(len(personas))
		j := rng.Intn(len(personas) - 1)
		if j >= i {
			j++
		}
		enqueue(api.Trigger{
			Mode:            api.ModeInteraction,
			PersonaID:       personas[i].ID,
			TargetPersonaID: personas[j].ID,
		})
	}); err != nil {
		return fmt.Errorf("interaction schedule: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < opts.workers; i++ {
		g.Go(func() error {
			for {
				if _, err := bundle.Worker.ProcessOne(gctx); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					logger.Error("run failed", zap.Error(err))
				}
			}
		})
	}

	// Inbound notifications become reactive triggers.
	g.Go(func() error {
		ticker := time.NewTicker(opts.notificationPoll)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				pollNotifications(gctx, personas, clients, enqueue, logger)
			}
		}
	})

	logger.Info("flockd started",
		zap.String("version", version),
		zap.Int("workers", opts.workers),
		zap.Int("personas", len(personas)))

	err = g.Wait()
	logger.Info("flockd stopped",
		zap.Int64("runs_started", metrics.Snapshot().RunsStarted),
		zap.Int64("runs_skipped", metrics.Snapshot().RunsSkipped),
		zap.Int64("runs_failed", metrics.Snapshot().RunsFailed))
	return err
}

func pollNotifications(ctx context.Context, personas []persona.Config,
	clients map[string]bot.Platform, enqueue func(api.Trigger), logger *zap.Logger) {

	for _, p := range personas {
		client, ok := clients[p.ID].(*social.Client)
		if !ok {
			continue
		}
		notes, err := client.UnreadNotifications(ctx, 20)
		if err != nil {
			logger.Warn("notification poll failed",
				zap.String("persona_id", p.ID), zap.Error(err))
			continue
		}
		for i := range notes {
			note := notes[i]
			enqueue(api.Trigger{
				Mode:         api.ModeReactive,
				PersonaID:    p.ID,
				Notification: &note,
			})
		}
		if len(notes) > 0 {
			if err := client.MarkRead(ctx); err != nil {
				logger.Warn("mark read failed",
					zap.String("persona_id", p.ID), zap.Error(err))
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
