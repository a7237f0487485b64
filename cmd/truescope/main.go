// TrueScope aggregates news across the political spectrum, publishes a
// bias-balanced selection with ledger-anchored content hashes, and
// emails subscribers a daily digest.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/truescope/truescope/internal/anchor"
	"github.com/truescope/truescope/internal/api"
	"github.com/truescope/truescope/internal/config"
	"github.com/truescope/truescope/internal/digest"
	"github.com/truescope/truescope/internal/pipeline"
	"github.com/truescope/truescope/internal/scheduler"
	"github.com/truescope/truescope/internal/source"
	"github.com/truescope/truescope/internal/store"
	"github.com/truescope/truescope/pkg/notify"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "truescope",
		Short: "Balanced news aggregation with ledger-anchored integrity",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "truescope.yaml", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(runCmd(&configPath))
	rootCmd.AddCommand(digestCmd(&configPath))
	rootCmd.AddCommand(subscribeCmd(&configPath))
	rootCmd.AddCommand(unsubscribeCmd(&configPath))
	rootCmd.AddCommand(subscribersCmd(&configPath))
	rootCmd.AddCommand(tokenCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired components shared by the subcommands.
type app struct {
	cfg        config.Config
	store      *store.Store
	controller *pipeline.Controller
	scheduler  *scheduler.Scheduler
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	catalog, err := source.NewCatalog(cfg.Sources)
	if err != nil {
		st.Close()
		return nil, err
	}
	fetcher := source.NewFetcher(cfg.Fetch.Timeout(), cfg.Fetch.UserAgent)

	var anchorer *anchor.Anchorer
	if cfg.Anchor.Enabled {
		ledger := &anchor.MockLedger{Latency: time.Duration(cfg.Anchor.MockLatencyMS) * time.Millisecond}
		anchorer = anchor.NewAnchorer(ledger, st, cfg.Anchor.MaxRetries)
	}

	controller := pipeline.NewController(catalog, fetcher, st, anchorer, cfg.Balance)
	sched := scheduler.New(controller, digestFunc(cfg, st), cfg.Scheduler.NewsInterval(), cfg.Scheduler.DigestInterval())

	return &app{cfg: cfg, store: st, controller: controller, scheduler: sched}, nil
}

// digestFunc builds the digest cycle invoked by the scheduler and the
// trigger-email control action.
func digestFunc(cfg config.Config, st *store.Store) scheduler.DigestFunc {
	if cfg.Email.Password == "" {
		slog.Warn("SMTP password not set, digest dispatch disabled")
		return nil
	}

	mailer := notify.NewEmailNotifier(notify.EmailConfig{
		SMTPHost: cfg.Email.SMTPHost,
		SMTPPort: cfg.Email.SMTPPort,
		From:     cfg.Email.From,
		Password: cfg.Email.Password,
		Sender:   "TrueScope Digest",
	})

	var broadcast notify.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChannelID != "" {
		tn, err := notify.NewTelegramNotifier(notify.TelegramConfig(cfg.Telegram))
		if err != nil {
			slog.Warn("telegram channel unavailable", "error", err)
		} else {
			broadcast = tn
		}
	}

	composer := digest.NewComposer(st, cfg.Digest.Subject)
	dispatcher := digest.NewDispatcher(st, mailer, broadcast, cfg.Digest.BatchSize, cfg.Digest.BatchPause())
	window := cfg.Scheduler.DigestInterval()

	return func(ctx context.Context) error {
		campaign, msg, err := composer.Compose(ctx, time.Now().Add(-window))
		if err != nil {
			return err
		}
		_, err = dispatcher.Send(ctx, campaign, msg)
		return err
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()

			if a.cfg.Scheduler.Enabled {
				if err := a.scheduler.Start(); err != nil {
					return err
				}
			}

			server := api.NewServer(a.scheduler, a.controller, a.store,
				a.cfg.Server.CronSecret, a.cfg.Server.JWTSecret)
			srv := &http.Server{
				Addr:    ":" + a.cfg.Server.Port,
				Handler: server.Routes(),
			}

			go func() {
				slog.Info("starting API server", "port", a.cfg.Server.Port)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("server failed", "error", err)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			slog.Info("shutting down")
			a.scheduler.Stop()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one automation run and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()

			run, err := a.controller.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %s (%d/%d sources ok, %d candidates, %d selected, %s)\n",
				run.ID, run.Status,
				run.SourcesAttempted-run.SourcesFailed, run.SourcesAttempted,
				run.ArticlesProcessed, run.ArticlesSelected, run.Duration().Round(time.Millisecond))
			return nil
		},
	}
}

func digestCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Compose and dispatch the digest for the current window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()
			return a.scheduler.TriggerDigest(cmd.Context())
		},
	}
}

func subscribeCmd(configPath *string) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Add a digest subscriber",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()

			if err := a.store.AddSubscriber(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Printf("subscribed: %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "subscriber email address")
	cmd.MarkFlagRequired("email")
	return cmd
}

func unsubscribeCmd(configPath *string) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "unsubscribe",
		Short: "Remove a digest subscriber",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()

			if err := a.store.RemoveSubscriber(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Printf("unsubscribed: %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "subscriber email address")
	cmd.MarkFlagRequired("email")
	return cmd
}

func subscribersCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribers",
		Short: "List active digest subscribers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()

			subs, err := a.store.ActiveSubscribers(cmd.Context())
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				fmt.Println("no active subscribers")
				return nil
			}
			for _, s := range subs {
				fmt.Printf("%s (since %s)\n", s.Email, s.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func tokenCmd(configPath *string) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for the control endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Server.AdminPasswordHash == "" {
				return fmt.Errorf("server.admin_password_hash is not configured")
			}
			if err := bcrypt.CompareHashAndPassword([]byte(cfg.Server.AdminPasswordHash), []byte(password)); err != nil {
				return fmt.Errorf("password check failed")
			}

			token, err := api.GenerateToken([]byte(cfg.Server.JWTSecret), "admin", 7*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cmd.MarkFlagRequired("password")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("truescope", version)
		},
	}
}
