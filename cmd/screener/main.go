package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/screener/internal/app"
	"github.com/ent0n29/screener/internal/config"
	"github.com/ent0n29/screener/internal/observability"
	"github.com/ent0n29/screener/internal/records"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:          "screener",
		Short:        "Realtime AI screening interviews",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (yaml, json or toml)")

	load := func() (config.Config, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return config.Config{}, fmt.Errorf("config error: %w", err)
		}
		observability.SetupLogging(cfg.LogLevel, cfg.LogFormat)
		return cfg, nil
	}

	root.AddCommand(newServeCmd(load), newEvaluateCmd(load), newScheduleCmd(load))
	return root
}

func newServeCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the interview HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	built, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Error().Err(err).Msg("cleanup failed")
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	built.Sessions.StartJanitor(ctx, 5*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.BindAddr).Str("store_mode", built.Store.Mode()).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed")
			_ = httpServer.Close()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func newEvaluateCmd(load func() (config.Config, error)) *cobra.Command {
	var apiKey string
	cmd := &cobra.Command{
		Use:   "evaluate <session-id>",
		Short: "Grade a completed interview and store the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := records.NewStore(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("records store init failed: %w", err)
			}
			defer store.Close()

			service := app.NewEvaluationService(cfg, store, nil)
			res, err := service.Evaluate(ctx, args[0], apiKey)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "override the configured OpenAI key")
	return cmd
}

type scheduleOptions struct {
	candidateName  string
	candidateEmail string
	jobTitle       string
	jobDescription string
	resumeFile     string
	allowedModes   string
	validFrom      string
	expiresAt      string
	recruiterID    string
}

func newScheduleCmd(load func() (config.Config, error)) *cobra.Command {
	var opts scheduleOptions
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Create a job template and an interview link for one candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := records.NewStore(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("records store init failed: %w", err)
			}
			defer store.Close()

			rec, err := schedule(ctx, store, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.candidateName, "candidate", "", "candidate name")
	f.StringVar(&opts.candidateEmail, "email", "", "candidate email")
	f.StringVar(&opts.jobTitle, "job-title", "", "job title")
	f.StringVar(&opts.jobDescription, "job-description", "", "job description")
	f.StringVar(&opts.resumeFile, "resume", "", "path to a plain-text resume")
	f.StringVar(&opts.allowedModes, "modes", string(records.ModesAudioAndText), "audio_only or audio_and_text")
	f.StringVar(&opts.validFrom, "valid-from", "", "RFC3339 instant the link opens")
	f.StringVar(&opts.expiresAt, "expires-at", "", "RFC3339 instant the link expires")
	f.StringVar(&opts.recruiterID, "recruiter", "", "recruiter id")
	_ = cmd.MarkFlagRequired("candidate")
	_ = cmd.MarkFlagRequired("job-title")
	return cmd
}

func schedule(ctx context.Context, store records.Store, opts scheduleOptions) (records.SessionRecord, error) {
	modes := records.AllowedModes(strings.ToLower(strings.TrimSpace(opts.allowedModes)))
	switch modes {
	case records.ModesAudioOnly, records.ModesAudioAndText:
	default:
		return records.SessionRecord{}, fmt.Errorf("invalid --modes %q (expected audio_only|audio_and_text)", opts.allowedModes)
	}
	validFrom, err := parseInstant("valid-from", opts.validFrom)
	if err != nil {
		return records.SessionRecord{}, err
	}
	expiresAt, err := parseInstant("expires-at", opts.expiresAt)
	if err != nil {
		return records.SessionRecord{}, err
	}
	if validFrom != nil && expiresAt != nil && !expiresAt.After(*validFrom) {
		return records.SessionRecord{}, errors.New("--expires-at must be after --valid-from")
	}

	var resume string
	if opts.resumeFile != "" {
		raw, err := os.ReadFile(opts.resumeFile)
		if err != nil {
			return records.SessionRecord{}, fmt.Errorf("read resume: %w", err)
		}
		resume = string(raw)
	}

	tmpl, err := store.CreateTemplate(ctx, records.Template{
		RecruiterID:    opts.recruiterID,
		JobTitle:       strings.TrimSpace(opts.jobTitle),
		JobDescription: strings.TrimSpace(opts.jobDescription),
	})
	if err != nil {
		return records.SessionRecord{}, fmt.Errorf("create template: %w", err)
	}
	rec, err := store.CreateSession(ctx, records.SessionRecord{
		TemplateID:     tmpl.ID,
		RecruiterID:    opts.recruiterID,
		CandidateName:  strings.TrimSpace(opts.candidateName),
		CandidateEmail: strings.TrimSpace(opts.candidateEmail),
		ResumeText:     resume,
		AllowedModes:   modes,
		ValidFrom:      validFrom,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		return records.SessionRecord{}, fmt.Errorf("create session: %w", err)
	}
	log.Info().Str("session_id", rec.ID).Str("template_id", tmpl.ID).Msg("interview scheduled")
	return rec, nil
}

func parseInstant(flag, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	t = t.UTC()
	return &t, nil
}
