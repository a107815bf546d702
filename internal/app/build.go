package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ent0n29/screener/internal/config"
	"github.com/ent0n29/screener/internal/credential"
	"github.com/ent0n29/screener/internal/evaluation"
	"github.com/ent0n29/screener/internal/httpapi"
	"github.com/ent0n29/screener/internal/interview"
	"github.com/ent0n29/screener/internal/live"
	"github.com/ent0n29/screener/internal/media"
	"github.com/ent0n29/screener/internal/observability"
	"github.com/ent0n29/screener/internal/realtime"
	"github.com/ent0n29/screener/internal/records"
	"github.com/ent0n29/screener/internal/session"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Sessions   *session.Manager
	Store      records.Store
	Evaluation *evaluation.Service
	Metrics    *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, live rooms).
	Cleanup func() error
}

// NewEvaluationService wires the grader to a store. It is shared by the
// server and the evaluate command.
func NewEvaluationService(cfg config.Config, store records.Store, metrics *observability.Metrics) *evaluation.Service {
	grader := evaluation.NewOpenAIGrader(evaluation.OpenAIGraderConfig{
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.EvaluationModel,
	})
	return evaluation.NewService(store, grader, evaluation.Config{
		APIKey:        cfg.OpenAIAPIKey,
		PassThreshold: cfg.EvaluationPassThreshold,
		Timeout:       cfg.EvaluationRequestTimeout,
		Metrics:       metrics,
	})
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := records.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("records store init failed: %w", err)
	}

	evaluator := NewEvaluationService(cfg, store, metrics)
	credentials := credential.NewClient(credential.Config{
		BaseURL:            cfg.OpenAIBaseURL,
		Model:              cfg.RealtimeModel,
		Voice:              cfg.RealtimeVoice,
		TranscriptionModel: cfg.TranscriptionModel,
	})

	sessions := session.NewManager(cfg.RoomInactivityTimeout)
	sessions.SetCountHook(metrics.SetActiveRooms)
	sessions.SetExpireHook(func(info session.RoomInfo) {
		metrics.SessionEvent("room_expired")
		log.Info().Str("component", "session").Str("session_id", info.ID).Str("status", string(info.Status)).Msg("idle room closed")
	})

	controllerCfg := interview.Config{
		APIKey:             cfg.OpenAIAPIKey,
		RealtimeURL:        cfg.OpenAIBaseURL + "/v1/realtime",
		RealtimeModel:      cfg.RealtimeModel,
		Voice:              cfg.RealtimeVoice,
		TranscriptionModel: cfg.TranscriptionModel,
		ICEServers:         cfg.ICEServers,
		SessionLimit:       cfg.InterviewSessionLimit,
		ConnectTimeout:     cfg.InterviewConnectTimeout,
		FinalizeGrace:      cfg.InterviewFinalizeGrace,
		DrainTimeout:       cfg.InterviewDrainTimeout,
		PersistTimeout:     cfg.InterviewPersistTimeout,
		SubtitleTick:       cfg.SubtitleTick,
		SubtitleSlice:      cfg.SubtitleSlice,
		AutoEvaluate:       cfg.InterviewAutoEvaluate,
		ForwardRemoteAudio: cfg.ForwardAssistantAudio,
	}
	newRoom := func(rec records.SessionRecord, tmpl records.Template, mode realtime.Mode) (*interview.Controller, error) {
		sc := interview.NewSessionContext(rec, tmpl, mode, time.Now(), cfg.ResumeMaxChars)
		return interview.NewController(sc, controllerCfg, interview.Deps{
			Credentials: credentials,
			Media:       media.PCMUSource{},
			Store:       store,
			Evaluator:   evaluator,
			Metrics:     metrics,
		}), nil
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:  sessions,
		Runner:    live.NewRunner(sessions, metrics),
		Store:     store,
		Evaluator: evaluator,
		NewRoom:   newRoom,
		Metrics:   metrics,
	})

	cleanup := func() error {
		sessions.CloseAll()
		if err := store.Close(); err != nil {
			return fmt.Errorf("close records store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Sessions:   sessions,
		Store:      store,
		Evaluation: evaluator,
		Metrics:    metrics,
		Cleanup:    cleanup,
	}, nil
}
