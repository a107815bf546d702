package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ent0n29/screener/internal/observability"
	"github.com/ent0n29/screener/internal/records"
)

var (
	ErrSessionNotFound = errors.New("interview session not found")
	ErrNoTranscript    = errors.New("interview has no transcript to evaluate")
	ErrMissingAPIKey   = errors.New("no API key configured for evaluation")
)

// Error wraps a failure at one stage of an evaluation.
type Error struct {
	SessionID string
	Stage     string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("evaluate session %s: %s: %v", e.SessionID, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Config struct {
	APIKey        string
	PassThreshold int
	Timeout       time.Duration
	Metrics       *observability.Metrics
	Now           func() time.Time
}

// Service grades completed interviews and stores the result on the session.
type Service struct {
	store         records.Store
	grader        Grader
	apiKey        string
	passThreshold int
	timeout       time.Duration
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewService(store records.Store, grader Grader, cfg Config) *Service {
	s := &Service{
		store:         store,
		grader:        grader,
		apiKey:        strings.TrimSpace(cfg.APIKey),
		passThreshold: cfg.PassThreshold,
		timeout:       cfg.Timeout,
		metrics:       cfg.Metrics,
		now:           cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Result is what callers get back from Evaluate.
type Result struct {
	Evaluation records.Evaluation
	// Cached is true when the session was already evaluated and no grading
	// request was made.
	Cached bool
}

// RequestEvaluation grades sessionID with the configured key.
func (s *Service) RequestEvaluation(ctx context.Context, sessionID string) error {
	_, err := s.Evaluate(ctx, sessionID, "")
	return err
}

// Evaluate grades one session. apiKey overrides the configured key when set.
func (s *Service) Evaluate(ctx context.Context, sessionID, apiKey string) (Result, error) {
	ctx, span := tracer.Start(ctx, "evaluate session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rec, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, records.ErrNotFound) {
		s.metrics.ObserveEvaluation("not_found")
		return Result{}, ErrSessionNotFound
	}
	if err != nil {
		s.metrics.ObserveEvaluation("failed")
		return Result{}, &Error{SessionID: sessionID, Stage: "load", Err: err}
	}
	if rec.Status == records.StatusEvaluated && rec.Evaluation != nil {
		s.metrics.ObserveEvaluation("cached")
		return Result{Evaluation: *rec.Evaluation, Cached: true}, nil
	}
	if len(rec.FinalTranscript) == 0 {
		s.metrics.ObserveEvaluation("no_transcript")
		return Result{}, ErrNoTranscript
	}

	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = s.apiKey
	}
	if key == "" {
		return Result{}, ErrMissingAPIKey
	}

	req := GradeRequest{CandidateName: rec.CandidateName, Transcript: rec.FinalTranscript}
	if rec.TemplateID != "" {
		tmpl, err := s.store.GetTemplate(ctx, rec.TemplateID)
		switch {
		case err == nil:
			req.JobTitle, req.JobDescription = tmpl.JobTitle, tmpl.JobDescription
		case errors.Is(err, records.ErrNoTemplate):
			log.Warn().Str("component", "evaluation").Str("session_id", sessionID).Str("template_id", rec.TemplateID).Msg("template missing; grading without job context")
		default:
			return Result{}, &Error{SessionID: sessionID, Stage: "template", Err: err}
		}
	}

	eval, err := s.grader.Grade(ctx, key, req)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveEvaluation("failed")
		s.metrics.ObserveProviderError("evaluation", "grade")
		return Result{}, &Error{SessionID: sessionID, Stage: "grade", Err: err}
	}
	eval = Reconcile(eval, s.passThreshold)
	eval.EvaluatedAt = s.now().UTC()

	if err := s.store.UpdateSessionRecord(ctx, sessionID, records.Fields{
		Status:     records.StatusPtr(records.StatusEvaluated),
		Evaluation: &eval,
	}); err != nil {
		s.metrics.ObserveEvaluation("failed")
		return Result{}, &Error{SessionID: sessionID, Stage: "persist", Err: err}
	}

	s.metrics.ObserveEvaluation("completed")
	log.Info().
		Str("component", "evaluation").
		Str("session_id", sessionID).
		Int("overall_score", eval.OverallScore).
		Bool("is_passing", eval.IsPassing).
		Msg("interview evaluated")
	return Result{Evaluation: eval}, nil
}
