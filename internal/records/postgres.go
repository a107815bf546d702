package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists interview sessions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interview_templates (
			id TEXT PRIMARY KEY,
			recruiter_id TEXT NOT NULL DEFAULT '',
			job_title TEXT NOT NULL,
			job_description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS interview_sessions (
			id TEXT PRIMARY KEY,
			template_id TEXT NOT NULL DEFAULT '',
			recruiter_id TEXT NOT NULL DEFAULT '',
			candidate_name TEXT NOT NULL DEFAULT '',
			candidate_email TEXT NOT NULL DEFAULT '',
			resume_text TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			allowed_modes TEXT NOT NULL DEFAULT 'audio_and_text',
			valid_from TIMESTAMPTZ,
			expires_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			final_transcript JSONB,
			evaluation JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interview_sessions_recruiter ON interview_sessions (recruiter_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

const sessionColumns = `id, template_id, recruiter_id, candidate_name, candidate_email, resume_text,
	status, allowed_modes, valid_from, expires_at, started_at, completed_at,
	final_transcript, evaluation, created_at, updated_at`

func (s *PostgresStore) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM interview_sessions WHERE id=$1`, id)

	var (
		rec        SessionRecord
		status     string
		modes      string
		transcript []byte
		evaluation []byte
	)
	err := row.Scan(
		&rec.ID, &rec.TemplateID, &rec.RecruiterID, &rec.CandidateName, &rec.CandidateEmail, &rec.ResumeText,
		&status, &modes, &rec.ValidFrom, &rec.ExpiresAt, &rec.StartedAt, &rec.CompletedAt,
		&transcript, &evaluation, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	rec.Status = SessionStatus(status)
	rec.AllowedModes = AllowedModes(modes)
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &rec.FinalTranscript); err != nil {
			return SessionRecord{}, fmt.Errorf("decode final_transcript: %w", err)
		}
	}
	if len(evaluation) > 0 {
		rec.Evaluation = &Evaluation{}
		if err := json.Unmarshal(evaluation, rec.Evaluation); err != nil {
			return SessionRecord{}, fmt.Errorf("decode evaluation: %w", err)
		}
	}
	return rec, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (Template, error) {
	var t Template
	err := s.pool.QueryRow(ctx,
		`SELECT id, recruiter_id, job_title, job_description, created_at FROM interview_templates WHERE id=$1`, id,
	).Scan(&t.ID, &t.RecruiterID, &t.JobTitle, &t.JobDescription, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrNoTemplate
	}
	if err != nil {
		return Template{}, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) CreateTemplate(ctx context.Context, t Template) (Template, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO interview_templates (id, recruiter_id, job_title, job_description, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.RecruiterID, t.JobTitle, t.JobDescription, t.CreatedAt,
	)
	if err != nil {
		return Template{}, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, rec SessionRecord) (SessionRecord, error) {
	rec = withSessionDefaults(rec)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO interview_sessions (id, template_id, recruiter_id, candidate_name, candidate_email, resume_text,
			status, allowed_modes, valid_from, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.TemplateID, rec.RecruiterID, rec.CandidateName, rec.CandidateEmail, rec.ResumeText,
		string(rec.Status), string(rec.AllowedModes), rec.ValidFrom, rec.ExpiresAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("create session: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) UpdateSessionRecord(ctx context.Context, id string, f Fields) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	sets, args, err := updateClauses(f)
	if err != nil {
		return err
	}
	args = append(args, id)
	query := `UPDATE interview_sessions SET ` + strings.Join(sets, ", ") +
		fmt.Sprintf(` WHERE id=$%d`, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// updateClauses renders Fields as SET clauses; updated_at is always bumped.
func updateClauses(f Fields) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if f.Status != nil {
		add("status", string(*f.Status))
	}
	if f.StartedAt != nil {
		add("started_at", *f.StartedAt)
	}
	if f.CompletedAt != nil {
		add("completed_at", *f.CompletedAt)
	}
	if f.FinalTranscript != nil {
		b, err := json.Marshal(f.FinalTranscript)
		if err != nil {
			return nil, nil, fmt.Errorf("encode final_transcript: %w", err)
		}
		add("final_transcript", string(b))
	}
	if f.Evaluation != nil {
		b, err := json.Marshal(f.Evaluation)
		if err != nil {
			return nil, nil, fmt.Errorf("encode evaluation: %w", err)
		}
		add("evaluation", string(b))
	}
	sets = append(sets, "updated_at=now()")
	return sets, args, nil
}

func (s *PostgresStore) MarkStarted(ctx context.Context, id string, at time.Time) (time.Time, error) {
	var started time.Time
	err := s.pool.QueryRow(ctx,
		`UPDATE interview_sessions
		 SET started_at = COALESCE(started_at, $2),
		     status = CASE WHEN started_at IS NULL THEN 'active' ELSE status END,
		     updated_at = now()
		 WHERE id=$1
		 RETURNING started_at`,
		id, at.UTC(),
	).Scan(&started)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mark started: %w", err)
	}
	return started, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
