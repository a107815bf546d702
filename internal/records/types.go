package records

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrEmptyID    = errors.New("record id is required")
	ErrNoTemplate = errors.New("template not found")
)

// SessionStatus is the persisted lifecycle of an interview link.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusEvaluated SessionStatus = "evaluated"
	StatusRevoked   SessionStatus = "revoked"
)

// AllowedModes restricts how the candidate may answer.
type AllowedModes string

const (
	ModesAudioOnly    AllowedModes = "audio_only"
	ModesAudioAndText AllowedModes = "audio_and_text"
)

// TranscriptLine is one persisted utterance.
type TranscriptLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type Scores struct {
	Communication int `json:"communication"`
	Reasoning     int `json:"reasoning"`
	Relevance     int `json:"relevance"`
}

// Evaluation is the stored scoring outcome.
type Evaluation struct {
	Scores       Scores    `json:"scores"`
	Feedback     string    `json:"feedback"`
	OverallScore int       `json:"overall_score"`
	IsPassing    bool      `json:"is_passing"`
	Model        string    `json:"model,omitempty"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// SessionRecord is one scheduled interview.
type SessionRecord struct {
	ID              string           `json:"id"`
	TemplateID      string           `json:"template_id"`
	RecruiterID     string           `json:"recruiter_id"`
	CandidateName   string           `json:"candidate_name"`
	CandidateEmail  string           `json:"candidate_email"`
	ResumeText      string           `json:"resume_text"`
	Status          SessionStatus    `json:"status"`
	AllowedModes    AllowedModes     `json:"allowed_modes"`
	ValidFrom       *time.Time       `json:"valid_from,omitempty"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	FinalTranscript []TranscriptLine `json:"final_transcript,omitempty"`
	Evaluation      *Evaluation      `json:"evaluation,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Template is the job an interview is for.
type Template struct {
	ID             string    `json:"id"`
	RecruiterID    string    `json:"recruiter_id"`
	JobTitle       string    `json:"job_title"`
	JobDescription string    `json:"job_description"`
	CreatedAt      time.Time `json:"created_at"`
}

// Fields is a partial update; nil members are left unchanged.
type Fields struct {
	Status          *SessionStatus
	StartedAt       *time.Time
	CompletedAt     *time.Time
	FinalTranscript []TranscriptLine
	Evaluation      *Evaluation
}

// Store persists interview sessions and job templates.
type Store interface {
	GetSession(ctx context.Context, id string) (SessionRecord, error)
	GetTemplate(ctx context.Context, id string) (Template, error)
	CreateTemplate(ctx context.Context, t Template) (Template, error)
	CreateSession(ctx context.Context, rec SessionRecord) (SessionRecord, error)
	UpdateSessionRecord(ctx context.Context, id string, f Fields) error
	// MarkStarted stamps started_at unless it is already set and returns the
	// effective value.
	MarkStarted(ctx context.Context, id string, at time.Time) (time.Time, error)
	Mode() string
	Close() error
}

func StatusPtr(s SessionStatus) *SessionStatus { return &s }

func TimePtr(t time.Time) *time.Time { return &t }
