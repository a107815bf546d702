package interview

import (
	"strings"
	"time"

	"github.com/ent0n29/screener/internal/realtime"
	"github.com/ent0n29/screener/internal/records"
)

// SessionContext is the immutable input of one interview.
type SessionContext struct {
	SessionID      string
	CandidateName  string
	JobTitle       string
	JobDescription string
	ResumeText     string
	StartedAt      time.Time
	Mode           realtime.Mode
	AllowedModes   records.AllowedModes
}

// NewSessionContext derives the interview input from stored records.
// Audio-only interviews always run in voice mode, and the resume is cut to
// resumeMaxChars runes when that is positive.
func NewSessionContext(rec records.SessionRecord, tmpl records.Template, requested realtime.Mode, now time.Time, resumeMaxChars int) SessionContext {
	mode := requested
	if mode != realtime.ModeText {
		mode = realtime.ModeVoice
	}
	allowed := rec.AllowedModes
	if allowed == "" {
		allowed = records.ModesAudioAndText
	}
	if allowed == records.ModesAudioOnly {
		mode = realtime.ModeVoice
	}

	started := now.UTC()
	if rec.StartedAt != nil {
		started = rec.StartedAt.UTC()
	}

	return SessionContext{
		SessionID:      rec.ID,
		CandidateName:  strings.TrimSpace(rec.CandidateName),
		JobTitle:       strings.TrimSpace(tmpl.JobTitle),
		JobDescription: strings.TrimSpace(tmpl.JobDescription),
		ResumeText:     capRunes(strings.TrimSpace(rec.ResumeText), resumeMaxChars),
		StartedAt:      started,
		Mode:           mode,
		AllowedModes:   allowed,
	}
}

func capRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
