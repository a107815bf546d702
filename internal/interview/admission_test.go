package interview

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/screener/internal/realtime"
	"github.com/ent0n29/screener/internal/records"
)

func TestAdmit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)
	recent := now.Add(-10 * time.Minute)

	tests := []struct {
		name string
		rec  records.SessionRecord
		want error
	}{
		{name: "scheduled", rec: records.SessionRecord{Status: records.StatusScheduled}},
		{name: "resumed within window", rec: records.SessionRecord{Status: records.StatusActive, StartedAt: &recent}},
		{name: "revoked", rec: records.SessionRecord{Status: records.StatusRevoked}, want: ErrRevoked},
		{name: "completed", rec: records.SessionRecord{Status: records.StatusCompleted}, want: ErrAlreadyCompleted},
		{name: "evaluated", rec: records.SessionRecord{Status: records.StatusEvaluated}, want: ErrAlreadyCompleted},
		{name: "expires later", rec: records.SessionRecord{Status: records.StatusScheduled, ExpiresAt: &future}},
		{name: "expired", rec: records.SessionRecord{Status: records.StatusScheduled, ExpiresAt: &past}, want: ErrLinkExpired},
		{name: "window elapsed", rec: records.SessionRecord{Status: records.StatusActive, StartedAt: &past}, want: ErrWindowElapsed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Admit(tt.rec, now, 30*time.Minute)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAdmitNotYetOpen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opens := now.Add(2 * time.Hour)

	err := Admit(records.SessionRecord{Status: records.StatusScheduled, ValidFrom: &opens}, now, 0)
	var notOpen *NotYetOpenError
	require.ErrorAs(t, err, &notOpen)
	assert.Equal(t, opens, notOpen.OpensAt)
	assert.Contains(t, err.Error(), "2026-03-01T14:00:00Z")
}

func TestNewSessionContext(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := records.SessionRecord{
		ID:            "s1",
		CandidateName: " Ada ",
		ResumeText:    strings.Repeat("x", 50),
		AllowedModes:  records.ModesAudioOnly,
	}
	tmpl := records.Template{JobTitle: "SRE", JobDescription: "Keep it running"}

	sc := NewSessionContext(rec, tmpl, realtime.ModeText, now, 20)
	assert.Equal(t, "Ada", sc.CandidateName)
	assert.Equal(t, realtime.ModeVoice, sc.Mode)
	assert.Len(t, sc.ResumeText, 20)
	assert.Equal(t, now, sc.StartedAt)

	started := now.Add(-5 * time.Minute)
	rec.StartedAt = &started
	rec.AllowedModes = records.ModesAudioAndText
	sc = NewSessionContext(rec, tmpl, realtime.ModeText, now, 0)
	assert.Equal(t, realtime.ModeText, sc.Mode)
	assert.Equal(t, started, sc.StartedAt)
	assert.Len(t, sc.ResumeText, 50)
}

func TestBuildSystemPrompt(t *testing.T) {
	sc := SessionContext{
		CandidateName:  "Ada",
		JobTitle:       "Go Engineer",
		JobDescription: "Build APIs",
		ResumeText:     "Ten years of Go",
		Mode:           realtime.ModeText,
	}
	prompt := BuildSystemPrompt(sc)
	for _, want := range []string{"Go Engineer", "Ada", "Build APIs", "Ten years of Go", realtime.EndInterviewTool, "in writing"} {
		assert.Contains(t, prompt, want)
	}

	sc.Mode = realtime.ModeVoice
	assert.NotContains(t, BuildSystemPrompt(sc), "in writing")
	assert.Contains(t, GreetingInstructions(sc), "Ada")
}
