package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/screener/internal/records"
)

func TestScheduleCreatesTemplateAndSession(t *testing.T) {
	store := records.NewInMemoryStore()
	resume := filepath.Join(t.TempDir(), "resume.txt")
	require.NoError(t, os.WriteFile(resume, []byte("Ten years of Go."), 0o600))

	rec, err := schedule(context.Background(), store, scheduleOptions{
		candidateName:  " Ada ",
		jobTitle:       "Backend Engineer",
		jobDescription: "Go services",
		resumeFile:     resume,
		allowedModes:   "AUDIO_ONLY",
		expiresAt:      "2030-01-02T15:04:05Z",
	})
	require.NoError(t, err)

	got, err := store.GetSession(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.CandidateName)
	assert.Equal(t, "Ten years of Go.", got.ResumeText)
	assert.Equal(t, records.ModesAudioOnly, got.AllowedModes)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(time.Date(2030, 1, 2, 15, 4, 5, 0, time.UTC)))

	tmpl, err := store.GetTemplate(context.Background(), got.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", tmpl.JobTitle)
}

func TestScheduleRejectsBadInput(t *testing.T) {
	store := records.NewInMemoryStore()
	ctx := context.Background()

	_, err := schedule(ctx, store, scheduleOptions{candidateName: "Ada", jobTitle: "x", allowedModes: "video"})
	assert.ErrorContains(t, err, "invalid --modes")

	_, err = schedule(ctx, store, scheduleOptions{candidateName: "Ada", jobTitle: "x", allowedModes: "audio_only", validFrom: "tomorrow"})
	assert.ErrorContains(t, err, "invalid --valid-from")

	_, err = schedule(ctx, store, scheduleOptions{
		candidateName: "Ada",
		jobTitle:      "x",
		allowedModes:  "audio_only",
		validFrom:     "2030-01-02T00:00:00Z",
		expiresAt:     "2030-01-01T00:00:00Z",
	})
	assert.ErrorContains(t, err, "--expires-at must be after")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["evaluate"])
	assert.True(t, names["schedule"])
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
