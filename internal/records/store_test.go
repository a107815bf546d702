package records

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreWithoutURLIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "in-memory", s.Mode())
}

func TestInMemoryCreateAndUpdateSession(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	tmpl, err := s.CreateTemplate(ctx, Template{JobTitle: "Backend Engineer"})
	require.NoError(t, err)
	rec, err := s.CreateSession(ctx, SessionRecord{TemplateID: tmpl.ID, CandidateName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, rec.Status)
	assert.Equal(t, ModesAudioAndText, rec.AllowedModes)

	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	lines := []TranscriptLine{{Speaker: "assistant", Text: "Hello"}, {Speaker: "user", Text: "Hi"}}
	require.NoError(t, s.UpdateSessionRecord(ctx, rec.ID, Fields{
		Status:          StatusPtr(StatusCompleted),
		CompletedAt:     TimePtr(done),
		FinalTranscript: lines,
	}))

	lines[0].Text = "mutated"
	got, err := s.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))
	assert.Equal(t, "Hello", got.FinalTranscript[0].Text)
	assert.Equal(t, "Ada", got.CandidateName)
}

func TestInMemoryUpdateMissingSession(t *testing.T) {
	s := NewInMemoryStore()
	assert.ErrorIs(t, s.UpdateSessionRecord(context.Background(), "nope", Fields{}), ErrNotFound)
	assert.ErrorIs(t, s.UpdateSessionRecord(context.Background(), "", Fields{}), ErrEmptyID)
	_, err := s.GetTemplate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoTemplate)
}

func TestInMemoryMarkStartedKeepsFirstStamp(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	rec, err := s.CreateSession(ctx, SessionRecord{})
	require.NoError(t, err)

	first := time.Now().Add(-5 * time.Minute).UTC()
	got, err := s.MarkStarted(ctx, rec.ID, first)
	require.NoError(t, err)
	assert.True(t, first.Equal(got))

	again, err := s.MarkStarted(ctx, rec.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, first.Equal(again))

	stored, err := s.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)
}

func TestUpdateClausesOnlyIncludesSetFields(t *testing.T) {
	sets, args, err := updateClauses(Fields{
		Status:          StatusPtr(StatusEvaluated),
		FinalTranscript: []TranscriptLine{{Speaker: "user", Text: "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "status=$1, final_transcript=$2, updated_at=now()", strings.Join(sets, ", "))
	require.Len(t, args, 2)
	assert.Equal(t, "evaluated", args[0])
	assert.JSONEq(t, `[{"speaker":"user","text":"x"}]`, args[1].(string))
}
