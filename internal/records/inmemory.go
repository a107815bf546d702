package records

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]SessionRecord
	templates map[string]Template
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]SessionRecord),
		templates: make(map[string]Template),
	}
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) GetSession(_ context.Context, id string) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return cloneSession(rec), nil
}

func (s *InMemoryStore) GetTemplate(_ context.Context, id string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return Template{}, ErrNoTemplate
	}
	return t, nil
}

func (s *InMemoryStore) CreateTemplate(_ context.Context, t Template) (Template, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
	return t, nil
}

func (s *InMemoryStore) CreateSession(_ context.Context, rec SessionRecord) (SessionRecord, error) {
	rec = withSessionDefaults(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = cloneSession(rec)
	return cloneSession(rec), nil
}

func (s *InMemoryStore) UpdateSessionRecord(_ context.Context, id string, f Fields) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.sessions[id] = applyFields(rec, f, time.Now().UTC())
	return nil
}

func (s *InMemoryStore) MarkStarted(_ context.Context, id string, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	if rec.StartedAt != nil {
		return *rec.StartedAt, nil
	}
	at = at.UTC()
	rec.StartedAt = &at
	rec.Status = StatusActive
	rec.UpdatedAt = time.Now().UTC()
	s.sessions[id] = rec
	return at, nil
}

func (s *InMemoryStore) Close() error { return nil }

func withSessionDefaults(rec SessionRecord) SessionRecord {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.Status == "" {
		rec.Status = StatusScheduled
	}
	if rec.AllowedModes == "" {
		rec.AllowedModes = ModesAudioAndText
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return rec
}

func applyFields(rec SessionRecord, f Fields, now time.Time) SessionRecord {
	if f.Status != nil {
		rec.Status = *f.Status
	}
	if f.StartedAt != nil {
		t := *f.StartedAt
		rec.StartedAt = &t
	}
	if f.CompletedAt != nil {
		t := *f.CompletedAt
		rec.CompletedAt = &t
	}
	if f.FinalTranscript != nil {
		rec.FinalTranscript = append([]TranscriptLine(nil), f.FinalTranscript...)
	}
	if f.Evaluation != nil {
		e := *f.Evaluation
		rec.Evaluation = &e
	}
	rec.UpdatedAt = now
	return rec
}

func cloneSession(rec SessionRecord) SessionRecord {
	c := rec
	if rec.FinalTranscript != nil {
		c.FinalTranscript = append([]TranscriptLine(nil), rec.FinalTranscript...)
	}
	if rec.Evaluation != nil {
		e := *rec.Evaluation
		c.Evaluation = &e
	}
	return c
}
