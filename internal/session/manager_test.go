package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/screener/internal/interview"
)

func newController(id string) func() (*interview.Controller, error) {
	return func() (*interview.Controller, error) {
		return interview.NewController(interview.SessionContext{SessionID: id}, interview.Config{}, interview.Deps{}), nil
	}
}

func TestManagerOpenReusesRoom(t *testing.T) {
	m := NewManager(time.Minute)
	var counts []int
	m.SetCountHook(func(n int) { counts = append(counts, n) })

	r1, created, err := m.Open("s1", newController("s1"))
	require.NoError(t, err)
	assert.True(t, created)

	r2, created, err := m.Open("s1", func() (*interview.Controller, error) {
		t.Fatal("build called for existing room")
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, r1, r2)
	assert.Equal(t, 1, m.ActiveCount())
	assert.Equal(t, []int{1}, counts)

	info, err := m.Info("s1")
	require.NoError(t, err)
	assert.Equal(t, interview.StatusSetup, info.Status)
}

func TestManagerOpenPropagatesBuildError(t *testing.T) {
	m := NewManager(time.Minute)
	boom := errors.New("boom")
	_, _, err := m.Open("s1", func() (*interview.Controller, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	_, err = m.Get("s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerCloseRemovesRoom(t *testing.T) {
	m := NewManager(time.Minute)
	_, _, err := m.Open("s1", newController("s1"))
	require.NoError(t, err)

	require.NoError(t, m.Close("s1"))
	assert.ErrorIs(t, m.Close("s1"), ErrNotFound)
	assert.ErrorIs(t, m.Touch("s1"), ErrNotFound)
	assert.Zero(t, m.ActiveCount())
}

func TestManagerJanitorExpiresIdleRooms(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	var expired atomic.Int32
	m.SetExpireHook(func(RoomInfo) { expired.Add(1) })

	_, _, err := m.Open("idle", newController("idle"))
	require.NoError(t, err)
	_, _, err = m.Open("watched", newController("watched"))
	require.NoError(t, err)
	detach, err := m.Attach("watched")
	require.NoError(t, err)
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool { return expired.Load() == 1 }, time.Second, 5*time.Millisecond)
	_, err = m.Get("idle")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get("watched")
	assert.NoError(t, err)
}

func TestManagerDetachIsIdempotent(t *testing.T) {
	m := NewManager(time.Minute)
	_, _, err := m.Open("s1", newController("s1"))
	require.NoError(t, err)

	detach, err := m.Attach("s1")
	require.NoError(t, err)
	detach()
	detach()

	info, err := m.Info("s1")
	require.NoError(t, err)
	assert.Zero(t, info.Clients)
}
