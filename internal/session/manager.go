package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/screener/internal/interview"
)

var ErrNotFound = errors.New("room not found")

// Room binds one interview controller to the candidate connections that
// drive it. Rooms are keyed by interview session id.
type Room struct {
	ID         string
	Controller *interview.Controller

	openedAt       time.Time
	lastActivityAt time.Time
	clients        int
}

type Manager struct {
	mu                sync.RWMutex
	rooms             map[string]*Room
	inactivityTimeout time.Duration
	onExpire          func(RoomInfo)
	onChange          func(active int)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		rooms:             make(map[string]*Room),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(RoomInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// SetCountHook is called with the room count after every change.
func (m *Manager) SetCountHook(hook func(active int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = hook
}

// Open returns the room for id, creating it with build when absent.
func (m *Manager) Open(id string, build func() (*interview.Controller, error)) (*Room, bool, error) {
	m.mu.Lock()
	if r, ok := m.rooms[id]; ok {
		r.lastActivityAt = time.Now().UTC()
		m.mu.Unlock()
		return r, false, nil
	}
	m.mu.Unlock()

	ctrl, err := build()
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	m.mu.Lock()
	if r, ok := m.rooms[id]; ok {
		// Lost a race with a concurrent Open; the spare controller never
		// connected.
		r.lastActivityAt = now
		m.mu.Unlock()
		return r, false, nil
	}
	r := &Room{ID: id, Controller: ctrl, openedAt: now, lastActivityAt: now}
	m.rooms[id] = r
	count, hook := len(m.rooms), m.onChange
	m.mu.Unlock()

	if hook != nil {
		hook(count)
	}
	return r, true, nil
}

func (m *Manager) Get(id string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *Manager) Info(id string) (RoomInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return RoomInfo{}, ErrNotFound
	}
	return infoOf(r), nil
}

func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return ErrNotFound
	}
	r.lastActivityAt = time.Now().UTC()
	return nil
}

// Attach records a connected client and returns the detach function.
func (m *Manager) Attach(id string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.clients++
	r.lastActivityAt = time.Now().UTC()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			r.clients--
			r.lastActivityAt = time.Now().UTC()
		})
	}, nil
}

// Close removes the room and resets its controller.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	r, ok := m.rooms[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.rooms, id)
	count, hook := len(m.rooms), m.onChange
	m.mu.Unlock()

	r.Controller.Reset()
	if hook != nil {
		hook(count)
	}
	return nil
}

// CloseAll resets every room; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	hook := m.onChange
	m.mu.Unlock()

	for _, r := range rooms {
		r.Controller.Reset()
	}
	if hook != nil {
		hook(0)
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// expireInactive drops rooms with no clients and no live connection that
// have been quiet longer than the inactivity timeout.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Room

	m.mu.Lock()
	for id, r := range m.rooms {
		if r.clients > 0 || r.Controller.Live() {
			continue
		}
		if now.Sub(r.lastActivityAt) < m.inactivityTimeout {
			continue
		}
		delete(m.rooms, id)
		expired = append(expired, r)
	}
	hook, countHook, count := m.onExpire, m.onChange, len(m.rooms)
	m.mu.Unlock()

	for _, r := range expired {
		r.Controller.Reset()
		if hook != nil {
			hook(infoOf(r))
		}
	}
	if len(expired) > 0 && countHook != nil {
		countHook(count)
	}
}

func infoOf(r *Room) RoomInfo {
	snap := r.Controller.Snapshot()
	return RoomInfo{
		ID:             r.ID,
		Status:         snap.Status,
		Activity:       snap.Activity,
		Clients:        r.clients,
		OpenedAt:       r.openedAt,
		LastActivityAt: r.lastActivityAt,
	}
}
