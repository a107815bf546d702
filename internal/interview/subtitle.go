package interview

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	defaultSubtitleTick  = 30 * time.Millisecond
	defaultSubtitleSlice = 2
)

type SubtitleOptions struct {
	Tick  time.Duration
	Slice int
	// OnReveal receives the visible text of the current turn after every
	// tick, and "" once a turn has been committed.
	OnReveal func(visible string)
	// OnCommit receives the full text of a finished turn.
	OnCommit func(text string)
}

type subtitleTurn struct {
	visible []rune
	buffer  []rune
	done    bool
	final   string
}

// SubtitleScheduler reveals streamed assistant text a few runes per tick and
// commits each turn once its text is fully shown. Turns drain in FIFO order
// and at most one drain loop runs at a time.
//
// Callbacks run outside the scheduler lock, one at a time and in turn order,
// and the next tick is scheduled only after they return.
type SubtitleScheduler struct {
	tick     time.Duration
	slice    int
	onReveal func(string)
	onCommit func(string)

	// emitMu serializes callback delivery between ticks and Flush. It is
	// taken before mu.
	emitMu sync.Mutex

	mu      sync.Mutex
	turns   []*subtitleTurn
	running bool
	stopped bool
	epoch   uint64
	timer   *time.Timer
	idle    chan struct{}
}

func NewSubtitleScheduler(opts SubtitleOptions) *SubtitleScheduler {
	if opts.Tick <= 0 {
		opts.Tick = defaultSubtitleTick
	}
	if opts.Slice <= 0 {
		opts.Slice = defaultSubtitleSlice
	}
	idle := make(chan struct{})
	close(idle)
	return &SubtitleScheduler{
		tick:     opts.Tick,
		slice:    opts.Slice,
		onReveal: opts.OnReveal,
		onCommit: opts.OnCommit,
		idle:     idle,
	}
}

// Push appends streamed text to the open turn, starting a new turn when the
// previous one is already complete.
func (s *SubtitleScheduler) Push(delta string) {
	if delta == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	t := s.openTurnLocked()
	t.buffer = append(t.buffer, []rune(delta)...)
	s.kickLocked()
}

// Complete marks the open turn as finished. full is the authoritative text;
// when empty the revealed text is committed instead.
func (s *SubtitleScheduler) Complete(full string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	t := s.openTurnLocked()
	t.done = true
	t.final = full
	s.kickLocked()
}

// Visible is the text currently shown for the front turn.
func (s *SubtitleScheduler) Visible() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) == 0 {
		return ""
	}
	return string(s.turns[0].visible)
}

// Pending counts buffered runes not yet revealed.
func (s *SubtitleScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.turns {
		n += len(t.buffer)
	}
	return n
}

// Idle returns a channel closed once nothing is left to reveal or commit.
// A new channel is issued when work arrives.
func (s *SubtitleScheduler) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// WaitIdle blocks until the scheduler is drained or ctx is done.
func (s *SubtitleScheduler) WaitIdle(ctx context.Context) error {
	select {
	case <-s.Idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush commits every outstanding turn at once and leaves the scheduler
// idle. A completed turn commits its final text; a turn still streaming
// commits everything received so far, revealed or not.
func (s *SubtitleScheduler) Flush() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	turns := s.turns
	s.turns = nil
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
	}
	s.running = false
	s.markIdleLocked()
	s.mu.Unlock()

	if len(turns) == 0 {
		return
	}
	for _, t := range turns {
		text := t.final
		if strings.TrimSpace(text) == "" {
			text = string(t.visible) + string(t.buffer)
		}
		if (t.done || strings.TrimSpace(text) != "") && s.onCommit != nil {
			s.onCommit(text)
		}
	}
	if s.onReveal != nil {
		s.onReveal("")
	}
}

// Stop discards pending text. Uncommitted turns are dropped.
func (s *SubtitleScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
	}
	s.turns = nil
	s.running = false
	s.markIdleLocked()
}

func (s *SubtitleScheduler) openTurnLocked() *subtitleTurn {
	if n := len(s.turns); n > 0 && !s.turns[n-1].done {
		return s.turns[n-1]
	}
	t := &subtitleTurn{}
	s.turns = append(s.turns, t)
	return t
}

func (s *SubtitleScheduler) kickLocked() {
	if s.running {
		return
	}
	s.running = true
	select {
	case <-s.idle:
		s.idle = make(chan struct{})
	default:
	}
	s.scheduleLocked()
}

func (s *SubtitleScheduler) scheduleLocked() {
	epoch := s.epoch
	s.timer = time.AfterFunc(s.tick, func() { s.step(epoch) })
}

func (s *SubtitleScheduler) markIdleLocked() {
	select {
	case <-s.idle:
	default:
		close(s.idle)
	}
}

func (s *SubtitleScheduler) hasWorkLocked() bool {
	if len(s.turns) == 0 {
		return false
	}
	front := s.turns[0]
	return len(front.buffer) > 0 || front.done
}

// step runs one tick of the drain loop started in epoch. Flush and Stop
// advance the epoch, which retires any tick already in flight.
func (s *SubtitleScheduler) step(epoch uint64) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.stopped || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	var (
		reveal    string
		hasReveal bool
		commit    string
		hasCommit bool
	)
	if len(s.turns) > 0 {
		t := s.turns[0]
		switch {
		case len(t.buffer) > 0:
			n := min(s.slice, len(t.buffer))
			t.visible = append(t.visible, t.buffer[:n]...)
			t.buffer = t.buffer[n:]
			reveal, hasReveal = string(t.visible), true
		case t.done:
			commit = t.final
			if strings.TrimSpace(commit) == "" {
				commit = string(t.visible)
			}
			hasCommit = true
			s.turns = s.turns[1:]
			reveal, hasReveal = "", true
		}
	}
	s.mu.Unlock()

	if hasCommit && s.onCommit != nil {
		s.onCommit(commit)
	}
	if hasReveal && s.onReveal != nil {
		s.onReveal(reveal)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.epoch != epoch {
		return
	}
	if s.hasWorkLocked() {
		s.scheduleLocked()
		return
	}
	s.running = false
	s.markIdleLocked()
}
