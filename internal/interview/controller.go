package interview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/screener/internal/credential"
	"github.com/ent0n29/screener/internal/media"
	"github.com/ent0n29/screener/internal/observability"
	"github.com/ent0n29/screener/internal/policy"
	"github.com/ent0n29/screener/internal/realtime"
	"github.com/ent0n29/screener/internal/records"
	"github.com/ent0n29/screener/internal/reliability"
)

// CredentialIssuer exchanges the long-lived key for a session credential.
type CredentialIssuer interface {
	RequestSessionCredential(ctx context.Context, apiKey, systemPrompt string) (credential.Credential, error)
}

// Evaluator starts grading of a persisted interview.
type Evaluator interface {
	RequestEvaluation(ctx context.Context, sessionID string) error
}

// TranscriptStore receives the final transcript.
type TranscriptStore interface {
	UpdateSessionRecord(ctx context.Context, id string, f records.Fields) error
}

type Config struct {
	APIKey             string
	RealtimeURL        string
	RealtimeModel      string
	Voice              string
	TranscriptionModel string
	ICEServers         []string

	SessionLimit   time.Duration
	ConnectTimeout time.Duration
	FinalizeGrace  time.Duration
	DrainTimeout   time.Duration
	PersistTimeout time.Duration

	SubtitleTick  time.Duration
	SubtitleSlice int

	AutoEvaluate       bool
	ForwardRemoteAudio bool
}

type Deps struct {
	Credentials CredentialIssuer
	Media       media.Source
	// NewTransport builds one transport per connection attempt. Defaults to
	// a WebRTC adapter.
	NewTransport func(realtime.Options) realtime.Transport
	Store        TranscriptStore
	Evaluator    Evaluator
	Metrics      *observability.Metrics
	Now          func() time.Time
}

// connection is everything owned by one connection attempt. Its fields are
// written under Controller.mu while attached and frozen once detached.
type connection struct {
	id        string
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time

	transport realtime.Transport
	stream    *media.LocalStream
	subtitles *SubtitleScheduler
	timer     *time.Timer

	// responses counts AI turns started; doneAt holds that count as seen by
	// each completed turn still waiting to be committed.
	responses uint64
	doneAt    []uint64

	finalizing bool
	closing    bool
}

// Controller drives one interview: it connects the realtime transport,
// interprets its events into status and transcript changes, and finalizes
// the session exactly once.
type Controller struct {
	sc   SessionContext
	cfg  Config
	deps Deps
	now  func() time.Time

	mu            sync.Mutex
	status        Status
	activity      Activity
	transcript    []Entry
	subtitle      string
	micMuted      bool
	errMsg        string
	evalState     EvaluationState
	evalRequested bool
	deadline      time.Time
	gen           uint64
	conn          *connection

	// notifyMu orders delivery to observers; it is taken before mu is
	// released so updates reach observers in state order.
	notifyMu  sync.Mutex
	observers map[uint64]func(Update)
	nextObs   uint64
}

func NewController(sc SessionContext, cfg Config, deps Deps) *Controller {
	if cfg.SessionLimit <= 0 {
		cfg.SessionLimit = DefaultSessionLimit
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 20 * time.Second
	}
	if cfg.FinalizeGrace < 0 {
		cfg.FinalizeGrace = 0
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if sc.Mode == "" {
		sc.Mode = realtime.ModeVoice
	}
	if deps.NewTransport == nil {
		deps.NewTransport = func(o realtime.Options) realtime.Transport { return realtime.NewAdapter(o) }
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		sc:        sc,
		cfg:       cfg,
		deps:      deps,
		now:       now,
		status:    StatusSetup,
		activity:  ActivityIdle,
		evalState: EvaluationNone,
		observers: make(map[uint64]func(Update)),
	}
}

func (c *Controller) SessionID() string { return c.sc.SessionID }

func (c *Controller) Context() SessionContext { return c.sc }

// Subscribe registers fn for every later update and returns its cancel
// function. fn runs synchronously and must not call back into the
// Controller.
func (c *Controller) Subscribe(fn func(Update)) func() {
	c.notifyMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.notifyMu.Unlock()
	return func() {
		c.notifyMu.Lock()
		delete(c.observers, id)
		c.notifyMu.Unlock()
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		SessionID:  c.sc.SessionID,
		Status:     c.status,
		Activity:   c.activity,
		Mode:       c.sc.Mode,
		MicMuted:   c.micMuted,
		Error:      c.errMsg,
		Subtitle:   c.subtitle,
		Transcript: append([]Entry{}, c.transcript...),
		Evaluation: c.evalState,
	}
	if !c.deadline.IsZero() {
		d := c.deadline
		s.Deadline = &d
	}
	return s
}

// Live reports whether a connection attempt or live session exists.
func (c *Controller) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect starts the interview. It blocks until the realtime session is live
// or the attempt failed; on failure the status is error and every resource
// acquired so far is released.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.conn != nil:
		c.mu.Unlock()
		return ErrAlreadyLive
	case c.status == StatusCompleted:
		c.mu.Unlock()
		return ErrSessionCompleted
	}
	c.gen++
	hctx, cancel := context.WithCancel(context.Background())
	h := &connection{
		id:        uuid.NewString(),
		gen:       c.gen,
		ctx:       hctx,
		cancel:    cancel,
		startedAt: c.now(),
	}
	c.conn = h
	c.status = StatusConnecting
	c.activity = ActivityIdle
	c.errMsg = ""
	c.subtitle = ""
	c.transcript = nil
	c.unlockAndPublish(c.statusUpdateLocked())

	c.logger(h).Info().Str("mode", string(c.sc.Mode)).Msg("connecting interview")
	c.deps.Metrics.SessionEvent("connect_started")

	if err := c.establish(ctx, h); err != nil {
		c.failConnect(h, err)
		return err
	}
	c.deps.Metrics.SessionEvent("connected")
	c.deps.Metrics.ObserveConnectLatency(c.now().Sub(h.startedAt))
	return nil
}

func (c *Controller) establish(ctx context.Context, h *connection) error {
	ctx, span := tracer.Start(ctx, "interview connect")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	if c.deps.Credentials == nil {
		return errors.New("no credential issuer configured")
	}
	cred, err := c.deps.Credentials.RequestSessionCredential(ctx, c.cfg.APIKey, BuildSystemPrompt(c.sc))
	if err != nil {
		span.RecordError(err)
		return err
	}

	src := c.deps.Media
	if src == nil {
		src = media.PCMUSource{}
	}
	stream, err := src.Acquire(ctx, media.Constraints{Audio: true})
	if err != nil {
		span.RecordError(err)
		return &realtime.ConnectionError{Stage: realtime.StageMedia, Err: err}
	}

	var sink media.Sink
	if c.cfg.ForwardRemoteAudio {
		sink = media.NewFuncSink(func(pkt *rtp.Packet) {
			c.publish(Update{Kind: UpdateRemoteAudio, Audio: append([]byte(nil), pkt.Payload...)})
		})
	}
	transport := c.deps.NewTransport(realtime.Options{
		BaseURL:      c.cfg.RealtimeURL,
		Model:        c.cfg.RealtimeModel,
		ICEServers:   c.cfg.ICEServers,
		Interpreter:  realtime.NewInterpreter(realtime.EndInterviewTool),
		Sink:         sink,
		OnDisconnect: func(r realtime.DisconnectReason) { c.onTransportDown(h, r) },
		Metrics:      c.deps.Metrics,
	})

	c.mu.Lock()
	if c.conn != h {
		c.mu.Unlock()
		_ = stream.Close()
		return errSuperseded
	}
	h.stream = stream
	h.transport = transport
	stream.SetAudioEnabled(!c.micMuted)
	h.subtitles = NewSubtitleScheduler(SubtitleOptions{
		Tick:     c.cfg.SubtitleTick,
		Slice:    c.cfg.SubtitleSlice,
		OnReveal: func(v string) { c.onSubtitle(h, v) },
		OnCommit: func(text string) { c.onAssistantCommit(h, text) },
	})
	c.mu.Unlock()

	if err := transport.Connect(ctx, cred.Value, stream); err != nil {
		span.RecordError(err)
		return err
	}

	c.mu.Lock()
	if c.conn != h {
		c.mu.Unlock()
		return errSuperseded
	}
	c.status = StatusActive
	c.activity = ActivityListening
	start := c.sc.StartedAt
	if start.IsZero() {
		start = h.startedAt
	}
	c.deadline = start.Add(c.cfg.SessionLimit)
	remaining := c.deadline.Sub(c.now())
	if remaining < 0 {
		remaining = 0
	}
	h.timer = time.AfterFunc(remaining, func() { c.finalize(h, TriggerTimer) })
	events := transport.Events()
	go c.pump(h, events)
	c.unlockAndPublish(c.statusUpdateLocked(), c.activityUpdateLocked())

	c.logger(h).Info().Dur("remaining", remaining).Msg("interview live")
	return nil
}

func (c *Controller) failConnect(h *connection, err error) {
	c.mu.Lock()
	if c.conn != h {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	h.closing = true
	c.status = StatusError
	c.activity = ActivityIdle
	c.errMsg = describeConnectError(err)
	c.unlockAndPublish(c.statusUpdateLocked(), c.activityUpdateLocked())

	c.release(h)
	c.deps.Metrics.SessionEvent("connect_failed")
	c.logger(h).Warn().Err(err).Msg("interview connect failed")
}

// release tears down a detached connection. It must run without c.mu held;
// Disconnect may re-enter through the transport callback.
func (c *Controller) release(h *connection) {
	h.cancel()
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.subtitles != nil {
		h.subtitles.Stop()
	}
	if h.transport != nil {
		h.transport.Disconnect()
	}
	if h.stream != nil {
		_ = h.stream.Close()
	}
}

func (c *Controller) onTransportDown(h *connection, reason realtime.DisconnectReason) {
	if reason == realtime.DisconnectRequested {
		return
	}
	c.mu.Lock()
	if c.conn != h || h.closing || h.finalizing {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	h.closing = true
	c.status = StatusError
	c.activity = ActivityIdle
	c.subtitle = ""
	c.errMsg = "The connection to the interviewer was lost."
	c.unlockAndPublish(c.statusUpdateLocked(), c.activityUpdateLocked())

	c.release(h)
	c.deps.Metrics.SessionEvent("connection_lost")
	c.logger(h).Warn().Msg("realtime connection lost")
}

func (c *Controller) pump(h *connection, events <-chan realtime.Event) {
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(h, ev)
		}
	}
}

func (c *Controller) handleEvent(h *connection, ev realtime.Event) {
	c.mu.Lock()
	if c.conn != h || c.status != StatusActive {
		c.mu.Unlock()
		return
	}

	var (
		updates  []Update
		outbound []any
		end      bool
	)
	switch e := ev.(type) {
	case realtime.ChannelReady:
		outbound = append(outbound,
			realtime.NewSessionUpdate(realtime.SessionSettings{
				Mode:               c.sc.Mode,
				Instructions:       BuildSystemPrompt(c.sc),
				Voice:              c.cfg.Voice,
				TranscriptionModel: c.cfg.TranscriptionModel,
			}),
			realtime.NewResponseCreate(&realtime.ResponseConfig{
				Modalities:   realtime.Modalities(c.sc.Mode),
				Instructions: GreetingInstructions(c.sc),
			}),
		)
	case realtime.UserStartedSpeaking:
		updates = c.setActivityLocked(ActivityListening)
	case realtime.AIThinking:
		h.responses++
		updates = c.setActivityLocked(ActivityThinking)
	case realtime.AISpeaking:
		updates = c.setActivityLocked(ActivitySpeaking)
	case realtime.TranscriptDelta:
		h.subtitles.Push(e.Text)
	case realtime.TranscriptDone:
		h.doneAt = append(h.doneAt, h.responses)
		h.subtitles.Complete(e.Text)
	case realtime.UserTranscriptDone:
		if u, ok := c.appendLocked(SpeakerUser, e.Text); ok {
			updates = append(updates, u)
			c.logger(h).Debug().Str("text", policy.RedactForLog(e.Text, 160, c.sc.CandidateName)).Msg("candidate utterance")
		}
	case realtime.ToolInvoked:
		end = e.Name == realtime.EndInterviewTool
	case realtime.ServerError:
		c.logger(h).Warn().
			Str("type", e.Type).
			Str("code", e.Code).
			Bool("retryable", reliability.IsRetryableRealtimeErrorType(e.Type)).
			Msg(e.Message)
		c.deps.Metrics.ObserveProviderError("realtime", e.Code)
	case realtime.Unclassified:
		c.logger(h).Debug().Str("type", e.Type).Msg("unhandled realtime event")
	}
	transport := h.transport
	c.unlockAndPublish(updates...)

	for _, msg := range outbound {
		transport.SendEvent(msg)
	}
	if end {
		go c.finalize(h, TriggerTool)
	}
}

func (c *Controller) onSubtitle(h *connection, visible string) {
	c.mu.Lock()
	if c.conn != h {
		c.mu.Unlock()
		return
	}
	c.subtitle = visible
	c.unlockAndPublish(Update{Kind: UpdateSubtitle, Subtitle: visible})
}

func (c *Controller) onAssistantCommit(h *connection, text string) {
	c.mu.Lock()
	if c.conn != h {
		c.mu.Unlock()
		return
	}
	var updates []Update
	if u, ok := c.appendLocked(SpeakerAssistant, text); ok {
		updates = append(updates, u)
	}
	seq := h.responses
	if len(h.doneAt) > 0 {
		seq, h.doneAt = h.doneAt[0], h.doneAt[1:]
	}
	// A newer turn already owns the activity state.
	if c.status == StatusActive && seq == h.responses {
		updates = append(updates, c.setActivityLocked(ActivityListening)...)
	}
	c.unlockAndPublish(updates...)
}

// End finalizes a live interview on the candidate's request. It returns once
// finalization has finished or another trigger already owns it.
func (c *Controller) End() error {
	c.mu.Lock()
	h := c.conn
	live := h != nil && c.status == StatusActive
	c.mu.Unlock()
	if !live {
		return ErrNotLive
	}
	c.finalize(h, TriggerUser)
	return nil
}

// Reset discards all session state and tears down any connection. Calling it
// on an idle controller has no further effect.
func (c *Controller) Reset() {
	c.mu.Lock()
	h := c.conn
	c.conn = nil
	if h != nil {
		h.closing = true
	}
	c.gen++
	c.status = StatusSetup
	c.activity = ActivityIdle
	c.transcript = nil
	c.subtitle = ""
	c.micMuted = false
	c.errMsg = ""
	c.evalRequested = false
	c.evalState = EvaluationNone
	c.deadline = time.Time{}
	c.unlockAndPublish(Update{Kind: UpdateReset, Status: StatusSetup, Activity: ActivityIdle, Evaluation: EvaluationNone})

	if h != nil {
		c.release(h)
		c.logger(h).Info().Msg("interview reset")
	}
}

// ToggleMic flips the microphone flag and applies it to the live stream, if
// any. It returns the new muted state.
func (c *Controller) ToggleMic() bool {
	c.mu.Lock()
	c.micMuted = !c.micMuted
	muted := c.micMuted
	if c.conn != nil && c.conn.stream != nil {
		c.conn.stream.SetAudioEnabled(!muted)
	}
	c.unlockAndPublish(Update{Kind: UpdateMic, MicMuted: muted})
	return muted
}

// SendText submits a typed answer.
func (c *Controller) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if c.sc.AllowedModes == records.ModesAudioOnly {
		return ErrTextNotAllowed
	}
	c.mu.Lock()
	h := c.conn
	if h == nil || c.status != StatusActive || h.transport == nil || h.finalizing {
		c.mu.Unlock()
		return ErrNotLive
	}
	u, _ := c.appendLocked(SpeakerUser, text)
	transport := h.transport
	c.unlockAndPublish(u)

	transport.SendTextMessage(text)
	return nil
}

// WriteAudio feeds captured PCM16 audio into the live microphone stream.
func (c *Controller) WriteAudio(pcm []byte, sampleRate int) error {
	c.mu.Lock()
	var stream *media.LocalStream
	if c.conn != nil {
		stream = c.conn.stream
	}
	c.mu.Unlock()
	if stream == nil {
		return ErrNotLive
	}
	return stream.WritePCM16(pcm, sampleRate)
}

// RequestEvaluation starts grading of a completed interview. Only the first
// call after completion has an effect; it reports whether a request started.
func (c *Controller) RequestEvaluation() bool {
	c.mu.Lock()
	if c.evalRequested || c.status != StatusCompleted || c.sc.SessionID == "" || c.deps.Evaluator == nil {
		c.mu.Unlock()
		return false
	}
	c.evalRequested = true
	c.evalState = EvaluationPending
	gen := c.gen
	c.unlockAndPublish(Update{Kind: UpdateEvaluation, Evaluation: EvaluationPending})

	go func() {
		state := EvaluationDone
		if err := c.deps.Evaluator.RequestEvaluation(context.Background(), c.sc.SessionID); err != nil {
			state = EvaluationFailed
			evalErr := &EvaluationError{SessionID: c.sc.SessionID, Err: err}
			log.Error().Err(evalErr).Str("component", "interview").Str("session_id", c.sc.SessionID).Msg("evaluation request failed")
		}
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.evalState = state
		c.unlockAndPublish(Update{Kind: UpdateEvaluation, Evaluation: state})
	}()
	return true
}

func (c *Controller) appendLocked(speaker Speaker, text string) (Update, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Update{}, false
	}
	e := Entry{Speaker: speaker, Text: text}
	c.transcript = append(c.transcript, e)
	c.deps.Metrics.ObserveTranscriptEntry(string(speaker))
	return Update{Kind: UpdateTranscript, Entry: e}, true
}

func (c *Controller) setActivityLocked(a Activity) []Update {
	if c.activity == a {
		return nil
	}
	c.activity = a
	return []Update{c.activityUpdateLocked()}
}

func (c *Controller) statusUpdateLocked() Update {
	return Update{Kind: UpdateStatus, Status: c.status, Error: c.errMsg}
}

func (c *Controller) activityUpdateLocked() Update {
	return Update{Kind: UpdateActivity, Activity: c.activity}
}

// unlockAndPublish releases c.mu and delivers updates to observers.
func (c *Controller) unlockAndPublish(updates ...Update) {
	if len(updates) == 0 {
		c.mu.Unlock()
		return
	}
	c.notifyMu.Lock()
	c.mu.Unlock()
	c.deliverLocked(updates)
	c.notifyMu.Unlock()
}

func (c *Controller) publish(updates ...Update) {
	c.notifyMu.Lock()
	c.deliverLocked(updates)
	c.notifyMu.Unlock()
}

func (c *Controller) deliverLocked(updates []Update) {
	for _, u := range updates {
		for _, fn := range c.observers {
			fn(u)
		}
	}
}

func (c *Controller) logger(h *connection) *zerolog.Logger {
	l := log.With().
		Str("component", "interview").
		Str("session_id", c.sc.SessionID).
		Str("connection_id", h.id).
		Logger()
	return &l
}

func describeConnectError(err error) string {
	var credErr *credential.Error
	var connErr *realtime.ConnectionError
	switch {
	case errors.Is(err, credential.ErrInvalidKey):
		return "The interview service is not configured with a valid API key."
	case errors.Is(err, context.DeadlineExceeded):
		return "Connecting to the interviewer timed out. Please try again."
	case errors.Is(err, media.ErrPermissionDenied):
		return "Microphone access was denied."
	case errors.Is(err, media.ErrUnavailable):
		return "No microphone is available."
	case errors.As(err, &credErr):
		return "Could not start an interview session with the provider."
	case errors.As(err, &connErr):
		return "Could not connect to the interviewer."
	default:
		return "Could not start the interview."
	}
}
