package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ent0n29/screener/internal/config"
	"github.com/ent0n29/screener/internal/evaluation"
	"github.com/ent0n29/screener/internal/interview"
	"github.com/ent0n29/screener/internal/observability"
	"github.com/ent0n29/screener/internal/protocol"
	"github.com/ent0n29/screener/internal/realtime"
	"github.com/ent0n29/screener/internal/records"
	"github.com/ent0n29/screener/internal/session"
)

type Runner interface {
	RunConnection(ctx context.Context, room *session.Room, inbound <-chan any, outbound chan<- any) error
}

type Evaluator interface {
	Evaluate(ctx context.Context, sessionID, apiKey string) (evaluation.Result, error)
}

// RoomFactory builds the controller of a newly opened interview room.
type RoomFactory func(rec records.SessionRecord, tmpl records.Template, mode realtime.Mode) (*interview.Controller, error)

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	runner    Runner
	store     records.Store
	evaluator Evaluator
	newRoom   RoomFactory
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
	now       func() time.Time
}

type Deps struct {
	Sessions  *session.Manager
	Runner    Runner
	Store     records.Store
	Evaluator Evaluator
	NewRoom   RoomFactory
	Metrics   *observability.Metrics
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:       cfg,
		sessions:  deps.Sessions,
		runner:    deps.Runner,
		store:     deps.Store,
		evaluator: deps.Evaluator,
		newRoom:   deps.NewRoom,
		metrics:   deps.Metrics,
		now:       time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a candidate's microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/interviews/{id}", s.handleGetInterview)
	r.Post("/v1/interviews/{id}/start", s.handleStartInterview)
	r.Get("/v1/interviews/{id}/state", s.handleInterviewState)
	r.Get("/v1/interviews/{id}/ws", s.handleInterviewWS)
	r.Post("/v1/interviews/{id}/end", s.handleEndInterview)
	r.Post("/v1/evaluate", s.handleEvaluate)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return otelhttp.NewHandler(r, "screener",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/metrics" }),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_rooms": s.sessions.ActiveCount(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"store_mode":      s.storeMode(),
		"auto_evaluate":   s.cfg.InterviewAutoEvaluate,
		"realtime_model":  s.cfg.RealtimeModel,
		"session_limit_s": int(s.cfg.InterviewSessionLimit.Seconds()),
	})
}

type interviewInfo struct {
	SessionID      string                `json:"session_id"`
	CandidateName  string                `json:"candidate_name"`
	JobTitle       string                `json:"job_title"`
	JobDescription string                `json:"job_description,omitempty"`
	AllowedModes   records.AllowedModes  `json:"allowed_modes"`
	Status         records.SessionStatus `json:"status"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	ExpiresAt      *time.Time            `json:"expires_at,omitempty"`
}

type startRequest struct {
	Mode realtime.Mode `json:"mode"`
}

type startResponse struct {
	SessionID string             `json:"session_id"`
	Created   bool               `json:"created"`
	StartedAt time.Time          `json:"started_at"`
	WSPath    string             `json:"ws_path"`
	State     interview.Snapshot `json:"state"`
}

type evaluateRequest struct {
	SessionID string `json:"sessionId"`
}

type evaluateResponse struct {
	SessionID  string             `json:"session_id"`
	Evaluation records.Evaluation `json:"evaluation"`
	Cached     bool               `json:"cached"`
}

func (s *Server) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	rec, tmpl, ok := s.loadInterview(w, r)
	if !ok {
		return
	}
	if err := interview.Admit(rec, s.now(), s.cfg.InterviewSessionLimit); err != nil {
		respondAdmissionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, interviewInfo{
		SessionID:      rec.ID,
		CandidateName:  rec.CandidateName,
		JobTitle:       tmpl.JobTitle,
		JobDescription: tmpl.JobDescription,
		AllowedModes:   rec.AllowedModes,
		Status:         rec.Status,
		StartedAt:      rec.StartedAt,
		ExpiresAt:      rec.ExpiresAt,
	})
}

func (s *Server) handleStartInterview(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if s.newRoom == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "interview rooms not configured")
		return
	}
	rec, tmpl, ok := s.loadInterview(w, r)
	if !ok {
		return
	}
	now := s.now()
	if err := interview.Admit(rec, now, s.cfg.InterviewSessionLimit); err != nil {
		respondAdmissionError(w, err)
		return
	}

	startedAt, err := s.store.MarkStarted(r.Context(), rec.ID, now.UTC())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	rec.StartedAt = &startedAt

	room, created, err := s.sessions.Open(rec.ID, func() (*interview.Controller, error) {
		return s.newRoom(rec, tmpl, req.Mode)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "room_failed", err.Error())
		return
	}
	if created {
		s.metrics.SessionEvent("room_opened")
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, startResponse{
		SessionID: rec.ID,
		Created:   created,
		StartedAt: startedAt,
		WSPath:    "/v1/interviews/" + url.PathEscape(rec.ID) + "/ws",
		State:     room.Controller.Snapshot(),
	})
}

func (s *Server) handleInterviewState(w http.ResponseWriter, r *http.Request) {
	room, ok := s.room(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, room.Controller.Snapshot())
}

func (s *Server) handleEndInterview(w http.ResponseWriter, r *http.Request) {
	room, ok := s.room(w, r)
	if !ok {
		return
	}
	_ = s.sessions.Touch(room.ID)
	if err := room.Controller.End(); err != nil {
		respondError(w, http.StatusConflict, "not_live", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, room.Controller.Snapshot())
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.evaluator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "evaluation not configured")
		return
	}
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be JSON with sessionId")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "sessionId is required")
		return
	}

	res, err := s.evaluator.Evaluate(r.Context(), req.SessionID, r.Header.Get("x-openai-key"))
	switch {
	case err == nil:
	case errors.Is(err, evaluation.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	case errors.Is(err, evaluation.ErrNoTranscript):
		respondError(w, http.StatusBadRequest, "no_transcript", err.Error())
		return
	case errors.Is(err, evaluation.ErrMissingAPIKey):
		respondError(w, http.StatusBadRequest, "missing_api_key", err.Error())
		return
	default:
		respondError(w, http.StatusBadGateway, "evaluation_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, evaluateResponse{SessionID: req.SessionID, Evaluation: res.Evaluation, Cached: res.Cached})
}

func (s *Server) handleInterviewWS(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "runner not configured")
		return
	}
	room, ok := s.room(w, r)
	if !ok {
		return
	}
	detach, err := s.sessions.Attach(room.ID)
	if err != nil {
		respondError(w, http.StatusNotFound, "room_not_open", err.Error())
		return
	}
	defer detach()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.runner.RunConnection(ctx, room, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveWSWriteError("write_json")
					cancel()
					return
				}
				s.metrics.ObserveWSMessage("outbound", string(protocol.TypeOf(msg)))
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: room.ID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
				s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "queued")
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "drop_full")
			}
			continue
		}

		if t, ok := inboundTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

func (s *Server) loadInterview(w http.ResponseWriter, r *http.Request) (records.SessionRecord, records.Template, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return records.SessionRecord{}, records.Template{}, false
	}
	rec, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, records.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", "interview session not found")
		return records.SessionRecord{}, records.Template{}, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return records.SessionRecord{}, records.Template{}, false
	}

	var tmpl records.Template
	if rec.TemplateID != "" {
		tmpl, err = s.store.GetTemplate(r.Context(), rec.TemplateID)
		if err != nil && !errors.Is(err, records.ErrNoTemplate) {
			respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
			return records.SessionRecord{}, records.Template{}, false
		}
	}
	return rec, tmpl, true
}

func (s *Server) room(w http.ResponseWriter, r *http.Request) (*session.Room, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	room, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "room_not_open", "interview has not been started")
		return nil, false
	}
	return room, true
}

func respondAdmissionError(w http.ResponseWriter, err error) {
	var notOpen *interview.NotYetOpenError
	switch {
	case errors.Is(err, interview.ErrRevoked):
		respondError(w, http.StatusForbidden, "revoked", err.Error())
	case errors.Is(err, interview.ErrAlreadyCompleted):
		respondError(w, http.StatusConflict, "already_completed", err.Error())
	case errors.As(err, &notOpen):
		respondError(w, http.StatusForbidden, "not_yet_open", err.Error())
	case errors.Is(err, interview.ErrLinkExpired):
		respondError(w, http.StatusGone, "link_expired", err.Error())
	case errors.Is(err, interview.ErrWindowElapsed):
		respondError(w, http.StatusGone, "window_elapsed", err.Error())
	default:
		respondError(w, http.StatusForbidden, "not_admitted", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) storeMode() string {
	if s.store == nil {
		return "disabled"
	}
	return s.store.Mode()
}

func inboundTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	default:
		return "", false
	}
}
