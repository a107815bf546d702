package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/screener/internal/config"
	"github.com/ent0n29/screener/internal/evaluation"
	"github.com/ent0n29/screener/internal/interview"
	"github.com/ent0n29/screener/internal/live"
	"github.com/ent0n29/screener/internal/realtime"
	"github.com/ent0n29/screener/internal/records"
	"github.com/ent0n29/screener/internal/session"
)

type stubEvaluator struct {
	calls  int
	apiKey string
	res    evaluation.Result
	err    error
}

func (e *stubEvaluator) Evaluate(_ context.Context, _ string, apiKey string) (evaluation.Result, error) {
	e.calls++
	e.apiKey = apiKey
	return e.res, e.err
}

type testEnv struct {
	ts        *httptest.Server
	store     *records.InMemoryStore
	sessions  *session.Manager
	evaluator *stubEvaluator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		RoomInactivityTimeout: 2 * time.Minute,
		InterviewSessionLimit: 30 * time.Minute,
	}
	store := records.NewInMemoryStore()
	sessions := session.NewManager(cfg.RoomInactivityTimeout)
	evaluator := &stubEvaluator{}
	srv := New(cfg, Deps{
		Sessions:  sessions,
		Runner:    live.NewRunner(sessions, nil),
		Store:     store,
		Evaluator: evaluator,
		NewRoom: func(rec records.SessionRecord, tmpl records.Template, mode realtime.Mode) (*interview.Controller, error) {
			sc := interview.NewSessionContext(rec, tmpl, mode, time.Now(), 0)
			return interview.NewController(sc, interview.Config{}, interview.Deps{Store: store}), nil
		},
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		sessions.CloseAll()
	})
	return &testEnv{ts: ts, store: store, sessions: sessions, evaluator: evaluator}
}

func (e *testEnv) seed(t *testing.T, rec records.SessionRecord) string {
	t.Helper()
	ctx := context.Background()
	tmpl, err := e.store.CreateTemplate(ctx, records.Template{JobTitle: "Backend Engineer", JobDescription: "Go services"})
	require.NoError(t, err)
	rec.TemplateID = tmpl.ID
	if rec.CandidateName == "" {
		rec.CandidateName = "Ada"
	}
	created, err := e.store.CreateSession(ctx, rec)
	require.NoError(t, err)
	return created.ID
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	res, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, res)["status"])

	res, err = http.Get(env.ts.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, "in-memory", decodeBody(t, res)["store_mode"])
}

func TestGetInterviewAdmission(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, records.SessionRecord{})

	res, err := http.Get(env.ts.URL + "/v1/interviews/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, "Ada", body["candidate_name"])
	assert.Equal(t, "Backend Engineer", body["job_title"])
	assert.Equal(t, "audio_and_text", body["allowed_modes"])

	revoked := env.seed(t, records.SessionRecord{Status: records.StatusRevoked})
	res, err = http.Get(env.ts.URL + "/v1/interviews/" + revoked)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "revoked", decodeBody(t, res)["code"])

	past := time.Now().Add(-time.Hour)
	expired := env.seed(t, records.SessionRecord{ExpiresAt: &past})
	res, err = http.Get(env.ts.URL + "/v1/interviews/" + expired)
	require.NoError(t, err)
	assert.Equal(t, http.StatusGone, res.StatusCode)

	res, err = http.Get(env.ts.URL + "/v1/interviews/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestStartInterviewOpensRoomOnce(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, records.SessionRecord{})

	res, err := http.Post(env.ts.URL+"/v1/interviews/"+id+"/start", "application/json", strings.NewReader(`{"mode":"text"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, "/v1/interviews/"+id+"/ws", body["ws_path"])
	state := body["state"].(map[string]any)
	assert.Equal(t, "setup", state["status"])
	assert.Equal(t, "text", state["mode"])

	rec, err := env.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec.StartedAt)
	assert.Equal(t, records.StatusActive, rec.Status)
	firstStart := *rec.StartedAt

	res, err = http.Post(env.ts.URL+"/v1/interviews/"+id+"/start", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	rec, err = env.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, firstStart, *rec.StartedAt)
	assert.Equal(t, 1, env.sessions.ActiveCount())
}

func TestStateAndEndRequireRoom(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, records.SessionRecord{})

	res, err := http.Get(env.ts.URL + "/v1/interviews/" + id + "/state")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()

	res, err = http.Post(env.ts.URL+"/v1/interviews/"+id+"/start", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()

	res, err = http.Post(env.ts.URL+"/v1/interviews/"+id+"/end", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "not_live", decodeBody(t, res)["code"])
}

func TestEvaluateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.evaluator.res = evaluation.Result{Evaluation: records.Evaluation{OverallScore: 84, IsPassing: true}}

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/v1/evaluate", bytes.NewReader([]byte(`{"sessionId":"s1"}`)))
	require.NoError(t, err)
	req.Header.Set("x-openai-key", "sk-override")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, float64(84), body["evaluation"].(map[string]any)["overall_score"])
	assert.Equal(t, "sk-override", env.evaluator.apiKey)

	env.evaluator.err = evaluation.ErrSessionNotFound
	res, err = http.Post(env.ts.URL+"/v1/evaluate", "application/json", strings.NewReader(`{"sessionId":"nope"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()

	res, err = http.Post(env.ts.URL+"/v1/evaluate", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()
}

func TestInterviewWebsocket(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, records.SessionRecord{})
	res, err := http.Post(env.ts.URL+"/v1/interviews/"+id+"/start", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/interviews/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "state_snapshot", first["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "client_control", "action": "toggle_mic"}))
	var mic map[string]any
	require.NoError(t, conn.ReadJSON(&mic))
	assert.Equal(t, "mic_update", mic["type"])
	assert.Equal(t, true, mic["muted"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	var bad map[string]any
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, "error_event", bad["type"])
	assert.Equal(t, "invalid_client_message", bad["code"])
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, records.SessionRecord{})
	res, err := http.Post(env.ts.URL+"/v1/interviews/"+id+"/start", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/interviews/" + id + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPerfLatencyWithoutMetrics(t *testing.T) {
	env := newTestEnv(t)

	res, err := http.Get(env.ts.URL + "/v1/perf/latency")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, []any{}, body["stages"])
}
