package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu     sync.Mutex
	state  webrtc.DataChannelState
	sent   []string
	closed int
}

func (f *fakeChannel) ReadyState() webrtc.DataChannelState { return f.state }

func (f *fakeChannel) SendText(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type disconnectRecorder struct {
	mu      sync.Mutex
	reasons []DisconnectReason
}

func (r *disconnectRecorder) record(reason DisconnectReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *disconnectRecorder) all() []DisconnectReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DisconnectReason(nil), r.reasons...)
}

func TestDisconnectNeverOpenedIsNoop(t *testing.T) {
	rec := &disconnectRecorder{}
	a := NewAdapter(Options{OnDisconnect: rec.record})
	a.Disconnect()
	a.Disconnect()
	assert.Empty(t, rec.all())
}

func TestDisconnectInvokesCallbackOnce(t *testing.T) {
	rec := &disconnectRecorder{}
	a := NewAdapter(Options{OnDisconnect: rec.record})
	ch := &fakeChannel{state: webrtc.DataChannelStateOpen}
	a.opened.Store(true)
	a.channel = ch

	a.Disconnect()
	a.Disconnect()

	assert.Equal(t, []DisconnectReason{DisconnectRequested}, rec.all())
	assert.Equal(t, 1, ch.closed)
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done() not closed after Disconnect")
	}
}

func TestRemoteTerminationReportsRemote(t *testing.T) {
	rec := &disconnectRecorder{}
	a := NewAdapter(Options{OnDisconnect: rec.record})
	a.opened.Store(true)

	a.terminate(DisconnectRemote)
	a.Disconnect()

	assert.Equal(t, []DisconnectReason{DisconnectRemote}, rec.all())
}

func TestSendTextMessageSendsItemThenResponse(t *testing.T) {
	a := NewAdapter(Options{})
	ch := &fakeChannel{state: webrtc.DataChannelStateOpen}
	a.channel = ch

	a.SendTextMessage("hello")

	require.Len(t, ch.sent, 2)
	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(ch.sent[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(ch.sent[1]), &second))
	assert.Equal(t, "conversation.item.create", first["type"])
	assert.Equal(t, "response.create", second["type"])
}

func TestSendEventWithoutOpenChannelDrops(t *testing.T) {
	a := NewAdapter(Options{})
	assert.NotPanics(t, func() { a.SendEvent(NewResponseCreate(nil)) })

	ch := &fakeChannel{state: webrtc.DataChannelStateConnecting}
	a.channel = ch
	a.SendEvent(NewResponseCreate(nil))
	assert.Empty(t, ch.sent)
}

func TestConnectReportsNegotiationRejection(t *testing.T) {
	var gotAuth, gotType, gotModel string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		http.Error(w, "invalid ephemeral key", http.StatusUnauthorized)
	}))
	defer ts.Close()

	rec := &disconnectRecorder{}
	a := NewAdapter(Options{BaseURL: ts.URL, Model: "gpt-4o-realtime-preview-2024-12-17", OnDisconnect: rec.record})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.Connect(ctx, "ek_test", nil)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr), "err = %v", err)
	assert.Equal(t, http.StatusUnauthorized, connErr.Status)
	assert.Equal(t, StageNegotiate, connErr.Stage)
	assert.Equal(t, "Bearer ek_test", gotAuth)
	assert.Equal(t, "application/sdp", gotType)
	assert.Equal(t, "gpt-4o-realtime-preview-2024-12-17", gotModel)

	a.Disconnect()
	assert.Empty(t, rec.all())
}
