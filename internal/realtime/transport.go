package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/screener/internal/media"
	"github.com/ent0n29/screener/internal/observability"
)

// ControlChannelLabel is the data channel the realtime endpoint expects.
const ControlChannelLabel = "oai-events"

const defaultRealtimeURL = "https://api.openai.com/v1/realtime"

// DisconnectReason tells the owner why an adapter went down.
type DisconnectReason int

const (
	// DisconnectRequested follows a local Disconnect call.
	DisconnectRequested DisconnectReason = iota
	// DisconnectRemote means the peer or network dropped the connection.
	DisconnectRemote
)

func (r DisconnectReason) String() string {
	if r == DisconnectRemote {
		return "remote"
	}
	return "requested"
}

// Transport is what a session needs from a realtime connection.
type Transport interface {
	Connect(ctx context.Context, credential string, stream *media.LocalStream) error
	Events() <-chan Event
	SendEvent(v any)
	SendTextMessage(text string)
	Disconnect()
}

type Options struct {
	// BaseURL is the realtime endpoint; the model is added as a query parameter.
	BaseURL     string
	Model       string
	HTTPClient  *http.Client
	ICEServers  []string
	Interpreter *Interpreter
	// Sink receives remote media. When nil the adapter creates a MeterSink.
	// Either way the adapter closes the sink when the connection ends.
	Sink         media.Sink
	OnDisconnect func(DisconnectReason)
	EventBuffer  int
	Metrics      *observability.Metrics
}

// controlChannel is the subset of *webrtc.DataChannel the adapter writes to.
type controlChannel interface {
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
	Close() error
}

// Adapter owns one WebRTC peer connection to the realtime endpoint.
type Adapter struct {
	opts   Options
	http   *http.Client
	interp *Interpreter
	events chan Event
	closed chan struct{}

	opened     atomic.Bool
	terminated atomic.Bool

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	channel controlChannel
	sink    media.Sink
}

func NewAdapter(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultRealtimeURL
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	a := &Adapter{
		opts:   opts,
		http:   opts.HTTPClient,
		interp: opts.Interpreter,
		events: make(chan Event, opts.EventBuffer),
		closed: make(chan struct{}),
	}
	if a.http == nil {
		a.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: 30 * time.Second}
	}
	if a.interp == nil {
		a.interp = NewInterpreter(EndInterviewTool)
	}
	return a
}

// Events delivers interpreted control channel messages in arrival order. The
// channel is never closed; use Done to observe termination.
func (a *Adapter) Events() <-chan Event { return a.events }

// Done is closed once the adapter has terminated.
func (a *Adapter) Done() <-chan struct{} { return a.closed }

// Connect negotiates the peer connection. On failure every pion object created
// so far is closed and a *ConnectionError is returned; the adapter does not
// retry.
func (a *Adapter) Connect(ctx context.Context, credential string, stream *media.LocalStream) error {
	ctx, span := tracer.Start(ctx, "realtime connect", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("request.model", a.opts.Model))

	if !a.opened.CompareAndSwap(false, true) {
		return &ConnectionError{Stage: StagePeer, Detail: "adapter already used"}
	}
	if a.terminated.Load() {
		return &ConnectionError{Stage: StagePeer, Detail: "adapter closed"}
	}

	err := a.connect(ctx, credential, stream)
	if err != nil {
		span.RecordError(err)
		// A failed adapter is finished without a disconnect notification; the
		// caller already learns about the failure from the returned error.
		if a.terminated.CompareAndSwap(false, true) {
			close(a.closed)
		}
		a.releasePeer()
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			err = &ConnectionError{Stage: StagePeer, Err: err}
		}
		return err
	}
	return nil
}

func (a *Adapter) connect(ctx context.Context, credential string, stream *media.LocalStream) error {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return &ConnectionError{Stage: StagePeer, Err: err}
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	var iceServers []webrtc.ICEServer
	if len(a.opts.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: a.opts.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return &ConnectionError{Stage: StagePeer, Err: err}
	}

	sink := a.opts.Sink
	if sink == nil {
		sink = media.NewMeterSink()
	}
	a.mu.Lock()
	if a.terminated.Load() {
		a.mu.Unlock()
		_ = pc.Close()
		return &ConnectionError{Stage: StagePeer, Detail: "adapter closed"}
	}
	a.pc = pc
	a.sink = sink
	a.mu.Unlock()

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go a.pumpRemote(track, sink)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("component", "realtime").Str("state", state.String()).Msg("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			a.terminate(DisconnectRemote)
		}
	})

	tracks := stream.Tracks()
	if len(tracks) == 0 {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return &ConnectionError{Stage: StageMedia, Err: err}
		}
	}
	for _, t := range tracks {
		sender, err := pc.AddTrack(t)
		if err != nil {
			return &ConnectionError{Stage: StageMedia, Err: err}
		}
		go drainRTCP(sender)
	}

	dc, err := pc.CreateDataChannel(ControlChannelLabel, nil)
	if err != nil {
		return &ConnectionError{Stage: StagePeer, Err: err}
	}
	dc.OnOpen(func() {
		a.deliver(ChannelReady{})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		for _, ev := range a.interp.Interpret(msg.Data) {
			a.opts.Metrics.ObserveControlMessage("inbound", string(ev.Kind()))
			a.deliver(ev)
		}
	})
	a.mu.Lock()
	a.channel = dc
	a.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return &ConnectionError{Stage: StageNegotiate, Err: err}
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return &ConnectionError{Stage: StageNegotiate, Err: err}
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return &ConnectionError{Stage: StageNegotiate, Detail: "ice gathering", Err: ctx.Err()}
	}

	answer, err := a.exchangeSDP(ctx, credential, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return &ConnectionError{Stage: StageAnswer, Err: err}
	}
	return nil
}

func (a *Adapter) exchangeSDP(ctx context.Context, credential, offer string) (string, error) {
	endpoint := a.opts.BaseURL
	if a.opts.Model != "" {
		endpoint += "?model=" + url.QueryEscape(a.opts.Model)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", &ConnectionError{Stage: StageNegotiate, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", &ConnectionError{Stage: StageNegotiate, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &ConnectionError{Stage: StageAnswer, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.opts.Metrics.ObserveProviderError("realtime", fmt.Sprintf("sdp_%d", resp.StatusCode))
		return "", &ConnectionError{Stage: StageNegotiate, Status: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}
	if len(body) == 0 {
		return "", &ConnectionError{Stage: StageAnswer, Status: resp.StatusCode, Detail: "empty SDP answer"}
	}
	return string(body), nil
}

// SendEvent serializes v onto the control channel. Nothing is sent while the
// channel is not open.
func (a *Adapter) SendEvent(v any) {
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()

	kind := outboundKind(v)
	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		log.Warn().Str("component", "realtime").Str("event", kind).Msg("control channel not open; event dropped")
		a.opts.Metrics.ObserveControlMessage("outbound_dropped", kind)
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("component", "realtime").Str("event", kind).Msg("encode control event")
		return
	}
	if err := ch.SendText(string(payload)); err != nil {
		log.Warn().Err(err).Str("component", "realtime").Str("event", kind).Msg("send control event")
		return
	}
	a.opts.Metrics.ObserveControlMessage("outbound", kind)
}

// SendTextMessage submits a typed user turn and asks for a response.
func (a *Adapter) SendTextMessage(text string) {
	a.SendEvent(NewUserText(text))
	a.SendEvent(NewResponseCreate(nil))
}

// Disconnect closes the connection. It is a no-op on an adapter that never
// connected or already terminated.
func (a *Adapter) Disconnect() {
	if !a.opened.Load() {
		return
	}
	a.terminate(DisconnectRequested)
}

// terminate runs once. pion may re-enter through OnConnectionStateChange while
// the peer connection closes, so the guard is a CAS rather than sync.Once.
func (a *Adapter) terminate(reason DisconnectReason) {
	if !a.terminated.CompareAndSwap(false, true) {
		return
	}
	close(a.closed)
	a.releasePeer()
	log.Debug().Str("component", "realtime").Str("reason", reason.String()).Msg("realtime adapter closed")
	if a.opts.OnDisconnect != nil {
		a.opts.OnDisconnect(reason)
	}
}

func (a *Adapter) releasePeer() {
	a.mu.Lock()
	pc, ch, sink := a.pc, a.channel, a.sink
	a.pc, a.channel, a.sink = nil, nil, nil
	a.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Debug().Err(err).Str("component", "realtime").Msg("close peer connection")
		}
	}
	if sink != nil {
		_ = sink.Close()
	}
}

func (a *Adapter) deliver(ev Event) {
	select {
	case <-a.closed:
	case a.events <- ev:
	}
}

func (a *Adapter) pumpRemote(track *webrtc.TrackRemote, sink media.Sink) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := sink.WriteRTP(pkt); err != nil {
			return
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func outboundKind(v any) string {
	switch m := v.(type) {
	case SessionUpdate:
		return m.Type
	case ConversationItemCreate:
		return m.Type
	case ResponseCreate:
		return m.Type
	default:
		return "custom"
	}
}
