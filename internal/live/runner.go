package live

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ent0n29/screener/internal/interview"
	"github.com/ent0n29/screener/internal/observability"
	"github.com/ent0n29/screener/internal/protocol"
	"github.com/ent0n29/screener/internal/session"
)

const (
	criticalSendTimeout = 600 * time.Millisecond
	defaultUpdateBuffer = 256
)

// Runner bridges one websocket client and an interview room.
type Runner struct {
	sessions     *session.Manager
	metrics      *observability.Metrics
	updateBuffer int
}

func NewRunner(sessions *session.Manager, metrics *observability.Metrics) *Runner {
	return &Runner{sessions: sessions, metrics: metrics, updateBuffer: defaultUpdateBuffer}
}

// RunConnection forwards controller updates to outbound and applies client
// messages from inbound until the client goes away or ctx ends.
func (r *Runner) RunConnection(ctx context.Context, room *session.Room, inbound <-chan any, outbound chan<- any) error {
	ctrl := room.Controller
	id := room.ID

	// Observers must not block the controller. When a critical update does
	// not fit, the client is resynced with a fresh snapshot instead.
	resync := make(chan struct{}, 1)
	updates := make(chan interview.Update, r.updateBuffer)
	unsubscribe := ctrl.Subscribe(func(u interview.Update) {
		select {
		case updates <- u:
		default:
			r.metrics.SessionEvent("update_drop")
			if criticalUpdate(id, u) {
				select {
				case resync <- struct{}{}:
				default:
				}
			}
		}
	})
	defer unsubscribe()

	r.send(outbound, protocol.StateSnapshot{Type: protocol.TypeStateSnapshot, SessionID: id, State: ctrl.Snapshot()})

	audioSeq := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-resync:
			// The snapshot supersedes everything still queued.
			drainUpdates(updates)
			r.metrics.SessionEvent("client_resync")
			r.send(outbound, protocol.StateSnapshot{Type: protocol.TypeStateSnapshot, SessionID: id, State: ctrl.Snapshot()})
		case u := <-updates:
			switch u.Kind {
			case interview.UpdateReset:
				r.send(outbound, protocol.StateSnapshot{Type: protocol.TypeStateSnapshot, SessionID: id, State: ctrl.Snapshot()})
			case interview.UpdateRemoteAudio:
				audioSeq++
				r.send(outbound, protocol.AssistantAudioChunk{
					Type:        protocol.TypeAssistantAudio,
					SessionID:   id,
					Seq:         audioSeq,
					Format:      "pcmu",
					AudioBase64: base64.StdEncoding.EncodeToString(u.Audio),
				})
			default:
				if msg, ok := protocol.FromUpdate(id, u); ok {
					r.send(outbound, msg)
				}
			}
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			_ = r.sessions.Touch(id)
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
				if err != nil {
					r.sendError(outbound, id, "invalid_audio", "client", false, err)
					continue
				}
				if err := ctrl.WriteAudio(pcm, m.SampleRate); err != nil && !errors.Is(err, interview.ErrNotLive) {
					r.sendError(outbound, id, "audio_write_failed", "media", true, err)
				}
			case protocol.ClientControl:
				r.handleControl(ctx, room, m, outbound)
			}
		}
	}
}

func criticalUpdate(id string, u interview.Update) bool {
	if u.Kind == interview.UpdateReset {
		return true
	}
	msg, ok := protocol.FromUpdate(id, u)
	return ok && protocol.Critical(msg)
}

func drainUpdates(updates <-chan interview.Update) {
	for {
		select {
		case <-updates:
		default:
			return
		}
	}
}

func (r *Runner) handleControl(ctx context.Context, room *session.Room, m protocol.ClientControl, outbound chan<- any) {
	ctrl := room.Controller
	id := room.ID
	switch m.Action {
	case protocol.ActionConnect:
		go func() {
			err := ctrl.Connect(ctx)
			switch {
			case err == nil:
			case errors.Is(err, interview.ErrAlreadyLive), errors.Is(err, interview.ErrSessionCompleted):
				r.sendError(outbound, id, "connect_rejected", "client", false, err)
			default:
				// The status update already carries the candidate-facing message.
				log.Debug().Err(err).Str("component", "live").Str("session_id", id).Msg("connect failed")
			}
		}()
	case protocol.ActionSendText:
		if err := ctrl.SendText(m.Text); err != nil {
			r.sendError(outbound, id, "send_text_rejected", "client", false, err)
		}
	case protocol.ActionToggleMic:
		ctrl.ToggleMic()
	case protocol.ActionEnd:
		go func() {
			if err := ctrl.End(); err != nil {
				r.sendError(outbound, id, "end_rejected", "client", false, err)
			}
		}()
	case protocol.ActionReset:
		ctrl.Reset()
	case protocol.ActionEvaluate:
		if !ctrl.RequestEvaluation() {
			r.send(outbound, protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: id,
				Code:      "evaluation_not_started",
				Detail:    "evaluation already requested or interview not completed",
			})
		}
	}
}

func (r *Runner) sendError(outbound chan<- any, id, code, source string, retryable bool, err error) {
	r.send(outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: id,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    err.Error(),
	})
}

// send delivers critical messages with a bounded wait and drops the rest when
// the client falls behind.
func (r *Runner) send(outbound chan<- any, msg any) {
	msgType := string(protocol.TypeOf(msg))
	if protocol.Critical(msg) {
		timer := time.NewTimer(criticalSendTimeout)
		defer timer.Stop()
		select {
		case outbound <- msg:
			r.metrics.ObserveOutboundMessage(msgType, "delivered")
		case <-timer.C:
			r.metrics.ObserveOutboundMessage(msgType, "timeout")
			r.metrics.SessionEvent("outbound_drop")
		}
		return
	}
	select {
	case outbound <- msg:
		r.metrics.ObserveOutboundMessage(msgType, "delivered")
	default:
		r.metrics.ObserveOutboundMessage(msgType, "dropped")
		r.metrics.SessionEvent("outbound_drop")
	}
}
