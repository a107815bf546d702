package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/screener/internal/interview"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeStateSnapshot    MessageType = "state_snapshot"
	TypeStatusUpdate     MessageType = "status_update"
	TypeActivityUpdate   MessageType = "activity_update"
	TypeMicUpdate        MessageType = "mic_update"
	TypeSubtitleUpdate   MessageType = "subtitle_update"
	TypeTranscriptEntry  MessageType = "transcript_entry"
	TypeEvaluationUpdate MessageType = "evaluation_update"
	TypeAssistantAudio   MessageType = "assistant_audio_chunk"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Control actions accepted in client_control.
const (
	ActionConnect   = "connect"
	ActionSendText  = "send_text"
	ActionToggleMic = "toggle_mic"
	ActionEnd       = "end"
	ActionReset     = "reset"
	ActionEvaluate  = "evaluate"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id,omitempty"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Action    string      `json:"action"`
	Text      string      `json:"text,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type StateSnapshot struct {
	Type      MessageType        `json:"type"`
	SessionID string             `json:"session_id"`
	State     interview.Snapshot `json:"state"`
}

type StatusUpdate struct {
	Type      MessageType      `json:"type"`
	SessionID string           `json:"session_id"`
	Status    interview.Status `json:"status"`
	Error     string           `json:"error,omitempty"`
}

type ActivityUpdate struct {
	Type      MessageType        `json:"type"`
	SessionID string             `json:"session_id"`
	Activity  interview.Activity `json:"activity"`
}

type MicUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Muted     bool        `json:"muted"`
}

type SubtitleUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type TranscriptEntry struct {
	Type      MessageType       `json:"type"`
	SessionID string            `json:"session_id"`
	Speaker   interview.Speaker `json:"speaker"`
	Text      string            `json:"text"`
}

type EvaluationUpdate struct {
	Type      MessageType               `json:"type"`
	SessionID string                    `json:"session_id"`
	State     interview.EvaluationState `json:"state"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		switch msg.Action {
		case ActionConnect, ActionToggleMic, ActionEnd, ActionReset, ActionEvaluate:
		case ActionSendText:
			if strings.TrimSpace(msg.Text) == "" {
				return nil, errors.New("invalid client_control: send_text requires text")
			}
		default:
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// FromUpdate converts a controller update into its wire message. Reset and
// remote audio updates have no direct form and return false.
func FromUpdate(sessionID string, u interview.Update) (any, bool) {
	switch u.Kind {
	case interview.UpdateStatus:
		return StatusUpdate{Type: TypeStatusUpdate, SessionID: sessionID, Status: u.Status, Error: u.Error}, true
	case interview.UpdateActivity:
		return ActivityUpdate{Type: TypeActivityUpdate, SessionID: sessionID, Activity: u.Activity}, true
	case interview.UpdateMic:
		return MicUpdate{Type: TypeMicUpdate, SessionID: sessionID, Muted: u.MicMuted}, true
	case interview.UpdateSubtitle:
		return SubtitleUpdate{Type: TypeSubtitleUpdate, SessionID: sessionID, Text: u.Subtitle}, true
	case interview.UpdateTranscript:
		return TranscriptEntry{Type: TypeTranscriptEntry, SessionID: sessionID, Speaker: u.Entry.Speaker, Text: u.Entry.Text}, true
	case interview.UpdateEvaluation:
		return EvaluationUpdate{Type: TypeEvaluationUpdate, SessionID: sessionID, State: u.Evaluation}, true
	default:
		return nil, false
	}
}

// Critical reports whether msg must not be dropped under backpressure.
func Critical(msg any) bool {
	switch msg.(type) {
	case AssistantAudioChunk, SubtitleUpdate, ActivityUpdate:
		return false
	default:
		return true
	}
}

// TypeOf returns the wire type of an outbound message.
func TypeOf(msg any) MessageType {
	switch m := msg.(type) {
	case StateSnapshot:
		return m.Type
	case StatusUpdate:
		return m.Type
	case ActivityUpdate:
		return m.Type
	case MicUpdate:
		return m.Type
	case SubtitleUpdate:
		return m.Type
	case TranscriptEntry:
		return m.Type
	case EvaluationUpdate:
		return m.Type
	case AssistantAudioChunk:
		return m.Type
	case SystemEvent:
		return m.Type
	case ErrorEvent:
		return m.Type
	default:
		return "unknown"
	}
}
