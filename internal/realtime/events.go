package realtime

import (
	"encoding/json"
	"sync"
)

// Kind names a semantic event produced by the Interpreter.
type Kind string

const (
	KindChannelReady        Kind = "channel_ready"
	KindUserStartedSpeaking Kind = "user_started_speaking"
	KindAIThinking          Kind = "ai_thinking"
	KindAISpeaking          Kind = "ai_speaking"
	KindTranscriptDelta     Kind = "transcript_delta"
	KindTranscriptDone      Kind = "transcript_done"
	KindUserTranscriptDone  Kind = "user_transcript_done"
	KindToolInvoked         Kind = "tool_invoked"
	KindServerError         Kind = "server_error"
	KindUnclassified        Kind = "unclassified"
)

// Event is the closed set of messages a session reacts to.
type Event interface {
	Kind() Kind
	isEvent()
}

type ChannelReady struct{}

type UserStartedSpeaking struct{}

type AIThinking struct {
	ResponseID string
}

type AISpeaking struct{}

type TranscriptDelta struct {
	Text string
}

type TranscriptDone struct {
	Text string
}

type UserTranscriptDone struct {
	Text string
}

type ToolInvoked struct {
	Name      string
	CallID    string
	Arguments string
}

type ServerError struct {
	Type    string
	Code    string
	Message string
}

type Unclassified struct {
	Type string
	Raw  json.RawMessage
}

func (ChannelReady) Kind() Kind        { return KindChannelReady }
func (UserStartedSpeaking) Kind() Kind { return KindUserStartedSpeaking }
func (AIThinking) Kind() Kind          { return KindAIThinking }
func (AISpeaking) Kind() Kind          { return KindAISpeaking }
func (TranscriptDelta) Kind() Kind     { return KindTranscriptDelta }
func (TranscriptDone) Kind() Kind      { return KindTranscriptDone }
func (UserTranscriptDone) Kind() Kind  { return KindUserTranscriptDone }
func (ToolInvoked) Kind() Kind         { return KindToolInvoked }
func (ServerError) Kind() Kind         { return KindServerError }
func (Unclassified) Kind() Kind        { return KindUnclassified }

func (ChannelReady) isEvent()        {}
func (UserStartedSpeaking) isEvent() {}
func (AIThinking) isEvent()          {}
func (AISpeaking) isEvent()          {}
func (TranscriptDelta) isEvent()     {}
func (TranscriptDone) isEvent()      {}
func (UserTranscriptDone) isEvent()  {}
func (ToolInvoked) isEvent()         {}
func (ServerError) isEvent()         {}
func (Unclassified) isEvent()        {}

// inbound is the union of fields read from realtime server events.
type inbound struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	Name       string `json:"name"`
	CallID     string `json:"call_id"`
	Arguments  string `json:"arguments"`
	Response   *struct {
		ID string `json:"id"`
	} `json:"response"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Interpreter maps raw control channel messages to Events. It keeps one bit
// of state: whether the current response already produced ai-speaking.
type Interpreter struct {
	tools map[string]struct{}

	mu       sync.Mutex
	speaking bool
}

// NewInterpreter recognizes the given tool names; tool calls with other names
// are dropped.
func NewInterpreter(tools ...string) *Interpreter {
	set := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		set[t] = struct{}{}
	}
	return &Interpreter{tools: set}
}

// Interpret classifies one message. The result is normally a single event; the
// first payload of a response is preceded by AISpeaking, and duplicate
// speaking signals or unrecognized tool calls yield nothing.
func (in *Interpreter) Interpret(raw []byte) []Event {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		return []Event{Unclassified{Type: msg.Type, Raw: cloneRaw(raw)}}
	}

	switch msg.Type {
	case "input_audio_buffer.speech_started":
		return []Event{UserStartedSpeaking{}}
	case "response.created":
		in.setSpeaking(false)
		ev := AIThinking{}
		if msg.Response != nil {
			ev.ResponseID = msg.Response.ID
		}
		return []Event{ev}
	case "output_audio_buffer.started", "response.audio.delta", "response.output_audio.delta":
		if in.markSpeaking() {
			return []Event{AISpeaking{}}
		}
		return nil
	case "response.audio_transcript.delta", "response.output_audio_transcript.delta",
		"response.text.delta", "response.output_text.delta":
		delta := TranscriptDelta{Text: msg.Delta}
		if in.markSpeaking() {
			return []Event{AISpeaking{}, delta}
		}
		return []Event{delta}
	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		return []Event{TranscriptDone{Text: msg.Transcript}}
	case "response.text.done", "response.output_text.done":
		return []Event{TranscriptDone{Text: msg.Text}}
	case "conversation.item.input_audio_transcription.completed":
		return []Event{UserTranscriptDone{Text: msg.Transcript}}
	case "response.function_call_arguments.done":
		if _, ok := in.tools[msg.Name]; !ok {
			return nil
		}
		return []Event{ToolInvoked{Name: msg.Name, CallID: msg.CallID, Arguments: msg.Arguments}}
	case "error":
		ev := ServerError{}
		if msg.Error != nil {
			ev.Type, ev.Code, ev.Message = msg.Error.Type, msg.Error.Code, msg.Error.Message
		}
		return []Event{ev}
	default:
		return []Event{Unclassified{Type: msg.Type, Raw: cloneRaw(raw)}}
	}
}

// Reset forgets per-response state, for reuse across connections.
func (in *Interpreter) Reset() {
	in.setSpeaking(false)
}

func (in *Interpreter) setSpeaking(v bool) {
	in.mu.Lock()
	in.speaking = v
	in.mu.Unlock()
}

// markSpeaking reports whether this call flipped the flag.
func (in *Interpreter) markSpeaking() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.speaking {
		return false
	}
	in.speaking = true
	return true
}

func cloneRaw(raw []byte) json.RawMessage {
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}
