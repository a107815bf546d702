package realtime

import (
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
)

// EndInterviewTool is the only tool the interviewer model may call.
const EndInterviewTool = "end_interview"

// Mode selects the modalities of the realtime session.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeText  Mode = "text"
)

type SessionUpdate struct {
	Type    string        `json:"type"`
	EventID string        `json:"event_id,omitempty"`
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	Modalities              []string                 `json:"modalities"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	Tools                   []Tool                   `json:"tools,omitempty"`
	ToolChoice              string                   `json:"tool_choice,omitempty"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

type Tool struct {
	Type        string             `json:"type"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

type ConversationItemCreate struct {
	Type    string           `json:"type"`
	EventID string           `json:"event_id,omitempty"`
	Item    ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ResponseCreate struct {
	Type     string          `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	Response *ResponseConfig `json:"response,omitempty"`
}

type ResponseConfig struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// EndInterviewArgs is the argument shape of the end_interview tool.
type EndInterviewArgs struct {
	Reason string `json:"reason,omitempty" jsonschema:"description=Short reason the interview is being closed"`
}

// EndInterviewToolDefinition describes the termination tool with a parameter
// schema reflected from EndInterviewArgs.
func EndInterviewToolDefinition() Tool {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.Reflect(&EndInterviewArgs{})
	schema.Version = ""
	return Tool{
		Type:        "function",
		Name:        EndInterviewTool,
		Description: "End the interview once all questions are covered and closing remarks are finished.",
		Parameters:  schema,
	}
}

// SessionSettings are the knobs NewSessionUpdate needs.
type SessionSettings struct {
	Mode               Mode
	Instructions       string
	Voice              string
	TranscriptionModel string
}

func Modalities(mode Mode) []string {
	if mode == ModeText {
		return []string{"text"}
	}
	return []string{"audio", "text"}
}

func NewSessionUpdate(s SessionSettings) SessionUpdate {
	cfg := SessionConfig{
		Modalities:    Modalities(s.Mode),
		Instructions:  s.Instructions,
		TurnDetection: &TurnDetection{Type: "server_vad"},
		Tools:         []Tool{EndInterviewToolDefinition()},
		ToolChoice:    "auto",
	}
	if s.Mode != ModeText {
		cfg.Voice = s.Voice
		if s.TranscriptionModel != "" {
			cfg.InputAudioTranscription = &InputAudioTranscription{Model: s.TranscriptionModel}
		}
	}
	return SessionUpdate{Type: "session.update", EventID: newEventID(), Session: cfg}
}

func NewUserText(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type:    "conversation.item.create",
		EventID: newEventID(),
		Item: ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// NewResponseCreate asks the model to respond. A nil cfg uses the session
// defaults.
func NewResponseCreate(cfg *ResponseConfig) ResponseCreate {
	return ResponseCreate{Type: "response.create", EventID: newEventID(), Response: cfg}
}

func newEventID() string {
	return "evt_" + uuid.NewString()
}
