package interview

import (
	"time"

	"github.com/ent0n29/screener/internal/realtime"
)

// Status is the lifecycle of one interview as the candidate sees it.
type Status string

const (
	StatusSetup      Status = "setup"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Activity is who holds the floor while the interview is active.
type Activity string

const (
	ActivityIdle      Activity = "idle"
	ActivityListening Activity = "listening"
	ActivityThinking  Activity = "thinking"
	ActivitySpeaking  Activity = "speaking"
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one committed transcript line.
type Entry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

type EvaluationState string

const (
	EvaluationNone    EvaluationState = "none"
	EvaluationPending EvaluationState = "evaluating"
	EvaluationDone    EvaluationState = "done"
	EvaluationFailed  EvaluationState = "failed"
)

// Trigger names what started finalization.
type Trigger string

const (
	TriggerUser  Trigger = "user"
	TriggerTool  Trigger = "tool"
	TriggerTimer Trigger = "timer"
)

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	SessionID  string          `json:"session_id"`
	Status     Status          `json:"status"`
	Activity   Activity        `json:"activity"`
	Mode       realtime.Mode   `json:"mode"`
	MicMuted   bool            `json:"mic_muted"`
	Error      string          `json:"error,omitempty"`
	Subtitle   string          `json:"subtitle,omitempty"`
	Transcript []Entry         `json:"transcript"`
	Evaluation EvaluationState `json:"evaluation"`
	Deadline   *time.Time      `json:"deadline,omitempty"`
}

type UpdateKind string

const (
	UpdateStatus      UpdateKind = "status"
	UpdateActivity    UpdateKind = "activity"
	UpdateMic         UpdateKind = "mic"
	UpdateSubtitle    UpdateKind = "subtitle"
	UpdateTranscript  UpdateKind = "transcript"
	UpdateEvaluation  UpdateKind = "evaluation"
	UpdateRemoteAudio UpdateKind = "remote_audio"
	UpdateReset       UpdateKind = "reset"
)

// Update is one observable change. Only the fields relevant to Kind are set.
type Update struct {
	Kind       UpdateKind
	Status     Status
	Activity   Activity
	MicMuted   bool
	Error      string
	Subtitle   string
	Entry      Entry
	Evaluation EvaluationState
	Audio      []byte
}
