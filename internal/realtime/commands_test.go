package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionUpdateVoiceMode(t *testing.T) {
	u := NewSessionUpdate(SessionSettings{
		Mode:               ModeVoice,
		Instructions:       "interview",
		Voice:              "alloy",
		TranscriptionModel: "whisper-1",
	})

	raw, err := json.Marshal(u)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "session.update", decoded["type"])

	session := decoded["session"].(map[string]any)
	assert.Equal(t, []any{"audio", "text"}, session["modalities"])
	assert.Equal(t, "alloy", session["voice"])
	assert.Equal(t, map[string]any{"model": "whisper-1"}, session["input_audio_transcription"])

	tools := session["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, EndInterviewTool, tool["name"])
	params := tool["parameters"].(map[string]any)
	assert.Equal(t, "object", params["type"])
	assert.Contains(t, params["properties"], "reason")
}

func TestSessionUpdateTextModeOmitsAudio(t *testing.T) {
	u := NewSessionUpdate(SessionSettings{Mode: ModeText, Voice: "alloy", TranscriptionModel: "whisper-1"})
	assert.Equal(t, []string{"text"}, u.Session.Modalities)
	assert.Empty(t, u.Session.Voice)
	assert.Nil(t, u.Session.InputAudioTranscription)
}

func TestUserTextItem(t *testing.T) {
	item := NewUserText("I have five years of Go")
	assert.Equal(t, "conversation.item.create", item.Type)
	assert.Equal(t, "user", item.Item.Role)
	require.Len(t, item.Item.Content, 1)
	assert.Equal(t, ContentPart{Type: "input_text", Text: "I have five years of Go"}, item.Item.Content[0])
	assert.NotEmpty(t, item.EventID)
}
