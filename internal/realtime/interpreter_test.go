package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(events []Event) []Kind {
	out := make([]Kind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind())
	}
	return out
}

func TestInterpretClassifiesServerEvents(t *testing.T) {
	cases := []struct {
		raw  string
		want []Kind
	}{
		{`{"type":"input_audio_buffer.speech_started"}`, []Kind{KindUserStartedSpeaking}},
		{`{"type":"response.created","response":{"id":"resp_1"}}`, []Kind{KindAIThinking}},
		{`{"type":"response.audio_transcript.done","transcript":"Hello there"}`, []Kind{KindTranscriptDone}},
		{`{"type":"response.text.done","text":"Hi"}`, []Kind{KindTranscriptDone}},
		{`{"type":"conversation.item.input_audio_transcription.completed","transcript":"I am ready"}`, []Kind{KindUserTranscriptDone}},
		{`{"type":"response.function_call_arguments.done","name":"end_interview","call_id":"c1","arguments":"{}"}`, []Kind{KindToolInvoked}},
		{`{"type":"error","error":{"type":"server_error","message":"boom"}}`, []Kind{KindServerError}},
		{`{"type":"session.created"}`, []Kind{KindUnclassified}},
		{`not json`, []Kind{KindUnclassified}},
	}
	for _, tc := range cases {
		in := NewInterpreter(EndInterviewTool)
		assert.Equalf(t, tc.want, kinds(in.Interpret([]byte(tc.raw))), "raw=%s", tc.raw)
	}
}

func TestInterpretEmitsSpeakingOncePerResponse(t *testing.T) {
	in := NewInterpreter(EndInterviewTool)

	assert.Equal(t, []Kind{KindAIThinking}, kinds(in.Interpret([]byte(`{"type":"response.created"}`))))

	first := in.Interpret([]byte(`{"type":"response.audio_transcript.delta","delta":"Hel"}`))
	require.Equal(t, []Kind{KindAISpeaking, KindTranscriptDelta}, kinds(first))
	assert.Equal(t, "Hel", first[1].(TranscriptDelta).Text)

	second := in.Interpret([]byte(`{"type":"response.audio_transcript.delta","delta":"lo "}`))
	assert.Equal(t, []Kind{KindTranscriptDelta}, kinds(second))
	assert.Empty(t, in.Interpret([]byte(`{"type":"output_audio_buffer.started"}`)))

	in.Interpret([]byte(`{"type":"response.created"}`))
	assert.Equal(t, []Kind{KindAISpeaking}, kinds(in.Interpret([]byte(`{"type":"response.audio.delta","delta":"AAAA"}`))))
}

func TestInterpretAcceptsCurrentEventNames(t *testing.T) {
	in := NewInterpreter(EndInterviewTool)
	got := in.Interpret([]byte(`{"type":"response.output_audio_transcript.delta","delta":"x"}`))
	assert.Equal(t, []Kind{KindAISpeaking, KindTranscriptDelta}, kinds(got))

	done := in.Interpret([]byte(`{"type":"response.output_audio_transcript.done","transcript":"x"}`))
	require.Len(t, done, 1)
	assert.Equal(t, "x", done[0].(TranscriptDone).Text)
}

func TestInterpretDropsUnknownTools(t *testing.T) {
	in := NewInterpreter(EndInterviewTool)
	assert.Empty(t, in.Interpret([]byte(`{"type":"response.function_call_arguments.done","name":"delete_db"}`)))
}

func TestInterpretKeepsRawPayloadForDiagnostics(t *testing.T) {
	raw := []byte(`{"type":"rate_limits.updated","rate_limits":[]}`)
	got := NewInterpreter().Interpret(raw)
	require.Len(t, got, 1)
	u := got[0].(Unclassified)
	assert.Equal(t, "rate_limits.updated", u.Type)
	assert.JSONEq(t, string(raw), string(u.Raw))
}
