package v1

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{name: "init", frame: Frame{Type: TypeInit, Channel: "c1"}},
		{name: "init alias", frame: Frame{Type: TypeInit, ConversationID: "c1"}},
		{name: "init no channel", frame: Frame{Type: TypeInit}, wantErr: true},
		{name: "run", frame: Frame{Type: TypeRun, Prompt: "hi"}},
		{name: "run blank", frame: Frame{Type: TypeRun, Prompt: "  "}, wantErr: true},
		{name: "chain", frame: Frame{Type: TypeCreateChain, Steps: []Step{{Type: StepResearch, Topic: "go"}}}},
		{name: "chain empty", frame: Frame{Type: TypeCreateChain}, wantErr: true},
		{name: "chain bad step", frame: Frame{Type: TypeCreateChain, Steps: []Step{{Type: "fly"}}}, wantErr: true},
		{name: "tool result", frame: Frame{Type: TypeToolResult, CallID: "call-1"}},
		{name: "tool result no id", frame: Frame{Type: TypeToolResult}, wantErr: true},
		{name: "clear", frame: Frame{Type: TypeClearMemory}},
		{name: "server type", frame: Frame{Type: TypeResponse}, wantErr: true},
		{name: "empty", frame: Frame{}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.frame.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFrame_WireShape(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(InitOK("c1", "ses_1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"init_ok","channel":"c1","sessionId":"ses_1"}`, string(b))

	b, err = json.Marshal(Chunk("tok"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"stream_chunk","chunk":"tok"}`, string(b))

	b, err = json.Marshal(Response(json.RawMessage(`"done"`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"response","content":"done"}`, string(b))

	b, err = json.Marshal(Error("boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":"boom"}`, string(b))
}

func TestValidateSteps_Bound(t *testing.T) {
	t.Parallel()

	steps := make([]Step, MaxSteps+1)
	for i := range steps {
		steps[i] = Step{Type: StepResearch}
	}
	require.Error(t, ValidateSteps(steps))
	require.NoError(t, ValidateSteps(steps[:MaxSteps]))
}

func TestPublishRequest_Body(t *testing.T) {
	t.Parallel()

	text := `say "hi"`
	assert.JSONEq(t, `{"text":"say \"hi\""}`, string(PublishRequest{Channel: "c1", Text: &text}.Body()))
	assert.JSONEq(t, `[1]`, string(PublishRequest{Channel: "c1", Payload: json.RawMessage(`[1]`), Text: &text}.Body()))
	assert.Empty(t, PublishRequest{Channel: "c1"}.Body())
}
