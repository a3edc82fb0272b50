package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowPayloadPreservesUnknownKeys(t *testing.T) {
	input := []byte(`{
		"model_id": "llama-7b",
		"create_infra": true,
		"stack_handle": "arn:stack/llama-7b",
		"engine_trace_token": "abc-123",
		"retry_context": {"delivery": 2}
	}`)

	var payload WorkflowPayload
	require.NoError(t, json.Unmarshal(input, &payload))

	assert.Equal(t, "llama-7b", payload.ModelID)
	assert.True(t, payload.CreateInfra)
	assert.Equal(t, "arn:stack/llama-7b", payload.StackHandle)
	assert.Equal(t, "abc-123", payload.Extra["engine_trace_token"])
	assert.Equal(t, map[string]interface{}{"delivery": float64(2)}, payload.Extra["retry_context"])

	out, err := json.Marshal(payload)
	require.NoError(t, err)

	var roundTripped map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.Equal(t, "llama-7b", roundTripped["model_id"])
	assert.Equal(t, "abc-123", roundTripped["engine_trace_token"])
	assert.Equal(t, map[string]interface{}{"delivery": float64(2)}, roundTripped["retry_context"])
}

func TestWorkflowPayloadOwnedKeysAreNotDuplicated(t *testing.T) {
	input := []byte(`{"model_id": "m1", "polls_remaining": 5}`)

	var payload WorkflowPayload
	require.NoError(t, json.Unmarshal(input, &payload))

	assert.Equal(t, 5, payload.PollsRemaining)
	assert.NotContains(t, payload.Extra, "model_id")
	assert.NotContains(t, payload.Extra, "polls_remaining")
}

func TestWorkflowPayloadClone(t *testing.T) {
	payload := &WorkflowPayload{
		ModelID: "m1",
		Extra:   map[string]interface{}{"k": "v"},
	}

	clone := payload.Clone()
	clone.ModelID = "m2"
	clone.Extra["k"] = "changed"

	assert.Equal(t, "m1", payload.ModelID)
	assert.Equal(t, "v", payload.Extra["k"])
}
