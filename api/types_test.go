package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/chatrelay/types"
)

func TestPromptRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     PromptRequest
		wantMsg string
	}{
		{"valid", PromptRequest{Prompt: "Hi", Model: "mistral"}, ""},
		{"missing prompt", PromptRequest{Model: "mistral"}, "prompt is required"},
		{"blank prompt", PromptRequest{Prompt: "  \n", Model: "mistral"}, "prompt is required"},
		{"missing model", PromptRequest{Prompt: "Hi"}, "model is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantMsg == "" {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, types.ErrInvalidRequest, err.Code)
			assert.Equal(t, tt.wantMsg, err.Message)
		})
	}
}

func TestPromptRequest_Decode(t *testing.T) {
	var req PromptRequest
	require.NoError(t, json.Unmarshal([]byte(`{"prompt":"Hi","model":"gpt-oss:20b","thinking":true,"history":true}`), &req))
	assert.Equal(t, PromptRequest{Prompt: "Hi", Model: "gpt-oss:20b", Thinking: true, History: true}, req)
}
