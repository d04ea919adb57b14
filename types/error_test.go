package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamConnectionLost, "backend stream closed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(false)

	assert.Equal(t, ErrUpstreamConnectionLost, GetErrorCode(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, 502, err.HTTPStatus)
	assert.Contains(t, err.Error(), "UPSTREAM_CONNECTION_LOST")
	assert.Contains(t, err.Error(), "root")
}

func TestGetErrorCode_LooksThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrUnknownModel, "no context limit for model foo")
	wrapped := fmt.Errorf("estimate: %w", inner)

	assert.Equal(t, ErrUnknownModel, GetErrorCode(wrapped))
	assert.True(t, IsCode(wrapped, ErrUnknownModel))
	assert.False(t, IsCode(nil, ErrUnknownModel))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestIsConfiguration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unknown model", NewError(ErrUnknownModel, "x"), true},
		{"tokenizer", NewError(ErrTokenizerUnavailable, "x"), true},
		{"upstream", NewError(ErrUpstreamConnectionLost, "x"), false},
		{"plain", errors.New("x"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfiguration(tt.err))
		})
	}
}

func TestCloneHistory(t *testing.T) {
	t.Parallel()

	src := []Message{NewUserMessage("hi"), NewAssistantMessage("hello")}
	dst := CloneHistory(src)
	dst[0].Content = "changed"

	assert.Equal(t, "hi", src[0].Content)
	assert.NotNil(t, CloneHistory(nil))
	assert.Len(t, CloneHistory(nil), 0)
}
