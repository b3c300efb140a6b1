package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesKind(t *testing.T) {
	err := New(STTRotate, "STT_ROTATE", "provider session nearing its duration limit")
	assert.True(t, Is(err, STTRotate))
	assert.False(t, Is(err, STTFatal))
}

func TestIs_FalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("boom"), Protocol))
}

func TestWrap_UnwrapsToCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(MediaTransient, "MEDIA_TRANSIENT", "rtp write failed", cause)
	assert.Same(t, cause, errors.Unwrap(err))
	assert.ErrorIs(t, err, cause)
}

func TestError_MessageIncludesKindAndCode(t *testing.T) {
	err := New(AgentFatal, "AGENT_FATAL", "no llm client configured")
	assert.Contains(t, err.Error(), "AGENT_FATAL")
	assert.Contains(t, err.Error(), "no llm client configured")
}
