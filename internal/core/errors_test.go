package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCategories(t *testing.T) {
	transient := ErrTransient(CodeIo, "disk hiccup")
	trace := ErrTrace(CodeTaskNotFound, "gone")
	system := ErrSystem(CodeDataDir, "no data dir")

	assert.True(t, IsTransient(transient))
	assert.False(t, IsTransient(trace))
	assert.False(t, IsTransient(system))

	assert.True(t, IsTraceFatal(trace))
	assert.False(t, IsTraceFatal(transient))

	assert.True(t, IsSystemFatal(system))
	assert.False(t, IsSystemFatal(trace))
}

func TestUnclassifiedErrorsAreTransient(t *testing.T) {
	// Subprocess and network failures arrive unwrapped; they must be
	// retried rather than killing the trace.
	assert.True(t, IsTransient(errors.New("exit status 1")))
	assert.False(t, IsTraceFatal(errors.New("exit status 1")))
	assert.False(t, IsSystemFatal(nil))
}

func TestDomainErrorWrapping(t *testing.T) {
	cause := errors.New("underlying")
	err := ErrTransient(CodeIo, "writing state").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "IO_ERROR")
	assert.Contains(t, err.Error(), "underlying")

	// Wrapping through fmt keeps the classification reachable.
	wrapped := fmt.Errorf("stage: %w", err)
	assert.True(t, IsTransient(wrapped))
}

func TestDomainErrorIsMatchesCategoryAndCode(t *testing.T) {
	err := ErrTrace(CodeSpanMissing, "span x not found")

	assert.True(t, errors.Is(err, ErrTrace(CodeSpanMissing, "other message")))
	assert.False(t, errors.Is(err, ErrTrace(CodeTaskNotFound, "span x not found")))
	assert.False(t, errors.Is(err, ErrTransient(CodeSpanMissing, "span x not found")))
}

func TestWithDetail(t *testing.T) {
	err := ErrTransient(CodeAgentFailed, "boom").
		WithDetail("adapter", "claude").
		WithDetail("attempt", 2)

	assert.Equal(t, "claude", err.Details["adapter"])
	assert.Equal(t, 2, err.Details["attempt"])
}
