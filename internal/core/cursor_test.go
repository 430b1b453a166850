package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCursorContains(t *testing.T) {
	c := &Cursor{}
	assert.False(t, c.Contains("ev-1"))

	c.Mark("ev-1", "ev-2")
	assert.True(t, c.Contains("ev-1"))
	assert.True(t, c.Contains("ev-2"))
	assert.False(t, c.Contains("ev-3"))
}

func TestCursorMarkTrimsTail(t *testing.T) {
	c := &Cursor{}
	for i := range CursorTailSize + 50 {
		c.Mark(fmt.Sprintf("ev-%d", i))
	}

	assert.Len(t, c.ProcessedEventIDs, CursorTailSize)
	// The oldest ids fell off the tail; the newest remain.
	assert.False(t, c.Contains("ev-0"))
	assert.False(t, c.Contains("ev-49"))
	assert.True(t, c.Contains("ev-50"))
	assert.True(t, c.Contains(fmt.Sprintf("ev-%d", CursorTailSize+49)))
}

func TestCursorMarkBatchLargerThanTail(t *testing.T) {
	ids := make([]string, CursorTailSize+10)
	for i := range ids {
		ids[i] = fmt.Sprintf("ev-%d", i)
	}

	c := &Cursor{}
	c.Mark(ids...)

	assert.Len(t, c.ProcessedEventIDs, CursorTailSize)
	assert.Equal(t, "ev-10", c.ProcessedEventIDs[0])
}
