package core

import "time"

// CursorTailSize bounds the processed-event id tail. Duplicate events
// older than the tail can in principle be re-ingested; the tail size
// is the accepted trade-off.
const CursorTailSize = 200

// Cursor records which external event ids have already produced a
// trace. Ordering within the tail is irrelevant.
type Cursor struct {
	ProcessedEventIDs []string  `json:"processedEventIds"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Contains reports whether the event id is in the tail.
func (c *Cursor) Contains(eventID string) bool {
	for _, id := range c.ProcessedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// Mark appends event ids and trims the tail to CursorTailSize,
// keeping the most recently appended ids.
func (c *Cursor) Mark(eventIDs ...string) {
	c.ProcessedEventIDs = append(c.ProcessedEventIDs, eventIDs...)
	if n := len(c.ProcessedEventIDs); n > CursorTailSize {
		c.ProcessedEventIDs = c.ProcessedEventIDs[n-CursorTailSize:]
	}
}
