package card

import (
	"sync"
	"time"
)

// TagTracker turns repeated polls of "which UID is on the reader" into
// present/removed edges. The PC/SC status loop reports the same card every
// cycle while it sits on the reader; only transitions matter upstream.
type TagTracker struct {
	mu       sync.Mutex
	lastUID  string
	lastSeen time.Time
}

func NewTagTracker() *TagTracker {
	return &TagTracker{}
}

// Observe records a poll result and returns the edge it represents:
// appeared is true when a new UID arrived, removed holds the UID that left
// the field (possibly alongside appeared, when one card replaces another).
func (t *TagTracker) Observe(uid string) (appeared bool, removed string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if uid == t.lastUID {
		if uid != "" {
			t.lastSeen = time.Now()
		}
		return false, ""
	}

	removed = t.lastUID
	t.lastUID = uid
	if uid != "" {
		t.lastSeen = time.Now()
		appeared = true
	}
	return appeared, removed
}

// Current returns the UID presently in the field, if any.
func (t *TagTracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUID
}
