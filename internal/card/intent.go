package card

import (
	"sync"
	"time"
)

// WriteIntent asks the driver to personalise the next presented card.
type WriteIntent struct {
	StudentIdentifier string    `json:"student_identifier"`
	IssuedAt          time.Time `json:"issued_at"`
}

// IntentSlot is a queue of depth one: at most one write intent is pending at
// a time, a newer intent replaces an unconsumed older one, and the next card
// presentation consumes the slot unconditionally whatever the outcome.
type IntentSlot struct {
	mu      sync.Mutex
	pending *WriteIntent
}

func NewIntentSlot() *IntentSlot {
	return &IntentSlot{}
}

// Set stores the intent, replacing any pending one.
func (s *IntentSlot) Set(intent WriteIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if intent.IssuedAt.IsZero() {
		intent.IssuedAt = time.Now().UTC()
	}
	s.pending = &intent
}

// Consume removes and returns the pending intent, if any.
func (s *IntentSlot) Consume() (WriteIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return WriteIntent{}, false
	}
	intent := *s.pending
	s.pending = nil
	return intent, true
}

// Pending reports whether an intent is waiting for a card.
func (s *IntentSlot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}
