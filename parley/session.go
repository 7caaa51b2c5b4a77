package parley

import "sync"

// SessionModeTracker records which users have requested translation
// mode. The flag is one-shot: it applies to exactly the next message
// from that user, and is cleared whether or not the completion call
// for that message succeeded.
//
// State is process-scoped and intentionally not persisted; a restart
// drops any pending translation turns.
type SessionModeTracker struct {
	awaiting map[string]struct{}
	mu       sync.Mutex
}

func NewSessionModeTracker() *SessionModeTracker {
	return &SessionModeTracker{awaiting: map[string]struct{}{}}
}

// EnterTranslationMode marks the user's next message as a translation
// request. Idempotent.
func (s *SessionModeTracker) EnterTranslationMode(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaiting[userID] = struct{}{}
}

// IsTranslationTurn reports whether the user's next message should be
// treated as a translation request, without clearing the flag.
func (s *SessionModeTracker) IsTranslationTurn(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.awaiting[userID]
	return ok
}

// ConsumeTranslationTurn clears the user's translation flag. Called
// once per translation turn, after the pipeline has decided to treat
// the current message as the translation payload.
func (s *SessionModeTracker) ConsumeTranslationTurn(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.awaiting, userID)
}
