package desk

import (
	"strings"
	"sync"

	"github.com/labelhub/supportdesk/internal/state"
)

// Identity is the signed-in agent.
type Identity struct {
	ActorID  string
	Nickname string
	Avatar   string
	IsAdmin  bool
}

// Session carries the agent identity and the archive-view preference to every
// controller. It replaces process-wide globals.
type Session struct {
	identity Identity
	prefs    PreferenceStore

	mu           sync.Mutex
	showArchived bool
}

// NewSession creates a session. prefs may be nil; when set, ShowArchived is
// restored from it and persisted back on change.
func NewSession(identity Identity, prefs PreferenceStore) *Session {
	s := &Session{identity: identity, prefs: prefs}
	if prefs != nil {
		s.showArchived = prefs.Preferences().ShowArchived
	}
	return s
}

// Identity returns the agent identity.
func (s *Session) Identity() Identity { return s.identity }

// ActorID returns the agent's user id.
func (s *Session) ActorID() string { return s.identity.ActorID }

// IsAdmin reports whether the agent acts with admin rights.
func (s *Session) IsAdmin() bool { return s.identity.IsAdmin }

// DisplayName is the name shown to the ticket owner.
func (s *Session) DisplayName() string {
	if name := strings.TrimSpace(s.identity.Nickname); name != "" {
		return name
	}
	return "support"
}

// ShowArchived reports whether archived tickets appear in the "all" bucket.
func (s *Session) ShowArchived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showArchived
}

// SetShowArchived changes the archive-view preference.
func (s *Session) SetShowArchived(v bool) {
	s.mu.Lock()
	if s.showArchived == v {
		s.mu.Unlock()
		return
	}
	s.showArchived = v
	s.mu.Unlock()

	if s.prefs != nil {
		p := s.prefs.Preferences()
		p.ShowArchived = v
		s.prefs.SetPreferences(p)
	}
}

var _ PreferenceStore = (*state.Store)(nil)
var _ DraftStore = (*state.Store)(nil)
