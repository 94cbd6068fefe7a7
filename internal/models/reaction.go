package models

import "time"

// DefaultReaction is the emoji the desk uses for a "like".
const DefaultReaction = "❤️"

// ReactionActor carries the reacting user's display fields.
type ReactionActor struct {
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// Reaction is one user's like on a message. (MessageID, UserID) is unique.
type Reaction struct {
	ID        string         `json:"id"`
	MessageID string         `json:"message_id"`
	UserID    string         `json:"user_id"`
	Emoji     string         `json:"reaction"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	User      *ReactionActor `json:"user,omitempty"`
}

// Clone returns a deep copy of the reaction.
func (r Reaction) Clone() Reaction {
	out := r
	if r.User != nil {
		user := *r.User
		out.User = &user
	}
	return out
}

// ToggleOutcome is the server's decision for a reaction toggle.
type ToggleOutcome struct {
	Removed  bool      `json:"removed"`
	Reaction *Reaction `json:"reaction,omitempty"`
}

// TypingState is the ephemeral presence flag stored per ticket.
type TypingState struct {
	IsTyping bool   `json:"isTyping"`
	IsAdmin  bool   `json:"isAdmin"`
	Username string `json:"username,omitempty"`
}
