package models

import (
	"sort"
	"strings"
	"time"
)

// ReplyPreview is the denormalized snippet of the message being replied to.
type ReplyPreview struct {
	ID             string `json:"id"`
	Body           string `json:"message"`
	SenderID       string `json:"sender_id"`
	IsAdmin        bool   `json:"is_admin"`
	SenderNickname string `json:"sender_nickname,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
	SenderEmail    string `json:"sender_email,omitempty"`
}

// Message is one post in a ticket thread.
type Message struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	SenderID  string    `json:"sender_id"`
	IsAdmin   bool      `json:"is_admin"`
	Body      string    `json:"message"`
	Images    []string  `json:"images"`
	CreatedAt time.Time `json:"created_at"`

	SenderEmail    string `json:"sender_email,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
	SenderNickname string `json:"sender_nickname,omitempty"`
	SenderAvatar   string `json:"sender_avatar,omitempty"`

	ReplyToID string        `json:"reply_to,omitempty"`
	ReplyTo   *ReplyPreview `json:"reply_to_message,omitempty"`

	Reactions []Reaction `json:"reactions,omitempty"`
}

// Preview builds the reply snippet other messages embed when replying to m.
func (m Message) Preview() ReplyPreview {
	return ReplyPreview{
		ID:             m.ID,
		Body:           m.Body,
		SenderID:       m.SenderID,
		IsAdmin:        m.IsAdmin,
		SenderNickname: m.SenderNickname,
		SenderUsername: m.SenderUsername,
		SenderEmail:    m.SenderEmail,
	}
}

// DisplayName picks the best available sender label.
func (m Message) DisplayName() string {
	for _, candidate := range []string{m.SenderNickname, m.SenderUsername, m.SenderEmail} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	if m.IsAdmin {
		return "support"
	}
	return "user"
}

// HasReactionFrom reports whether userID already reacted to the message.
func (m Message) HasReactionFrom(userID string) bool {
	if userID == "" {
		return false
	}
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Images != nil {
		out.Images = append([]string(nil), m.Images...)
	}
	if m.ReplyTo != nil {
		preview := *m.ReplyTo
		out.ReplyTo = &preview
	}
	if m.Reactions != nil {
		out.Reactions = make([]Reaction, len(m.Reactions))
		for i := range m.Reactions {
			out.Reactions[i] = m.Reactions[i].Clone()
		}
	}
	return out
}

// NormalizeThread orders messages by creation time (ties broken by id) and
// drops repeated ids, keeping the first occurrence. The input is not modified.
func NormalizeThread(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		if msg.ID != "" {
			if _, ok := seen[msg.ID]; ok {
				continue
			}
			seen[msg.ID] = struct{}{}
		}
		out = append(out, msg.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ResolveReply looks up the message that msg replies to within thread. Targets
// that are missing or not earlier in the thread are reported as unresolved.
func ResolveReply(thread []Message, msg Message) (Message, bool) {
	if msg.ReplyToID == "" {
		return Message{}, false
	}
	for _, candidate := range thread {
		if candidate.ID == msg.ID {
			return Message{}, false
		}
		if candidate.ID == msg.ReplyToID {
			return candidate, true
		}
	}
	return Message{}, false
}

// NewMessage is the payload for posting a reply.
type NewMessage struct {
	Body      string   `json:"message"`
	Images    []string `json:"images"`
	ReplyToID *string  `json:"reply_to_message_id"`
}

// Validate checks that the reply carries text or at least one image.
func (n NewMessage) Validate() error {
	v := &ValidationErrors{}
	if strings.TrimSpace(n.Body) == "" && len(n.Images) == 0 {
		v.Add("message", ErrEmptyMessage)
	}
	for i, img := range n.Images {
		if strings.TrimSpace(img) == "" {
			v.AddMessage(indexField("images", i), "image url is required")
		}
	}
	if n.ReplyToID != nil && strings.TrimSpace(*n.ReplyToID) == "" {
		v.AddMessage("reply_to_message_id", "reply target id is empty")
	}
	return v.Err()
}
