package chat

import "time"

// TypingWindow is the liveness window for typing indicators. An indicator
// whose last refresh is older than this is treated as stale at read time,
// whether or not the row has been physically removed.
const TypingWindow = 3000 * time.Millisecond

// PreviewLimit is the maximum length, in runes, of a conversation's
// denormalized last-message preview.
const PreviewLimit = 100

// User is a directory record. Created or patched on sign-in, never deleted.
type User struct {
	ID         UserID    `json:"id"`
	ExternalID string    `json:"external_id"` // identity-provider key, unique
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Online     bool      `json:"online"`
	LastSeen   time.Time `json:"last_seen"`
}

// Conversation pairs exactly two users and carries a denormalized summary
// of their most recent message. Participants are stored in canonical order
// (see PairKey); lookups are order-independent.
type Conversation struct {
	ID                 ConversationID `json:"id"`
	Participants       [2]UserID      `json:"participants"`
	LastMessageID      MessageID      `json:"last_message_id,omitempty"`
	LastMessageTime    time.Time      `json:"last_message_time"`
	LastMessagePreview string         `json:"last_message_preview,omitempty"`
}

// Other returns the participant that is not the given user.
func (c Conversation) Other(u UserID) UserID {
	if c.Participants[0] == u {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Has reports whether u is one of the two participants.
func (c Conversation) Has(u UserID) bool {
	return c.Participants[0] == u || c.Participants[1] == u
}

// ConversationView is a Conversation enriched for a specific viewer:
// the resolved other participant and the viewer's unread message count.
type ConversationView struct {
	Conversation
	OtherUser   User `json:"other_user"`
	UnreadCount int  `json:"unread_count"`
}

// Message is an immutable message record. The only permitted mutation after
// creation is monotonic growth of the read-by set: a reader, once added, is
// never removed.
type Message struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	SenderID       UserID         `json:"sender_id"`
	Body           string         `json:"body"`
	ReadBy         []UserID       `json:"read_by"` // always contains the sender
	CreatedAt      time.Time      `json:"created_at"`
}

// IsReadBy reports whether u has read the message.
func (m Message) IsReadBy(u UserID) bool {
	for _, r := range m.ReadBy {
		if r == u {
			return true
		}
	}
	return false
}

// MessageView is a Message enriched with the resolved sender record.
type MessageView struct {
	Message
	Sender User `json:"sender"`
}

// TypingIndicator marks that a user was typing in a conversation at
// UpdatedAt. At most one indicator exists per (conversation, user) pair.
type TypingIndicator struct {
	ConversationID ConversationID `json:"conversation_id"`
	UserID         UserID         `json:"user_id"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Active reports whether the indicator is still live at the given instant.
// The cutoff is strict: an indicator refreshed exactly TypingWindow ago is
// already stale.
func (t TypingIndicator) Active(now time.Time) bool {
	return t.UpdatedAt.After(now.Add(-TypingWindow))
}

// TruncatePreview shortens a message body to the preview limit. Truncation
// counts runes, not bytes, so multi-byte text is never split mid-character.
func TruncatePreview(body string) string {
	runes := []rune(body)
	if len(runes) <= PreviewLimit {
		return body
	}
	return string(runes[:PreviewLimit])
}
