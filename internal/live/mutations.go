package live

import (
	"context"

	"github.com/Ayu0607/pulse-chat/internal/chat"
	"github.com/Ayu0607/pulse-chat/internal/store"
)

// Typed mutation wrappers. Each runs the store operation through Apply so
// the committed write set reaches subscribers. Callers that need the
// write sets directly can use the store and Apply themselves.

// UpsertUser creates or patches the directory record for an external
// identity and marks it online.
func (e *Engine) UpsertUser(ctx context.Context, p store.UpsertUserParams) (chat.UserID, error) {
	var id chat.UserID
	err := e.Apply(ctx, "users.upsert", func(ctx context.Context) ([]chat.Write, error) {
		var (
			writes []chat.Write
			err    error
		)
		id, writes, err = e.store.UpsertUser(ctx, p)
		return writes, err
	})
	return id, err
}

// SetOnline patches a user's online flag; missing users are a no-op.
func (e *Engine) SetOnline(ctx context.Context, externalID string, online bool) error {
	return e.Apply(ctx, "users.online", func(ctx context.Context) ([]chat.Write, error) {
		return e.store.SetOnline(ctx, externalID, online)
	})
}

// GetOrCreateConversation returns the conversation for the pair, creating
// it if needed.
func (e *Engine) GetOrCreateConversation(ctx context.Context, a, b chat.UserID) (chat.ConversationID, error) {
	var id chat.ConversationID
	err := e.Apply(ctx, "conversations.getOrCreate", func(ctx context.Context) ([]chat.Write, error) {
		var (
			writes []chat.Write
			err    error
		)
		id, writes, err = e.store.GetOrCreateConversation(ctx, a, b)
		return writes, err
	})
	return id, err
}

// DeleteConversation removes a conversation and cascades to its messages
// and typing indicators.
func (e *Engine) DeleteConversation(ctx context.Context, id chat.ConversationID) error {
	return e.Apply(ctx, "conversations.delete", func(ctx context.Context) ([]chat.Write, error) {
		return e.store.DeleteConversation(ctx, id)
	})
}

// SendMessage appends a message and patches the conversation summary.
func (e *Engine) SendMessage(ctx context.Context, convID chat.ConversationID, senderID chat.UserID, body string) (chat.MessageID, error) {
	var id chat.MessageID
	err := e.Apply(ctx, "messages.send", func(ctx context.Context) ([]chat.Write, error) {
		var (
			writes []chat.Write
			err    error
		)
		id, writes, err = e.store.SendMessage(ctx, convID, senderID, body)
		return writes, err
	})
	return id, err
}

// MarkRead adds the user to the read-by set of every unread message they
// did not send. Idempotent.
func (e *Engine) MarkRead(ctx context.Context, convID chat.ConversationID, userID chat.UserID) error {
	return e.Apply(ctx, "messages.markRead", func(ctx context.Context) ([]chat.Write, error) {
		return e.store.MarkRead(ctx, convID, userID)
	})
}

// SetTyping refreshes or clears a typing indicator.
func (e *Engine) SetTyping(ctx context.Context, convID chat.ConversationID, userID chat.UserID, typing bool) error {
	return e.Apply(ctx, "typing.set", func(ctx context.Context) ([]chat.Write, error) {
		return e.store.SetTyping(ctx, convID, userID, typing)
	})
}
