package store

import (
	"context"
	"fmt"

	"github.com/Ayu0607/pulse-chat/internal/chat"
)

// SendMessage appends a message to a conversation and patches the parent's
// summary (last message ID, time, truncated preview) in one transaction.
// The message's read-by set is seeded with the sender.
//
// The append and the summary patch are logically one operation: the
// summary can never reference a message that was not appended.
//
// Returns ErrNotFound if the conversation does not exist.
func (s *Store) SendMessage(ctx context.Context, convID chat.ConversationID, senderID chat.UserID, body string) (chat.MessageID, []chat.Write, error) {
	tx, err := s.begin(ctx, "send message")
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback() // No-op if committed

	conv, err := conversationIn(ctx, tx, convID)
	if err != nil {
		return "", nil, fmt.Errorf("send message: %w", err)
	}
	if !conv.Has(senderID) {
		return "", nil, fmt.Errorf("send message: sender %s is not a participant of %s", senderID, convID)
	}

	id := chat.MessageID(s.ids.NewID())
	now := millis(s.clock.Now())

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, convID, senderID, body, now)
	if err != nil {
		return "", nil, fmt.Errorf("send message: insert: %w", err)
	}

	// Seed the read-by set: the sender has read their own message.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id) VALUES (?, ?)
	`, id, senderID)
	if err != nil {
		return "", nil, fmt.Errorf("send message: seed read-by: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = ?, last_message_time = ?, last_message_preview = ?
		WHERE id = ?
	`, id, now, chat.TruncatePreview(body), convID)
	if err != nil {
		return "", nil, fmt.Errorf("send message: patch summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("send message: commit: %w", err)
	}

	writes := []chat.Write{
		{Table: chat.TableMessages, Key: chat.ConversationScope(convID)},
		{Table: chat.TableConversations, Key: chat.ConversationKey(convID)},
		{Table: chat.TableConversations, Key: chat.ParticipantKey(conv.Participants[0])},
		{Table: chat.TableConversations, Key: chat.ParticipantKey(conv.Participants[1])},
	}
	return id, writes, nil
}

// Messages returns a conversation's messages ordered by creation time
// ascending (ID as tie-break for equal timestamps), each enriched with the
// resolved sender record and its full read-by set.
func (s *Store) Messages(ctx context.Context, convID chat.ConversationID) ([]chat.MessageView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.body, m.created_at,
		       u.id, u.external_id, u.name, u.email, u.avatar_url, u.online, u.last_seen
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, convID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	views := []chat.MessageView{}
	index := map[chat.MessageID]int{}
	for rows.Next() {
		var (
			v         chat.MessageView
			createdAt int64
			online    int
			lastSeen  int64
		)
		err := rows.Scan(
			&v.ID, &v.ConversationID, &v.SenderID, &v.Body, &createdAt,
			&v.Sender.ID, &v.Sender.ExternalID, &v.Sender.Name,
			&v.Sender.Email, &v.Sender.AvatarURL, &online, &lastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		v.CreatedAt = fromMillis(createdAt)
		v.Sender.Online = online != 0
		v.Sender.LastSeen = fromMillis(lastSeen)
		v.ReadBy = []chat.UserID{}
		index[v.ID] = len(views)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if len(views) == 0 {
		return views, nil
	}

	// Second pass assembles the read-by sets; reader order is deterministic.
	readRows, err := s.db.QueryContext(ctx, `
		SELECT r.message_id, r.user_id
		FROM message_reads r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id = ?
		ORDER BY r.message_id ASC, r.user_id ASC
	`, convID)
	if err != nil {
		return nil, fmt.Errorf("query read-by: %w", err)
	}
	defer readRows.Close()

	for readRows.Next() {
		var (
			msgID  chat.MessageID
			reader chat.UserID
		)
		if err := readRows.Scan(&msgID, &reader); err != nil {
			return nil, fmt.Errorf("scan read-by: %w", err)
		}
		if i, ok := index[msgID]; ok {
			views[i].ReadBy = append(views[i].ReadBy, reader)
		}
	}
	if err := readRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate read-by: %w", err)
	}

	return views, nil
}

// MarkRead adds the user to the read-by set of every message in the
// conversation they have not read and did not send. Idempotent: the insert
// targets the (message, user) primary key with ON CONFLICT DO NOTHING, and
// a call that changes nothing publishes no writes.
//
// Returns ErrNotFound if the conversation does not exist.
func (s *Store) MarkRead(ctx context.Context, convID chat.ConversationID, userID chat.UserID) ([]chat.Write, error) {
	if _, err := conversationIn(ctx, s.db, convID); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id)
		SELECT m.id, ? FROM messages m
		WHERE m.conversation_id = ? AND m.sender_id != ?
		ON CONFLICT(message_id, user_id) DO NOTHING
	`, userID, convID, userID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("mark read: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Everything was already read - nothing to re-run downstream.
		return nil, nil
	}

	writes := []chat.Write{
		{Table: chat.TableMessages, Key: chat.ConversationScope(convID)},
		{Table: chat.TableConversations, Key: chat.ParticipantKey(userID)},
	}
	return writes, nil
}
