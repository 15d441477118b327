package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Ayu0607/pulse-chat/internal/chat"
)

// GetOrCreateConversation returns the conversation for the unordered pair
// {a, b}, creating it if none exists. Creation is idempotent under
// concurrency: the insert targets the UNIQUE canonical pair key with
// ON CONFLICT DO NOTHING, then the winner (new or existing) is selected
// inside the same transaction, so two simultaneous calls for the same pair
// always converge on a single row.
//
// A freshly created conversation has lastMessageTime set to creation time
// and no last message.
func (s *Store) GetOrCreateConversation(ctx context.Context, a, b chat.UserID) (chat.ConversationID, []chat.Write, error) {
	if a == b {
		return "", nil, fmt.Errorf("get or create conversation: participants must differ")
	}

	tx, err := s.begin(ctx, "get or create conversation")
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback() // No-op if committed

	lo, hi := chat.OrderPair(a, b)
	id := chat.ConversationID(s.ids.NewID())

	// Try to insert (claims the pair atomically via the unique constraint)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, pair_key, last_message_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pair_key) DO NOTHING
	`, id, lo, hi, chat.PairKey(a, b), millis(s.clock.Now()))
	if err != nil {
		return "", nil, fmt.Errorf("get or create conversation: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", nil, fmt.Errorf("get or create conversation: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Conflict - the pair already has a conversation, fetch its ID
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM conversations WHERE pair_key = ?`, chat.PairKey(a, b),
		).Scan(&id)
		if err != nil {
			return "", nil, fmt.Errorf("get or create conversation: select existing: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return "", nil, fmt.Errorf("get or create conversation: commit (existing): %w", err)
		}
		// Nothing changed; publish no writes.
		return id, nil, nil
	}

	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("get or create conversation: commit: %w", err)
	}

	writes := []chat.Write{
		{Table: chat.TableConversations, Key: chat.ConversationKey(id)},
		{Table: chat.TableConversations, Key: chat.ParticipantKey(a)},
		{Table: chat.TableConversations, Key: chat.ParticipantKey(b)},
	}
	return id, writes, nil
}

// ConversationsFor returns every conversation the user participates in,
// enriched with the resolved other participant and the user's unread
// count, sorted most-recent-first by last message time. Conversations
// without a last message time sort last.
//
// Unread = messages in the conversation sent by someone else whose read-by
// set does not contain the user.
func (s *Store) ConversationsFor(ctx context.Context, userID chat.UserID) ([]chat.ConversationView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.participant_a, c.participant_b,
		       c.last_message_id, c.last_message_time, c.last_message_preview,
		       o.id, o.external_id, o.name, o.email, o.avatar_url, o.online, o.last_seen,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id
		          AND m.sender_id != ?
		          AND NOT EXISTS (SELECT 1 FROM message_reads r
		                          WHERE r.message_id = m.id AND r.user_id = ?)) AS unread
		FROM conversations c
		JOIN users o ON o.id = CASE WHEN c.participant_a = ? THEN c.participant_b ELSE c.participant_a END
		WHERE c.participant_a = ? OR c.participant_b = ?
		ORDER BY c.last_message_time IS NULL, c.last_message_time DESC, c.id ASC
	`, userID, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	views := []chat.ConversationView{}
	for rows.Next() {
		var (
			v        chat.ConversationView
			lastID   sql.NullString
			lastTime sql.NullInt64
			preview  sql.NullString
			online   int
			lastSeen int64
		)
		err := rows.Scan(
			&v.ID, &v.Participants[0], &v.Participants[1],
			&lastID, &lastTime, &preview,
			&v.OtherUser.ID, &v.OtherUser.ExternalID, &v.OtherUser.Name,
			&v.OtherUser.Email, &v.OtherUser.AvatarURL, &online, &lastSeen,
			&v.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		v.LastMessageID = chat.MessageID(lastID.String)
		if lastTime.Valid {
			v.LastMessageTime = fromMillis(lastTime.Int64)
		}
		v.LastMessagePreview = preview.String
		v.OtherUser.Online = online != 0
		v.OtherUser.LastSeen = fromMillis(lastSeen)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return views, nil
}

// Conversation retrieves a single conversation by ID.
// Returns ErrNotFound if no such conversation exists.
func (s *Store) Conversation(ctx context.Context, id chat.ConversationID) (chat.Conversation, error) {
	return conversationIn(ctx, s.db, id)
}

// querier is the shared subset of sql.DB and sql.Tx used by reads that run
// both standalone and inside transactions.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func conversationIn(ctx context.Context, q querier, id chat.ConversationID) (chat.Conversation, error) {
	var (
		c        chat.Conversation
		lastID   sql.NullString
		lastTime sql.NullInt64
		preview  sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, participant_a, participant_b, last_message_id, last_message_time, last_message_preview
		FROM conversations
		WHERE id = ?
	`, id).Scan(&c.ID, &c.Participants[0], &c.Participants[1], &lastID, &lastTime, &preview)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("read conversation: %w", err)
	}
	c.LastMessageID = chat.MessageID(lastID.String)
	if lastTime.Valid {
		c.LastMessageTime = fromMillis(lastTime.Int64)
	}
	c.LastMessagePreview = preview.String
	return c, nil
}

// DeleteConversation removes a conversation and everything scoped to it.
// Dependents go first - read rows, then messages, then typing indicators,
// then the conversation itself - so a partial failure can never leave the
// conversation referencing deleted messages.
//
// Returns ErrNotFound if the conversation does not exist.
func (s *Store) DeleteConversation(ctx context.Context, id chat.ConversationID) ([]chat.Write, error) {
	tx, err := s.begin(ctx, "delete conversation")
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	conv, err := conversationIn(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("delete conversation: %w", err)
	}

	steps := []struct {
		name  string
		query string
	}{
		{"reads", `DELETE FROM message_reads WHERE message_id IN
			(SELECT id FROM messages WHERE conversation_id = ?)`},
		{"messages", `DELETE FROM messages WHERE conversation_id = ?`},
		{"typing", `DELETE FROM typing_indicators WHERE conversation_id = ?`},
		{"conversation", `DELETE FROM conversations WHERE id = ?`},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, id); err != nil {
			return nil, fmt.Errorf("delete conversation: delete %s: %w", step.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("delete conversation: commit: %w", err)
	}

	writes := []chat.Write{
		{Table: chat.TableConversations, Key: chat.ConversationKey(id)},
		{Table: chat.TableConversations, Key: chat.ParticipantKey(conv.Participants[0])},
		{Table: chat.TableConversations, Key: chat.ParticipantKey(conv.Participants[1])},
		{Table: chat.TableMessages, Key: chat.ConversationScope(id)},
		{Table: chat.TableTyping, Key: chat.ConversationScope(id)},
	}
	return writes, nil
}
