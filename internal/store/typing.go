package store

import (
	"context"
	"fmt"

	"github.com/Ayu0607/pulse-chat/internal/chat"
)

// SetTyping refreshes or clears the typing indicator for (conversation,
// user). With typing=true the indicator is created or its timestamp
// refreshed (last writer wins); with typing=false it is deleted, and a
// delete with no indicator present is a no-op.
//
// Returns ErrNotFound when starting to type in a conversation that does
// not exist. Stop-typing never fails on a missing conversation: the stop
// can race a deletion and must stay benign.
func (s *Store) SetTyping(ctx context.Context, convID chat.ConversationID, userID chat.UserID, typing bool) ([]chat.Write, error) {
	if !typing {
		result, err := s.db.ExecContext(ctx, `
			DELETE FROM typing_indicators WHERE conversation_id = ? AND user_id = ?
		`, convID, userID)
		if err != nil {
			return nil, fmt.Errorf("clear typing: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("clear typing: rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return nil, nil
		}
		return []chat.Write{{Table: chat.TableTyping, Key: chat.ConversationScope(convID)}}, nil
	}

	if _, err := conversationIn(ctx, s.db, convID); err != nil {
		return nil, fmt.Errorf("set typing: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO typing_indicators (conversation_id, user_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET updated_at = excluded.updated_at
	`, convID, userID, millis(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("set typing: %w", err)
	}

	return []chat.Write{{Table: chat.TableTyping, Key: chat.ConversationScope(convID)}}, nil
}

// ActiveTypers returns the users currently typing in a conversation,
// excluding the viewer. Staleness is a read-time filter: only indicators
// strictly newer than now minus the liveness window are surfaced, and
// stale rows are left in place until superseded or cascaded away.
func (s *Store) ActiveTypers(ctx context.Context, convID chat.ConversationID, excluding chat.UserID) ([]chat.User, error) {
	cutoff := millis(s.clock.Now().Add(-chat.TypingWindow))

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.external_id, u.name, u.email, u.avatar_url, u.online, u.last_seen
		FROM typing_indicators t
		JOIN users u ON u.id = t.user_id
		WHERE t.conversation_id = ? AND t.user_id != ? AND t.updated_at > ?
		ORDER BY t.user_id ASC
	`, convID, excluding, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query typers: %w", err)
	}
	defer rows.Close()

	users := []chat.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan typer: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate typers: %w", err)
	}
	return users, nil
}
