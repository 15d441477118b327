package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Ayu0607/pulse-chat/internal/chat"
)

// UpsertUserParams carries the profile fields supplied by the identity
// provider on sign-in.
type UpsertUserParams struct {
	ExternalID string
	Name       string
	Email      string
	AvatarURL  string
}

// UpsertUser finds the user with the given external identity key and
// patches name/email/avatar, or creates a new record if none exists.
// Either way the user is marked online with a refreshed last-seen.
//
// Uses ON CONFLICT(external_id) DO UPDATE so concurrent sign-ins for the
// same identity collapse onto one row.
func (s *Store) UpsertUser(ctx context.Context, p UpsertUserParams) (chat.UserID, []chat.Write, error) {
	if p.ExternalID == "" {
		return "", nil, fmt.Errorf("upsert user: external id is required")
	}

	now := millis(s.clock.Now())
	name := chat.NormalizeName(p.Name)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, external_id, name, email, avatar_url, online, last_seen)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			avatar_url = excluded.avatar_url,
			online = 1,
			last_seen = excluded.last_seen
	`, s.ids.NewID(), p.ExternalID, name, p.Email, p.AvatarURL, now)
	if err != nil {
		return "", nil, fmt.Errorf("upsert user: %w", err)
	}

	var id chat.UserID
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE external_id = ?`, p.ExternalID,
	).Scan(&id)
	if err != nil {
		return "", nil, fmt.Errorf("upsert user: select id: %w", err)
	}

	writes := []chat.Write{
		{Table: chat.TableUsers, Key: chat.UserExternalKey(p.ExternalID)},
		{Table: chat.TableUsers, Key: chat.UserKey(id)},
	}
	return id, writes, nil
}

// SetOnline patches the online flag and last-seen for an existing user.
// A missing user is a no-op, not an error: visibility events can race the
// first sign-in and must not fail the caller.
func (s *Store) SetOnline(ctx context.Context, externalID string, online bool) ([]chat.Write, error) {
	var id chat.UserID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE external_id = ?`, externalID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("set online: select id: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE users SET online = ?, last_seen = ? WHERE id = ?
	`, boolToInt(online), millis(s.clock.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("set online: %w", err)
	}

	writes := []chat.Write{
		{Table: chat.TableUsers, Key: chat.UserExternalKey(externalID)},
		{Table: chat.TableUsers, Key: chat.UserKey(id)},
	}
	return writes, nil
}

// User retrieves a user by internal ID.
// Returns ErrNotFound if no such user exists.
func (s *Store) User(ctx context.Context, id chat.UserID) (chat.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, email, avatar_url, online, last_seen
		FROM users
		WHERE id = ?
	`, id)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return chat.User{}, fmt.Errorf("read user: %w", err)
	}
	return u, nil
}

// UserByExternalID retrieves a user by the identity-provider key.
// Returns ErrNotFound if no such user exists.
func (s *Store) UserByExternalID(ctx context.Context, externalID string) (chat.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, email, avatar_url, online, last_seen
		FROM users
		WHERE external_id = ?
	`, externalID)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.User{}, fmt.Errorf("user ext %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return chat.User{}, fmt.Errorf("read user by external id: %w", err)
	}
	return u, nil
}

// SearchUsers returns users whose display name contains the query,
// case-insensitively, excluding the caller. Result ordering is
// unspecified; callers must not rely on it.
func (s *Store) SearchUsers(ctx context.Context, query, excludingExternalID string) ([]chat.User, error) {
	all, err := s.AllUsers(ctx, excludingExternalID)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	// Substring match in Go rather than LIKE: avoids wildcard escaping and
	// matches the normalized names exactly the way the directory stores them.
	needle := strings.ToLower(chat.NormalizeName(query))
	matched := make([]chat.User, 0, len(all))
	for _, u := range all {
		if strings.Contains(strings.ToLower(u.Name), needle) {
			matched = append(matched, u)
		}
	}
	return matched, nil
}

// AllUsers returns every user except the caller.
func (s *Store) AllUsers(ctx context.Context, excludingExternalID string) ([]chat.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, name, email, avatar_url, online, last_seen
		FROM users
		WHERE external_id != ?
	`, excludingExternalID)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []chat.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// scanner is the shared subset of sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (chat.User, error) {
	var (
		u        chat.User
		online   int
		lastSeen int64
	)
	if err := sc.Scan(&u.ID, &u.ExternalID, &u.Name, &u.Email, &u.AvatarURL, &online, &lastSeen); err != nil {
		return chat.User{}, err
	}
	u.Online = online != 0
	u.LastSeen = fromMillis(lastSeen)
	return u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
