package live

import (
	"context"
	"errors"

	"github.com/Ayu0607/pulse-chat/internal/chat"
	"github.com/Ayu0607/pulse-chat/internal/store"
)

// Query constructors. Each binds a store read to the dependency set that
// must trigger its re-execution. Dependencies err on the side of
// over-triggering (an unkeyed users dep re-runs on any directory write);
// they must never under-trigger.
//
// Single-record queries surface a missing record as a nil Value, not an
// error: absence is a valid, subscribable state.

// CurrentUserQuery is the signed-in user's own record, by identity key.
func CurrentUserQuery(s *store.Store, externalID string) Query {
	return Query{
		Name: "users.current",
		Deps: []chat.Dep{
			{Table: chat.TableUsers, Key: chat.UserExternalKey(externalID)},
		},
		Run: func(ctx context.Context) (any, error) {
			return absentOnNotFound(s.UserByExternalID(ctx, externalID))
		},
	}
}

// UserQuery is a single user record by internal ID.
func UserQuery(s *store.Store, id chat.UserID) Query {
	return Query{
		Name: "users.get",
		Deps: []chat.Dep{
			{Table: chat.TableUsers, Key: chat.UserKey(id)},
		},
		Run: func(ctx context.Context) (any, error) {
			return absentOnNotFound(s.User(ctx, id))
		},
	}
}

// AllUsersQuery is the directory listing, excluding the caller.
func AllUsersQuery(s *store.Store, excludingExternalID string) Query {
	return Query{
		Name: "users.all",
		Deps: []chat.Dep{
			{Table: chat.TableUsers}, // any directory write
		},
		Run: func(ctx context.Context) (any, error) {
			return s.AllUsers(ctx, excludingExternalID)
		},
	}
}

// SearchUsersQuery is a case-insensitive substring search on display
// names, excluding the caller.
func SearchUsersQuery(s *store.Store, query, excludingExternalID string) Query {
	return Query{
		Name: "users.search",
		Deps: []chat.Dep{
			{Table: chat.TableUsers}, // any directory write
		},
		Run: func(ctx context.Context) (any, error) {
			return s.SearchUsers(ctx, query, excludingExternalID)
		},
	}
}

// ConversationListQuery is the user's conversation list with other-user
// and unread enrichment.
//
// The unkeyed messages dep mirrors the unread computation: any message
// write could change an unread count, and keying per conversation would
// require re-registering deps as conversations appear. Over-triggering
// here is the documented trade-off.
func ConversationListQuery(s *store.Store, userID chat.UserID) Query {
	return Query{
		Name: "conversations.list",
		Deps: []chat.Dep{
			{Table: chat.TableConversations, Key: chat.ParticipantKey(userID)},
			{Table: chat.TableMessages},
			{Table: chat.TableUsers}, // other-user profile fields
		},
		Run: func(ctx context.Context) (any, error) {
			return s.ConversationsFor(ctx, userID)
		},
	}
}

// ConversationQuery is a single conversation record.
func ConversationQuery(s *store.Store, id chat.ConversationID) Query {
	return Query{
		Name: "conversations.get",
		Deps: []chat.Dep{
			{Table: chat.TableConversations, Key: chat.ConversationKey(id)},
		},
		Run: func(ctx context.Context) (any, error) {
			return absentOnNotFound(s.Conversation(ctx, id))
		},
	}
}

// MessageListQuery is a conversation's ordered messages with resolved
// senders.
func MessageListQuery(s *store.Store, convID chat.ConversationID) Query {
	return Query{
		Name: "messages.list",
		Deps: []chat.Dep{
			{Table: chat.TableMessages, Key: chat.ConversationScope(convID)},
			{Table: chat.TableUsers}, // sender profile fields
		},
		Run: func(ctx context.Context) (any, error) {
			return s.Messages(ctx, convID)
		},
	}
}

// TypingUsersQuery is the conversation's active typers, excluding the
// viewer.
func TypingUsersQuery(s *store.Store, convID chat.ConversationID, viewer chat.UserID) Query {
	return Query{
		Name: "typing.active",
		Deps: []chat.Dep{
			{Table: chat.TableTyping, Key: chat.ConversationScope(convID)},
			{Table: chat.TableUsers}, // typer profile fields
		},
		Run: func(ctx context.Context) (any, error) {
			return s.ActiveTypers(ctx, convID, viewer)
		},
	}
}

// absentOnNotFound maps the store's not-found to a nil result value so
// subscriptions can observe absence as a state rather than an error.
func absentOnNotFound[T any](v T, err error) (any, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
