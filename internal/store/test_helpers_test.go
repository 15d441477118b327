package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ayu0607/pulse-chat/internal/chat"
	"github.com/Ayu0607/pulse-chat/internal/testutil"
)

// testEpoch is the instant every test clock starts at.
var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a store on a temp file with a fake clock and
// sequential IDs so records and timestamps are deterministic.
func createTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(testEpoch)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock), WithIDGenerator(testutil.NewSequentialIDs("rec")))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// createTestUser signs in a user and returns its internal ID.
func createTestUser(t *testing.T, s *Store, externalID, name string) chat.UserID {
	t.Helper()
	id, _, err := s.UpsertUser(context.Background(), UpsertUserParams{
		ExternalID: externalID,
		Name:       name,
		Email:      externalID + "@example.com",
	})
	if err != nil {
		t.Fatalf("UpsertUser(%s) failed: %v", externalID, err)
	}
	return id
}

// createTestConversation creates (or finds) the conversation for a pair.
func createTestConversation(t *testing.T, s *Store, a, b chat.UserID) chat.ConversationID {
	t.Helper()
	id, _, err := s.GetOrCreateConversation(context.Background(), a, b)
	if err != nil {
		t.Fatalf("GetOrCreateConversation(%s, %s) failed: %v", a, b, err)
	}
	return id
}
