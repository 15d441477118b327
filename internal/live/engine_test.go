package live

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ayu0607/pulse-chat/internal/chat"
	"github.com/Ayu0607/pulse-chat/internal/store"
	"github.com/Ayu0607/pulse-chat/internal/testutil"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*store.Store, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(testEpoch)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path, store.WithClock(clock), store.WithIDGenerator(testutil.NewSequentialIDs("rec")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// startTestEngine creates an engine over a fresh store and runs its commit
// loop until the test ends.
func startTestEngine(t *testing.T) (*Engine, *testutil.FakeClock) {
	t.Helper()
	s, clock := setupTestStore(t)

	e := New(s)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, clock
}

// signInUser creates a directory record without going through the engine,
// so tests control exactly which commits reach subscribers.
func signInUser(t *testing.T, s *store.Store, externalID, name string) chat.UserID {
	t.Helper()
	id, _, err := s.UpsertUser(context.Background(), store.UpsertUserParams{
		ExternalID: externalID,
		Name:       name,
		Email:      name + "@example.com",
	})
	require.NoError(t, err)
	return id
}

func waitForUpdate(t *testing.T, sub *Subscription) Result {
	t.Helper()
	select {
	case r, ok := <-sub.Updates():
		require.True(t, ok, "updates channel closed unexpectedly")
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Result{}
	}
}

func assertNoUpdate(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case r := <-sub.Updates():
		t.Fatalf("unexpected update delivered: seq=%d err=%v", r.Seq, r.Err)
	case <-time.After(50 * time.Millisecond):
	}
}

// countingQuery executes a counter instead of a store read, exposing how
// many times the engine ran it.
func countingQuery(name string, deps []chat.Dep, count *atomic.Int64) Query {
	return Query{
		Name: name,
		Deps: deps,
		Run: func(ctx context.Context) (any, error) {
			return count.Add(1), nil
		},
	}
}

func TestEngine_Subscribe_InitialResult(t *testing.T) {
	e, _ := startTestEngine(t)

	var count atomic.Int64
	q := countingQuery("test.count", []chat.Dep{{Table: chat.TableUsers}}, &count)

	initial, sub := e.Subscribe(context.Background(), q)
	defer sub.Cancel()

	require.NoError(t, initial.Err)
	assert.Equal(t, int64(1), initial.Value, "subscribe must execute the query once")
	assert.Equal(t, int64(0), initial.Seq, "no commits yet")
	assert.Equal(t, 1, e.SubscriberCount())
}

func TestEngine_Subscribe_CommitDuringInitialQueryRedelivers(t *testing.T) {
	e, _ := startTestEngine(t)
	ctx := context.Background()

	// The first execution parks on the gate, so a commit can land and be
	// fully processed while Subscribe is still computing the initial
	// result. The subscription must already be registered at that point:
	// the commit re-delivers through Updates() instead of vanishing.
	var state atomic.Int64
	gate := make(chan struct{})
	var first atomic.Bool
	first.Store(true)
	q := Query{
		Name: "test.gated",
		Deps: []chat.Dep{{Table: chat.TableUsers}},
		Run: func(ctx context.Context) (any, error) {
			if first.CompareAndSwap(true, false) {
				<-gate
			}
			return state.Load(), nil
		},
	}

	type subscribed struct {
		initial Result
		sub     *Subscription
	}
	done := make(chan subscribed, 1)
	go func() {
		initial, sub := e.Subscribe(ctx, q)
		done <- subscribed{initial, sub}
	}()

	require.Eventually(t, func() bool { return !first.Load() },
		2*time.Second, time.Millisecond, "initial execution never started")

	require.NoError(t, e.Apply(ctx, "test.op", func(ctx context.Context) ([]chat.Write, error) {
		state.Add(1)
		return []chat.Write{{Table: chat.TableUsers}}, nil
	}))
	require.Eventually(t, func() bool { return e.QueueLen() == 0 },
		2*time.Second, time.Millisecond, "commit was never drained")

	close(gate)
	got := <-done
	defer got.sub.Cancel()
	require.NoError(t, got.initial.Err)
	assert.Equal(t, int64(0), got.initial.Seq, "initial seq is captured at registration")

	// The racing commit must reach the subscriber even though the initial
	// result may already reflect it. A duplicate is fine; a gap is not.
	r := waitForUpdate(t, got.sub)
	require.NoError(t, r.Err)
	assert.Equal(t, int64(1), r.Seq)
	assert.Equal(t, int64(1), r.Value)
}

func TestEngine_Run_SurvivesResidualSignal(t *testing.T) {
	s, _ := setupTestStore(t)
	e := New(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A commit enqueued before the loop starts leaves its signal token
	// buffered. The loop drains the commit on entry via TryDequeue, then
	// consumes the token against an empty queue. That token must re-park
	// the loop, not end it.
	require.NoError(t, e.Apply(ctx, "op.users", func(ctx context.Context) ([]chat.Write, error) {
		return []chat.Write{{Table: chat.TableUsers}}, nil
	}))

	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx) }()

	var count atomic.Int64
	_, sub := e.Subscribe(ctx, countingQuery("test.typing", []chat.Dep{{Table: chat.TableTyping}}, &count))
	defer sub.Cancel()

	require.NoError(t, e.Apply(ctx, "op.typing", func(ctx context.Context) ([]chat.Write, error) {
		return []chat.Write{{Table: chat.TableTyping}}, nil
	}))

	r := waitForUpdate(t, sub)
	require.NoError(t, r.Err)
	assert.Equal(t, int64(2), r.Seq)

	select {
	case err := <-runDone:
		t.Fatalf("run loop exited prematurely: %v", err)
	default:
	}

	cancel()
	<-runDone
}

func TestEngine_Subscribe_InitialErrorStillRegisters(t *testing.T) {
	e, _ := startTestEngine(t)

	failOnce := true
	q := Query{
		Name: "test.flaky",
		Deps: []chat.Dep{{Table: chat.TableUsers}},
		Run: func(ctx context.Context) (any, error) {
			if failOnce {
				failOnce = false
				return nil, errors.New("transient")
			}
			return "recovered", nil
		},
	}

	initial, sub := e.Subscribe(context.Background(), q)
	defer sub.Cancel()

	require.Error(t, initial.Err)
	assert.Equal(t, 1, e.SubscriberCount(), "a failed first execution keeps the subscription")

	// The next triggering commit retries and succeeds.
	err := e.Apply(context.Background(), "test.op", func(ctx context.Context) ([]chat.Write, error) {
		return []chat.Write{{Table: chat.TableUsers}}, nil
	})
	require.NoError(t, err)

	r := waitForUpdate(t, sub)
	require.NoError(t, r.Err)
	assert.Equal(t, "recovered", r.Value)
}

func TestEngine_Apply_MutationErrorCommitsNothing(t *testing.T) {
	e, _ := startTestEngine(t)

	var count atomic.Int64
	_, sub := e.Subscribe(context.Background(), countingQuery("test.count", []chat.Dep{{Table: chat.TableUsers}}, &count))
	defer sub.Cancel()

	wantErr := errors.New("mutation failed")
	err := e.Apply(context.Background(), "test.op", func(ctx context.Context) ([]chat.Write, error) {
		return []chat.Write{{Table: chat.TableUsers}}, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	assertNoUpdate(t, sub)
	assert.Equal(t, int64(0), e.Clock().Current(), "failed mutations must not consume seqs")
}

func TestEngine_Apply_EmptyWritesCommitsNothing(t *testing.T) {
	e, _ := startTestEngine(t)

	var count atomic.Int64
	_, sub := e.Subscribe(context.Background(), countingQuery("test.count", []chat.Dep{{Table: chat.TableUsers}}, &count))
	defer sub.Cancel()

	err := e.Apply(context.Background(), "test.noop", func(ctx context.Context) ([]chat.Write, error) {
		return nil, nil
	})
	require.NoError(t, err)

	assertNoUpdate(t, sub)
	assert.Equal(t, int64(0), e.Clock().Current())
}

func TestEngine_ReRunsOnMatchingCommit(t *testing.T) {
	e, _ := startTestEngine(t)

	var count atomic.Int64
	_, sub := e.Subscribe(context.Background(), countingQuery("test.count", []chat.Dep{{Table: chat.TableUsers}}, &count))
	defer sub.Cancel()

	err := e.Apply(context.Background(), "test.op", func(ctx context.Context) ([]chat.Write, error) {
		return []chat.Write{{Table: chat.TableUsers, Key: chat.UserKey("u1")}}, nil
	})
	require.NoError(t, err)

	r := waitForUpdate(t, sub)
	require.NoError(t, r.Err)
	assert.Equal(t, int64(1), r.Seq)
	assert.Equal(t, int64(2), r.Value, "one initial execution plus one re-run")
}

func TestEngine_SkipsUnrelatedCommit(t *testing.T) {
	e, _ := startTestEngine(t)

	var count atomic.Int64
	deps := []chat.Dep{{Table: chat.TableTyping, Key: chat.ConversationScope("c1")}}
	_, sub := e.Subscribe(context.Background(), countingQuery("test.typing", deps, &count))
	defer sub.Cancel()

	// Unrelated table, then unrelated key, then a match.
	ctx := context.Background()
	require.NoError(t, e.Apply(ctx, "op.users", func(ctx context.Context) ([]chat.Write, error) {
		return []chat.Write{{Table: chat.TableUsers}}, nil
	}))
	require.NoError(t, e.Apply(ctx, "op.otherConv", func(ctx context.Context) ([]chat.Write, error) {
		return []chat.Write{{Table: chat.TableTyping, Key: chat.ConversationScope("c2")}}, nil
	}))
	require.NoError(t, e.Apply(ctx, "op.match", func(ctx context.Context) ([]chat.Write, error) {
		return []chat.Write{{Table: chat.TableTyping, Key: chat.ConversationScope("c1")}}, nil
	}))

	// Only the third commit lands: the delivered seq skips straight to 3.
	r := waitForUpdate(t, sub)
	require.NoError(t, r.Err)
	assert.Equal(t, int64(3), r.Seq)
	assert.Equal(t, int64(2), r.Value, "unrelated commits must not re-run the query")
	assertNoUpdate(t, sub)
}

func TestEngine_MonotonicDelivery(t *testing.T) {
	e, _ := startTestEngine(t)

	var count atomic.Int64
	_, sub := e.Subscribe(context.Background(), countingQuery("test.count", []chat.Dep{{Table: chat.TableUsers}}, &count))
	defer sub.Cancel()

	const commits = 5
	for i := 0; i < commits; i++ {
		require.NoError(t, e.Apply(context.Background(), "test.op", func(ctx context.Context) ([]chat.Write, error) {
			return []chat.Write{{Table: chat.TableUsers}}, nil
		}))
	}

	var last int64
	for i := 0; i < commits; i++ {
		r := waitForUpdate(t, sub)
		require.NoError(t, r.Err)
		assert.Greater(t, r.Seq, last, "deliveries must arrive in commit order")
		last = r.Seq
	}
	assert.Equal(t, int64(commits), last)
}

func TestEngine_ReExecutionErrorDelivered(t *testing.T) {
	e, _ := startTestEngine(t)

	calls := 0
	q := Query{
		Name: "test.flaky",
		Deps: []chat.Dep{{Table: chat.TableUsers}},
		Run: func(ctx context.Context) (any, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("transient")
			}
			return calls, nil
		},
	}
	initial, sub := e.Subscribe(context.Background(), q)
	defer sub.Cancel()
	require.NoError(t, initial.Err)

	ctx := context.Background()
	commitUsers := func() {
		require.NoError(t, e.Apply(ctx, "test.op", func(ctx context.Context) ([]chat.Write, error) {
			return []chat.Write{{Table: chat.TableUsers}}, nil
		}))
	}

	commitUsers()
	r := waitForUpdate(t, sub)
	require.Error(t, r.Err, "the failed re-execution surfaces as an error result")
	assert.Equal(t, int64(1), r.Seq)

	// The subscription survives and recovers on the next commit.
	commitUsers()
	r = waitForUpdate(t, sub)
	require.NoError(t, r.Err)
	assert.Equal(t, 3, r.Value)
}

func TestEngine_CancelStopsDeliveries(t *testing.T) {
	e, _ := startTestEngine(t)

	var count atomic.Int64
	_, sub := e.Subscribe(context.Background(), countingQuery("test.count", []chat.Dep{{Table: chat.TableUsers}}, &count))

	sub.Cancel()
	assert.Equal(t, 0, e.SubscriberCount())

	_, ok := <-sub.Updates()
	assert.False(t, ok, "updates channel must be closed after cancel")

	// Cancelling twice is safe.
	sub.Cancel()
}

func TestEngine_IndependentSubscriptions(t *testing.T) {
	e, _ := startTestEngine(t)
	ctx := context.Background()

	var usersCount, typingCount atomic.Int64
	_, usersSub := e.Subscribe(ctx, countingQuery("test.users", []chat.Dep{{Table: chat.TableUsers}}, &usersCount))
	defer usersSub.Cancel()
	_, typingSub := e.Subscribe(ctx, countingQuery("test.typing", []chat.Dep{{Table: chat.TableTyping}}, &typingCount))
	defer typingSub.Cancel()

	require.NoError(t, e.Apply(ctx, "op.users", func(ctx context.Context) ([]chat.Write, error) {
		return []chat.Write{{Table: chat.TableUsers}}, nil
	}))

	r := waitForUpdate(t, usersSub)
	assert.Equal(t, int64(1), r.Seq)
	assertNoUpdate(t, typingSub)
}

func TestEngine_StopPreventsPropagationNotDurability(t *testing.T) {
	s, _ := setupTestStore(t)
	e := New(s)
	e.Stop()

	// The mutation still lands in the store even though the loop is gone.
	id, err := e.UpsertUser(context.Background(), store.UpsertUserParams{
		ExternalID: "clerk|alice", Name: "Alice",
	})
	require.NoError(t, err)

	u, err := s.User(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)
}

func TestEngine_EndToEnd_MessageFlow(t *testing.T) {
	e, clock := startTestEngine(t)
	ctx := context.Background()
	s := e.Store()

	alice := signInUser(t, s, "clerk|alice", "Alice")
	bob := signInUser(t, s, "clerk|bob", "Bob")

	conv, err := e.GetOrCreateConversation(ctx, alice, bob)
	require.NoError(t, err)

	initial, msgSub := e.Subscribe(ctx, MessageListQuery(s, conv))
	defer msgSub.Cancel()
	require.NoError(t, initial.Err)
	assert.Empty(t, initial.Value.([]chat.MessageView))

	clock.Advance(time.Second)
	msgID, err := e.SendMessage(ctx, conv, bob, "hello alice")
	require.NoError(t, err)

	r := waitForUpdate(t, msgSub)
	require.NoError(t, r.Err)
	msgs := r.Value.([]chat.MessageView)
	require.Len(t, msgs, 1)
	assert.Equal(t, msgID, msgs[0].ID)
	assert.Equal(t, "hello alice", msgs[0].Body)
	assert.Equal(t, "Bob", msgs[0].Sender.Name)
	assert.Equal(t, []chat.UserID{bob}, msgs[0].ReadBy)

	// Marking read pushes the grown read-by set to the same subscription.
	require.NoError(t, e.MarkRead(ctx, conv, alice))
	r = waitForUpdate(t, msgSub)
	require.NoError(t, r.Err)
	msgs = r.Value.([]chat.MessageView)
	require.Len(t, msgs, 1)
	assert.ElementsMatch(t, []chat.UserID{alice, bob}, msgs[0].ReadBy)

	// A second mark-read changes nothing and must trigger nothing.
	require.NoError(t, e.MarkRead(ctx, conv, alice))
	assertNoUpdate(t, msgSub)
}

func TestEngine_EndToEnd_ConversationList(t *testing.T) {
	e, clock := startTestEngine(t)
	ctx := context.Background()
	s := e.Store()

	alice := signInUser(t, s, "clerk|alice", "Alice")
	bob := signInUser(t, s, "clerk|bob", "Bob")
	carol := signInUser(t, s, "clerk|carol", "Carol")

	initial, listSub := e.Subscribe(ctx, ConversationListQuery(s, alice))
	defer listSub.Cancel()
	require.NoError(t, initial.Err)
	assert.Empty(t, initial.Value.([]chat.ConversationView))

	// A conversation alice is not part of must not reach her list.
	_, err := e.GetOrCreateConversation(ctx, bob, carol)
	require.NoError(t, err)
	assertNoUpdate(t, listSub)

	conv, err := e.GetOrCreateConversation(ctx, alice, bob)
	require.NoError(t, err)

	r := waitForUpdate(t, listSub)
	require.NoError(t, r.Err)
	views := r.Value.([]chat.ConversationView)
	require.Len(t, views, 1)
	assert.Equal(t, conv, views[0].ID)
	assert.Equal(t, "Bob", views[0].OtherUser.Name)
	assert.Equal(t, 0, views[0].UnreadCount)

	clock.Advance(time.Second)
	_, err = e.SendMessage(ctx, conv, bob, "ping")
	require.NoError(t, err)

	r = waitForUpdate(t, listSub)
	require.NoError(t, r.Err)
	views = r.Value.([]chat.ConversationView)
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].UnreadCount)
	assert.Equal(t, "ping", views[0].LastMessagePreview)

	// Asking for the same pair again is a pure read: no delivery.
	again, err := e.GetOrCreateConversation(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, conv, again)
	assertNoUpdate(t, listSub)
}

func TestEngine_EndToEnd_TypingPresence(t *testing.T) {
	e, clock := startTestEngine(t)
	ctx := context.Background()
	s := e.Store()

	alice := signInUser(t, s, "clerk|alice", "Alice")
	bob := signInUser(t, s, "clerk|bob", "Bob")
	conv, err := e.GetOrCreateConversation(ctx, alice, bob)
	require.NoError(t, err)

	initial, typingSub := e.Subscribe(ctx, TypingUsersQuery(s, conv, alice))
	defer typingSub.Cancel()
	require.NoError(t, initial.Err)
	assert.Empty(t, initial.Value.([]chat.User))

	require.NoError(t, e.SetTyping(ctx, conv, bob, true))
	r := waitForUpdate(t, typingSub)
	require.NoError(t, r.Err)
	typers := r.Value.([]chat.User)
	require.Len(t, typers, 1)
	assert.Equal(t, bob, typers[0].ID)

	// The indicator expires with no further write: expiry is read-time.
	clock.Advance(chat.TypingWindow)
	assertNoUpdate(t, typingSub)

	// An explicit stop deletes the row and pushes the empty state.
	require.NoError(t, e.SetTyping(ctx, conv, bob, false))
	r = waitForUpdate(t, typingSub)
	require.NoError(t, r.Err)
	assert.Empty(t, r.Value.([]chat.User))
}

func TestEngine_EndToEnd_DeleteConversation(t *testing.T) {
	e, _ := startTestEngine(t)
	ctx := context.Background()
	s := e.Store()

	alice := signInUser(t, s, "clerk|alice", "Alice")
	bob := signInUser(t, s, "clerk|bob", "Bob")
	conv, err := e.GetOrCreateConversation(ctx, alice, bob)
	require.NoError(t, err)
	_, err = e.SendMessage(ctx, conv, bob, "soon gone")
	require.NoError(t, err)

	initial, convSub := e.Subscribe(ctx, ConversationQuery(s, conv))
	defer convSub.Cancel()
	require.NoError(t, initial.Err)
	require.NotNil(t, initial.Value)

	require.NoError(t, e.DeleteConversation(ctx, conv))

	r := waitForUpdate(t, convSub)
	require.NoError(t, r.Err)
	assert.Nil(t, r.Value, "a deleted record is delivered as a nil value, not an error")
}

func TestEngine_AbsentRecordSubscription(t *testing.T) {
	e, _ := startTestEngine(t)
	ctx := context.Background()
	s := e.Store()

	// Subscribing to a user that does not exist yet yields nil, then the
	// record once it appears.
	initial, sub := e.Subscribe(ctx, CurrentUserQuery(s, "clerk|alice"))
	defer sub.Cancel()
	require.NoError(t, initial.Err)
	assert.Nil(t, initial.Value)

	_, err := e.UpsertUser(ctx, store.UpsertUserParams{ExternalID: "clerk|alice", Name: "Alice"})
	require.NoError(t, err)

	r := waitForUpdate(t, sub)
	require.NoError(t, r.Err)
	u, ok := r.Value.(chat.User)
	require.True(t, ok)
	assert.Equal(t, "Alice", u.Name)
}
