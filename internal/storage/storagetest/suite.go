// Package storagetest holds the behavioral suite every storage.Store driver
// must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convo-chat/internal/storage"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateConversationAssignsIncreasingIDs", testCreateConversation},
		{"GetConversationNotFound", testGetConversationNotFound},
		{"AppendPreservesOrder", testAppendOrder},
		{"AppendRejectsUnknownConversation", testAppendUnknownConversation},
		{"AppendRejectsInvalidSender", testAppendInvalidSender},
		{"ListUnknownConversationIsEmpty", testListUnknown},
		{"AppendExchangeIsAdjacent", testAppendExchange},
		{"ResolveConversation", testResolve},
		{"DeleteCascadesAndNeverReusesIDs", testDelete},
		{"ReadTwiceIsStable", testReadTwice},
		{"ConcurrentAppendsAcrossConversations", testConcurrentAppends},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func ptr(v int64) *int64 { return &v }

func testCreateConversation(t *testing.T, s storage.Store) {
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, nil)
	require.NoError(t, err)
	second, err := s.CreateConversation(ctx, ptr(42))
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.Nil(t, first.OwnerID)

	got, err := s.GetConversation(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OwnerID)
	assert.Equal(t, int64(42), *got.OwnerID)
	assert.False(t, got.CreatedAt.IsZero())
}

func testGetConversationNotFound(t *testing.T, s storage.Store) {
	_, err := s.GetConversation(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
}

func testAppendOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, nil)
	require.NoError(t, err)

	want := []string{"one", "two", "three", "four"}
	for i, content := range want {
		sender := storage.SenderUser
		if i%2 == 1 {
			sender = storage.SenderBot
		}
		_, err := s.Append(ctx, conv.ID, sender, content)
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, len(want))
	for i, m := range msgs {
		assert.Equal(t, want[i], m.Content)
		assert.Equal(t, conv.ID, m.ConversationID)
		if i > 0 {
			assert.Greater(t, m.ID, msgs[i-1].ID, "ids must increase")
		}
	}
	assert.Equal(t, storage.SenderUser, msgs[0].Sender)
	assert.Equal(t, storage.SenderBot, msgs[1].Sender)
}

func testAppendUnknownConversation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.Append(ctx, 404, storage.SenderUser, "hello")
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)

	_, _, err = s.AppendExchange(ctx, 404, "hello", "hi")
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)
}

func testAppendInvalidSender(t *testing.T, s storage.Store) {
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, nil)
	require.NoError(t, err)

	_, err = s.Append(ctx, conv.ID, storage.Sender("system"), "hello")
	assert.ErrorIs(t, err, storage.ErrInvalidSender)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func testListUnknown(t *testing.T, s storage.Store) {
	msgs, err := s.ListMessages(context.Background(), 12345)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func testAppendExchange(t *testing.T, s storage.Store) {
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, nil)
	require.NoError(t, err)

	user, bot, err := s.AppendExchange(ctx, conv.ID, "hello", "Hello there!")
	require.NoError(t, err)
	assert.Equal(t, storage.SenderUser, user.Sender)
	assert.Equal(t, storage.SenderBot, bot.Sender)
	assert.Greater(t, bot.ID, user.ID)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, user.ID, msgs[0].ID)
	assert.Equal(t, bot.ID, msgs[1].ID)
	assert.Equal(t, "Hello there!", msgs[1].Content)
}

func testResolve(t *testing.T, s storage.Store) {
	ctx := context.Background()

	fresh, created, err := s.ResolveConversation(ctx, nil, ptr(1))
	require.NoError(t, err)
	assert.True(t, created)

	same, created, err := s.ResolveConversation(ctx, &fresh.ID, ptr(1))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, fresh.ID, same.ID)

	stale := fresh.ID + 1000
	replacement, created, err := s.ResolveConversation(ctx, &stale, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, stale, replacement.ID)
	assert.NotEqual(t, fresh.ID, replacement.ID)

	_, err = s.GetConversation(ctx, replacement.ID)
	assert.NoError(t, err, "a resolved conversation must exist")
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, nil)
	require.NoError(t, err)
	_, _, err = s.AppendExchange(ctx, conv.ID, "hello", "hi")
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))
	assert.ErrorIs(t, s.DeleteConversation(ctx, conv.ID), storage.ErrConversationNotFound)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "messages are deleted with their conversation")

	next, created, err := s.ResolveConversation(ctx, &conv.ID, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Greater(t, next.ID, conv.ID, "ids are never reused")
}

func testReadTwice(t *testing.T, s storage.Store) {
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := s.AppendExchange(ctx, conv.ID, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		require.NoError(t, err)
	}

	first, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	second, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("history changed between reads (-first +second):\n%s", diff)
	}
}

func testConcurrentAppends(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const conversations, perConversation = 4, 20

	ids := make([]int64, conversations)
	for i := range ids {
		conv, err := s.CreateConversation(ctx, nil)
		require.NoError(t, err)
		ids[i] = conv.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, conversations*perConversation)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for j := 0; j < perConversation; j++ {
				if _, _, err := s.AppendExchange(ctx, id, fmt.Sprintf("q%d", j), fmt.Sprintf("a%d", j)); err != nil {
					errs <- err
					return
				}
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, id := range ids {
		msgs, err := s.ListMessages(ctx, id)
		require.NoError(t, err)
		require.Len(t, msgs, 2*perConversation)
		for j := 0; j < perConversation; j++ {
			assert.Equal(t, storage.SenderUser, msgs[2*j].Sender)
			assert.Equal(t, fmt.Sprintf("q%d", j), msgs[2*j].Content)
			assert.Equal(t, storage.SenderBot, msgs[2*j+1].Sender)
			assert.Equal(t, fmt.Sprintf("a%d", j), msgs[2*j+1].Content)
		}
	}
}
