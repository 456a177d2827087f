package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMessage(from, to, body string, at time.Time) *Message {
	return &Message{SenderEmail: from, ReceiverEmail: to, MessageText: StringPtr(body), Type: TypeText, Timestamp: at}
}

func TestMemoryStoreConversationOrderAndDirection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	_, err := s.SaveMessage(ctx, textMessage("alice@example.com", "bob@example.com", "m1", now))
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, textMessage("BOB@example.com", "alice@example.com", "m2", now.Add(time.Millisecond)))
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, textMessage("alice@example.com", "carol@example.com", "other", now))
	require.NoError(t, err)
	// same timestamp as m2: insertion order decides
	_, err = s.SaveMessage(ctx, textMessage("alice@example.com", "bob@example.com", "m3", now.Add(time.Millisecond)))
	require.NoError(t, err)

	history, err := s.GetConversation(ctx, "Bob@Example.com", "alice@example.com")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "m1", history[0].Text())
	assert.Equal(t, "m2", history[1].Text())
	assert.Equal(t, "m3", history[2].Text())
	assert.Equal(t, "bob@example.com", history[1].SenderEmail)
}

func TestMemoryStoreSaveAssignsIDAndCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := textMessage("a@x.com", "b@x.com", "hi", time.Now())
	saved, err := s.SaveMessage(ctx, in)
	require.NoError(t, err)
	assert.False(t, saved.ID.IsZero())
	assert.True(t, in.ID.IsZero(), "input must not be mutated")

	saved.SenderEmail = "mallory@x.com"
	history, err := s.GetConversation(ctx, "a@x.com", "b@x.com")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "a@x.com", history[0].SenderEmail, "stored records are immutable")
}

func TestMemoryStoreEmptyConversation(t *testing.T) {
	history, err := NewMemoryStore().GetConversation(context.Background(), "a@x.com", "b@x.com")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestMemoryStoreRecentChats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	_, _ = s.SaveMessage(ctx, textMessage("alice@example.com", "bob@example.com", "old", now))
	_, _ = s.SaveMessage(ctx, textMessage("carol@example.com", "alice@example.com", "hey", now.Add(time.Second)))
	_, _ = s.SaveMessage(ctx, textMessage("bob@example.com", "alice@example.com", "newest", now.Add(2*time.Second)))
	_, _ = s.SaveMessage(ctx, &Message{
		SenderEmail: "dave@example.com", ReceiverEmail: "erin@example.com",
		Type: TypeFile, FileURL: StringPtr("/uploads/x.pdf"), OriginalName: StringPtr("x.pdf"), Timestamp: now,
	})

	partners, err := s.GetRecentChats(ctx, "ALICE@example.com", 10)
	require.NoError(t, err)
	require.Len(t, partners, 2)
	assert.Equal(t, "bob@example.com", partners[0].Email)
	assert.Equal(t, "newest", partners[0].LastMessage)
	assert.Equal(t, "carol@example.com", partners[1].Email)

	partners, err = s.GetRecentChats(ctx, "alice@example.com", 1)
	require.NoError(t, err)
	assert.Len(t, partners, 1)

	partners, err = s.GetRecentChats(ctx, "erin@example.com", 0)
	require.NoError(t, err)
	require.Len(t, partners, 1)
	assert.Equal(t, "x.pdf", partners[0].LastMessage)
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().SaveMessage(ctx, textMessage("a@x.com", "b@x.com", "hi", time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
}
