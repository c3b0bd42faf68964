package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
)

func TestPostChatValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session.ID

	_, err := f.svc.PostChat(ctx, sid, ChatPost{SenderID: newID()})
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = f.svc.PostChat(ctx, sid, ChatPost{ChatType: domain.ChatTypeIndividual, SenderID: newID(), Text: "hi"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = f.svc.PostChat(ctx, sid, ChatPost{ChatType: "broadcast", SenderID: newID(), Text: "hi"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestPostChatDefaults(t *testing.T) {
	f := newFixture(t)
	sender := "abcdef12-0000-4000-8000-000000000000"

	msg, err := f.svc.PostChat(context.Background(), f.session.ID, ChatPost{SenderID: sender, TargetID: newID(), Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.ChatTypeGroup, msg.ChatType)
	assert.Empty(t, msg.TargetID, "group messages carry no target")
	assert.Equal(t, "Participant abcd", msg.SenderName)
	assert.Equal(t, f.clock.Now(), msg.Timestamp)
	assert.NotZero(t, msg.ID)
}

func TestUnreadCountsAndMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session.ID
	alice, bob := newID(), newID()

	_, err := f.svc.PostChat(ctx, sid, ChatPost{SenderID: alice, SenderName: "Alice", Text: "hello all"})
	require.NoError(t, err)
	_, err = f.svc.PostChat(ctx, sid, ChatPost{ChatType: domain.ChatTypeIndividual, SenderID: alice, TargetID: bob, Text: "psst"})
	require.NoError(t, err)
	_, err = f.svc.PostChat(ctx, sid, ChatPost{ChatType: domain.ChatTypeIndividual, SenderID: alice, TargetID: bob, Text: "again"})
	require.NoError(t, err)

	counts, err := f.svc.UnreadCounts(ctx, sid, bob)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Group)
	assert.Equal(t, map[string]int{alice: 2}, counts.Individual)

	own, err := f.svc.UnreadCounts(ctx, sid, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, own.Group)
	assert.Empty(t, own.Individual)

	cached, err := f.store.GetUnreadCounter(ctx, sid, bob)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, counts, *cached)

	n, err := f.svc.MarkRead(ctx, sid, bob, domain.ChatTypeIndividual, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.svc.MarkRead(ctx, sid, bob, domain.ChatTypeIndividual, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.MarkRead(ctx, sid, bob, domain.ChatTypeGroup, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err = f.svc.UnreadCounts(ctx, sid, bob)
	require.NoError(t, err)
	assert.Zero(t, counts.Group)
	assert.Empty(t, counts.Individual)
}

func TestChatHistoryThreads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session.ID
	alice, bob, carol := newID(), newID(), newID()

	post := func(p ChatPost) {
		t.Helper()
		_, err := f.svc.PostChat(ctx, sid, p)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	post(ChatPost{SenderID: carol, Text: "group"})
	post(ChatPost{ChatType: domain.ChatTypeIndividual, SenderID: alice, TargetID: bob, Text: "to bob"})
	post(ChatPost{ChatType: domain.ChatTypeIndividual, SenderID: bob, TargetID: alice, Text: "to alice"})
	post(ChatPost{ChatType: domain.ChatTypeIndividual, SenderID: carol, TargetID: bob, Text: "carol to bob"})

	history, err := f.svc.ChatHistory(ctx, sid, alice)
	require.NoError(t, err)

	require.Len(t, history.Group, 1)
	assert.False(t, history.Group[0].IsRead)
	require.Len(t, history.Individual[bob], 2, "both directions share the thread")
	assert.Equal(t, "to bob", history.Individual[bob][0].Text)
	assert.True(t, history.Individual[bob][0].IsRead, "own messages count as read")
	assert.Equal(t, "to alice", history.Individual[bob][1].Text)
	assert.NotContains(t, history.Individual, carol, "others' private threads stay hidden")
	assert.Equal(t, 1, history.UnreadCounts.Group)
	assert.Equal(t, map[string]int{bob: 1}, history.UnreadCounts.Individual)
}

func TestChatHistoryWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session.ID

	_, err := f.svc.PostChat(ctx, sid, ChatPost{SenderID: newID(), Text: "old"})
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)

	history, err := f.svc.ChatHistory(ctx, sid, newID())
	require.NoError(t, err)
	assert.Empty(t, history.Group)
	assert.NotNil(t, history.Individual)
}
