package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/models"
	"campus-chat/internal/storage"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func dm(id, from, to string, offset time.Duration) *models.DirectMessage {
	return &models.DirectMessage{
		ID: id, SenderID: from, RecipientID: to, Content: "hi " + id,
		Type: models.TypeText, Timestamp: base.Add(offset), Status: models.StatusSent,
	}
}

func TestConversationPagingCoversEveryMessageOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 7; i++ {
		from, to := "alice", "bob"
		if i%2 == 1 {
			from, to = to, from
		}
		require.NoError(t, s.SaveDirect(ctx, dm(fmt.Sprintf("m%d", i), from, to, time.Duration(i)*time.Second)))
	}
	require.NoError(t, s.SaveDirect(ctx, dm("other", "alice", "carol", 0)))

	var seen []string
	for page := 0; page < 3; page++ {
		got, err := s.Conversation(ctx, "bob", "alice", page*3, 3)
		require.NoError(t, err)
		for _, m := range got {
			seen = append(seen, m.ID)
		}
	}
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6"}, seen)
}

func TestConversationTiebreaksOnID(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveDirect(ctx, dm("b", "alice", "bob", 0)))
	require.NoError(t, s.SaveDirect(ctx, dm("a", "bob", "alice", 0)))

	got, err := s.Conversation(ctx, "alice", "bob", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
}

func TestMarkDirectReadIsOneWay(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveDirect(ctx, dm("m1", "alice", "bob", 0)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	flips := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := s.MarkDirectRead(ctx, "m1")
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				flips++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, flips)
	got, err := s.GetDirect(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.Equal(t, models.StatusRead, got.Status)

	_, err = s.MarkDirectRead(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReturnedMessagesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveDirect(ctx, dm("m1", "alice", "bob", 0)))

	got, err := s.GetDirect(ctx, "m1")
	require.NoError(t, err)
	got.Content = "mutated"

	again, err := s.GetDirect(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hi m1", again.Content)
}

func TestGroupMembershipAndVersioning(t *testing.T) {
	ctx := context.Background()
	s := New()
	g := &models.Group{
		ID: "g1", Name: "CS101", Type: models.GroupCustom, CreatedBy: "admin", IsActive: true,
		Members: []string{"admin", "alice"}, Admins: []string{"admin"}, Version: 1,
	}
	require.NoError(t, s.CreateGroup(ctx, g))
	assert.ErrorIs(t, s.CreateGroup(ctx, g), storage.ErrConflict)

	added, err := s.AddMember(ctx, "g1", "bob")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddMember(ctx, "g1", "bob")
	require.NoError(t, err)
	assert.False(t, added)

	require.NoError(t, s.AddAdmin(ctx, "g1", "bob"))
	removed, err := s.RemoveMember(ctx, "g1", "bob")
	require.NoError(t, err)
	assert.True(t, removed)

	got, err := s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "alice"}, got.Members)
	assert.Equal(t, []string{"admin"}, got.Admins)

	upd := &models.Group{ID: "g1", Name: "CS102"}
	require.NoError(t, s.UpdateGroupMetadata(ctx, upd, 1))
	assert.Equal(t, int64(2), upd.Version)
	assert.ErrorIs(t, s.UpdateGroupMetadata(ctx, &models.Group{ID: "g1", Name: "stale"}, 1), storage.ErrConflict)

	require.NoError(t, s.SetGroupActive(ctx, "g1", false))
	list, err := s.ListGroupsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGroupReadersAndUnread(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, sender := range []string{"alice", "bob", "bob"} {
		require.NoError(t, s.SaveGroupMessage(ctx, &models.GroupMessage{
			ID: fmt.Sprintf("g%d", i), GroupID: "grp", SenderID: sender,
			Type: models.TypeText, Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	n, err := s.CountUnreadGroup(ctx, "grp", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	added, err := s.AddGroupReader(ctx, "g1", "alice")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddGroupReader(ctx, "g1", "alice")
	require.NoError(t, err)
	assert.False(t, added)

	n, err = s.CountUnreadGroup(ctx, "grp", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recent, err := s.RecentGroupMessages(ctx, "grp", 0, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "g2", recent[0].ID)
	assert.Equal(t, []string{"alice"}, recent[1].ReadBy)
}

func TestNotificationsReadOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveNotifications(ctx,
		&models.Notification{ID: "n1", RecipientID: "bob", CreatedAt: base},
		&models.Notification{ID: "n2", RecipientID: "bob", CreatedAt: base.Add(time.Minute)},
	))
	assert.ErrorIs(t, s.SaveNotifications(ctx,
		&models.Notification{ID: "n3", RecipientID: "bob"},
		&models.Notification{ID: "n1", RecipientID: "bob"},
	), storage.ErrConflict)
	_, err := s.GetNotification(ctx, "n3")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := s.ListNotifications(ctx, "bob", 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID)

	first := base.Add(time.Hour)
	changed, err := s.MarkNotificationRead(ctx, "n1", first)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.MarkNotificationRead(ctx, "n1", first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	n1, err := s.GetNotification(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, first, *n1.ReadAt)

	count, err := s.MarkAllNotificationsRead(ctx, "bob", first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	unread, err := s.CountUnreadNotifications(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, unread)
}
