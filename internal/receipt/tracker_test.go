package receipt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/apperr"
	"campus-chat/internal/identity"
	"campus-chat/internal/models"
	"campus-chat/internal/push"
	"campus-chat/internal/push/pushtest"
	"campus-chat/internal/storage/memory"
)

func seedDirect(t *testing.T, store *memory.Store) *models.DirectMessage {
	t.Helper()
	m := &models.DirectMessage{
		ID: "m1", SenderID: "alice", RecipientID: "bob", Content: "hello",
		Type: models.TypeText, Status: models.StatusSent, Timestamp: time.Now().UTC(),
	}
	require.NoError(t, store.SaveDirect(context.Background(), m))
	return m
}

func TestDirectReadPushesOneReceipt(t *testing.T) {
	store := memory.New()
	rec := pushtest.NewRecorder("alice")
	tr := NewTracker(store, rec, zerolog.Nop())
	seedDirect(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := store.GetDirect(ctx, "m1")
			if !assert.NoError(t, err) {
				return
			}
			_, err = tr.DirectRead(ctx, m, "bob")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetDirect(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.Equal(t, models.StatusRead, got.Status)

	evs := rec.On("alice", push.ChannelDirect)
	require.Len(t, evs, 1)
	assert.Equal(t, push.TypeReadReceipt, evs[0].Type)
	rr := evs[0].Payload.(models.ReadReceipt)
	assert.Equal(t, "m1", rr.MessageID)
	assert.Equal(t, "bob", rr.ReadBy)
}

func TestDirectReadBySenderIsNoop(t *testing.T) {
	store := memory.New()
	rec := pushtest.NewRecorder("alice", "bob")
	tr := NewTracker(store, rec, zerolog.Nop())
	m := seedDirect(t, store)

	changed, err := tr.DirectRead(context.Background(), m, "alice")
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := store.GetDirect(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, got.Read)
	assert.Empty(t, rec.Events("alice"))
}

func seedGroup(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateGroup(ctx, &models.Group{
		ID: "g1", Name: "CS101", IsActive: true, CreatedBy: "admin",
		Members: []string{"admin", "alice", "bob"}, Admins: []string{"admin"},
	}))
	require.NoError(t, store.CreateGroup(ctx, &models.Group{
		ID: "g2", Name: "Other", IsActive: true, CreatedBy: "admin",
		Members: []string{"admin"}, Admins: []string{"admin"},
	}))
	for i, id := range []string{"gm1", "gm2"} {
		require.NoError(t, store.SaveGroupMessage(ctx, &models.GroupMessage{
			ID: id, GroupID: "g1", SenderID: "admin", Content: "hi",
			Type: models.TypeText, Timestamp: time.Unix(int64(i), 0),
		}))
	}
}

func TestMarkGroupIsIdempotent(t *testing.T) {
	store := memory.New()
	seedGroup(t, store)
	tr := NewTracker(store, pushtest.NewRecorder(), zerolog.Nop())
	ctx := context.Background()
	bob := identity.Principal{SubjectID: "bob"}

	n, err := tr.GroupUnread(ctx, bob, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, tr.MarkGroup(ctx, bob, "g1", "gm1"))
	require.NoError(t, tr.MarkGroup(ctx, bob, "g1", "gm1"))

	m, err := store.GetGroupMessage(ctx, "gm1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, m.ReadBy)

	n, err = tr.GroupUnread(ctx, bob, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = tr.GroupUnread(ctx, identity.Principal{SubjectID: "admin"}, "g1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkGroupChecks(t *testing.T) {
	store := memory.New()
	seedGroup(t, store)
	tr := NewTracker(store, pushtest.NewRecorder(), zerolog.Nop())
	ctx := context.Background()

	err := tr.MarkGroup(ctx, identity.Principal{SubjectID: "mallory"}, "g1", "gm1")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	err = tr.MarkGroup(ctx, identity.Principal{SubjectID: "admin"}, "g2", "gm1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	err = tr.MarkGroup(ctx, identity.Principal{SubjectID: "bob"}, "missing", "gm1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
