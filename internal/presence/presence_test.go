package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/identity"
	"campus-chat/internal/models"
	"campus-chat/internal/push"
	"campus-chat/internal/push/pushtest"
	"campus-chat/internal/storage/memory"
)

func TestRedisRegistryExpiresStaleUsers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()
	reg := NewRedisRegistry(rdb, 30*time.Second)

	require.NoError(t, reg.MarkOnline(ctx, "bob"))
	require.NoError(t, reg.MarkOnline(ctx, "alice"))

	online, err := reg.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, online)

	require.NoError(t, reg.MarkOffline(ctx, "alice"))
	ok, err := reg.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute)
	online, err = reg.Online(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
	members, err := mr.Members(onlineSetKey)
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.MarkOnline(ctx, "z"))
	require.NoError(t, reg.MarkOnline(ctx, "a"))
	require.NoError(t, reg.MarkOffline(ctx, "z"))

	online, err := reg.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, online)
}

func newBus(t *testing.T, rec *pushtest.Recorder) (*Bus, *memory.Store) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.CreateGroup(context.Background(), &models.Group{
		ID: "g1", Name: "CS101", IsActive: true, CreatedBy: "admin",
		Members: []string{"admin", "alice", "bob"}, Admins: []string{"admin"}, Version: 1,
	}))
	return NewBus(NewMemoryRegistry(), rec, store, push.FanoutOptions{Concurrency: 2, Timeout: time.Second}, zerolog.Nop()), store
}

func principal(id string) identity.Principal {
	return identity.Principal{SubjectID: id, ExpiresAt: time.Now().Add(time.Hour)}
}

func TestSetOnlineBroadcastsStatus(t *testing.T) {
	rec := pushtest.NewRecorder()
	bus, _ := newBus(t, rec)
	ctx := context.Background()

	bus.SetOnline(ctx, "alice")
	assert.True(t, bus.IsOnline(ctx, "alice"))
	bus.SetOffline(ctx, "alice")
	assert.False(t, bus.IsOnline(ctx, "alice"))

	b := rec.Broadcasts()
	require.Len(t, b, 2)
	assert.Equal(t, push.ChannelPresence, b[0].Channel)
	assert.Equal(t, Status{UserID: "alice", Online: true}, b[0].Payload)
	assert.Equal(t, Status{UserID: "alice", Online: false}, b[1].Payload)
}

func TestDirectTyping(t *testing.T) {
	rec := pushtest.NewRecorder("bob", "alice")
	bus, _ := newBus(t, rec)

	bus.SetTypingFrame(context.Background(), principal("alice"), json.RawMessage(`{"recipientId":"bob","isTyping":true}`))

	evs := rec.On("bob", push.ChannelTyping)
	require.Len(t, evs, 1)
	assert.Equal(t, Typing{SenderID: "alice", RecipientID: "bob", IsTyping: true}, evs[0].Payload)
	assert.Empty(t, rec.Events("alice"))
}

func TestGroupTypingSkipsSender(t *testing.T) {
	rec := pushtest.NewRecorder("admin", "alice", "bob")
	bus, _ := newBus(t, rec)

	bus.SetTyping(context.Background(), principal("alice"), TypingSignal{GroupID: "g1", IsTyping: new(bool)})

	assert.Len(t, rec.On("admin", push.ChannelTyping), 1)
	assert.Len(t, rec.On("bob", push.ChannelTyping), 1)
	assert.Empty(t, rec.Events("alice"))
}

func TestMalformedTypingIsDropped(t *testing.T) {
	rec := pushtest.NewRecorder("admin", "alice", "bob", "mallory")
	bus, _ := newBus(t, rec)
	ctx := context.Background()

	frames := []string{
		`{"recipientId":"bob","isTyping":"yes"}`,
		`{"recipientId":"bob"}`,
		`{"isTyping":true}`,
		`{"recipientId":"bob","groupId":"g1","isTyping":true}`,
		`not json`,
	}
	for _, f := range frames {
		assert.NotPanics(t, func() { bus.SetTypingFrame(ctx, principal("alice"), json.RawMessage(f)) })
	}
	bus.SetTypingFrame(ctx, principal("mallory"), json.RawMessage(`{"groupId":"g1","isTyping":true}`))
	bus.SetTypingFrame(ctx, principal("alice"), json.RawMessage(`{"groupId":"missing","isTyping":true}`))
	bus.SetTypingFrame(ctx, identity.Principal{SubjectID: identity.Anonymous}, json.RawMessage(`{"recipientId":"bob","isTyping":true}`))

	for _, u := range []string{"admin", "alice", "bob", "mallory"} {
		assert.Empty(t, rec.Events(u), u)
	}
}

func TestOnlineHandler(t *testing.T) {
	rec := pushtest.NewRecorder()
	bus, _ := newBus(t, rec)
	bus.SetOnline(context.Background(), "bob")
	bus.SetOnline(context.Background(), "alice")

	r := chi.NewRouter()
	NewHandler(bus).Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/online", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/online", nil)
	req = req.WithContext(identity.WithPrincipal(req.Context(), principal("alice")))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Users []string `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"alice", "bob"}, body.Users)
}
