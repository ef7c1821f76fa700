// Package receipt records who has seen which message.
package receipt

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"campus-chat/internal/apperr"
	"campus-chat/internal/identity"
	"campus-chat/internal/models"
	"campus-chat/internal/push"
	"campus-chat/internal/storage"
)

type Store interface {
	storage.DirectMessageStore
	storage.GroupMessageStore
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

type Tracker struct {
	store Store
	push  push.Dispatcher
	log   zerolog.Logger
	now   func() time.Time
}

func NewTracker(store Store, d push.Dispatcher, log zerolog.Logger) *Tracker {
	return &Tracker{
		store: store,
		push:  d,
		log:   log.With().Str("component", "receipt").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// DirectRead flips msg to read when readerID is its recipient. Only the call
// that performs the flip sends a receipt to the sender, so concurrent
// duplicates from several devices produce one event.
func (t *Tracker) DirectRead(ctx context.Context, msg *models.DirectMessage, readerID string) (bool, error) {
	if msg.RecipientID != readerID || msg.Read {
		return false, nil
	}
	changed, err := t.store.MarkDirectRead(ctx, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, apperr.NotFound("message not found")
	}
	if err != nil {
		return false, apperr.Internal("mark message read", err)
	}
	msg.Read = true
	msg.Status = models.StatusRead
	if !changed {
		return false, nil
	}

	rr := models.ReadReceipt{MessageID: msg.ID, ReadBy: readerID, Timestamp: t.now()}
	ev := push.NewEvent(push.ChannelDirect, push.TypeReadReceipt, rr)
	if err := t.push.Push(ctx, msg.SenderID, ev); err != nil {
		t.log.Debug().Err(err).Str("message", msg.ID).Msg("read receipt not delivered")
	}
	return true, nil
}

func (t *Tracker) member(ctx context.Context, groupID, userID string) error {
	ok, err := t.store.IsMember(ctx, groupID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("group not found")
	}
	if err != nil {
		return apperr.Internal("check membership", err)
	}
	if !ok {
		return apperr.Forbidden("not a member of this group")
	}
	return nil
}

// MarkGroup adds the actor to the message's reader set. No event is pushed.
func (t *Tracker) MarkGroup(ctx context.Context, actor identity.Principal, groupID, messageID string) error {
	if err := t.member(ctx, groupID, actor.SubjectID); err != nil {
		return err
	}
	m, err := t.store.GetGroupMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && m.GroupID != groupID) {
		return apperr.NotFound("message not found")
	}
	if err != nil {
		return apperr.Internal("load group message", err)
	}
	if _, err := t.store.AddGroupReader(ctx, messageID, actor.SubjectID); err != nil {
		return apperr.Internal("record reader", err)
	}
	return nil
}

func (t *Tracker) GroupUnread(ctx context.Context, actor identity.Principal, groupID string) (int, error) {
	if err := t.member(ctx, groupID, actor.SubjectID); err != nil {
		return 0, err
	}
	n, err := t.store.CountUnreadGroup(ctx, groupID, actor.SubjectID)
	if err != nil {
		return 0, apperr.Internal("count unread", err)
	}
	return n, nil
}
