// Package chat routes 1:1 messages: persist first, then push live copies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"campus-chat/internal/apperr"
	"campus-chat/internal/identity"
	"campus-chat/internal/metrics"
	"campus-chat/internal/models"
	"campus-chat/internal/notification"
	"campus-chat/internal/push"
	"campus-chat/internal/storage"
)

// Notifier records durable notifications.
type Notifier interface {
	Notify(ctx context.Context, req notification.Request) (*models.Notification, error)
}

// ReadTracker flips direct messages to read and emits receipts.
type ReadTracker interface {
	DirectRead(ctx context.Context, msg *models.DirectMessage, readerID string) (bool, error)
}

// BlobRemover deletes stored attachment bytes.
type BlobRemover interface {
	Remove(ctx context.Context, key string) error
}

type SendRequest struct {
	RecipientID string             `json:"recipientId"`
	Content     string             `json:"content"`
	Type        string             `json:"type"`
	Attachment  *models.Attachment `json:"-"`
}

type Service struct {
	store    storage.DirectMessageStore
	push     push.Dispatcher
	receipts ReadTracker
	notifier Notifier
	blobs    BlobRemover
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(store storage.DirectMessageStore, d push.Dispatcher, receipts ReadTracker, notifier Notifier, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		push:     d,
		receipts: receipts,
		notifier: notifier,
		log:      log.With().Str("component", "chat").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetBlobRemover wires attachment cleanup for Delete. Media depends on chat,
// so it is attached after both are built.
func (s *Service) SetBlobRemover(b BlobRemover) { s.blobs = b }

func requireActor(actor identity.Principal) error {
	if !actor.Valid(time.Now()) {
		return apperr.Authentication("could not identify sender")
	}
	return nil
}

// Send validates, persists and then pushes the message to the recipient and
// to every session of the sender. Nothing is written when validation fails.
func (s *Service) Send(ctx context.Context, actor identity.Principal, req SendRequest) (*models.DirectMessage, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	recipient := strings.TrimSpace(req.RecipientID)
	if recipient == "" || recipient == identity.Anonymous {
		return nil, apperr.Validation("recipientId is required")
	}
	typ, err := models.ParseMessageType(req.Type)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if strings.TrimSpace(req.Content) == "" && (typ == models.TypeText || req.Attachment == nil) {
		return nil, apperr.Validation("content is required")
	}

	msg := &models.DirectMessage{
		ID:          uuid.NewString(),
		SenderID:    actor.SubjectID,
		RecipientID: recipient,
		Content:     req.Content,
		Type:        typ,
		Timestamp:   s.now(),
		Status:      models.StatusSent,
		Attachment:  req.Attachment,
	}
	if msg.Attachment != nil && msg.Attachment.FileURL == "" {
		msg.Attachment.FileURL = "/api/chat/media/" + msg.ID
	}
	if err := s.store.SaveDirect(ctx, msg); err != nil {
		return nil, apperr.Internal("save message", err)
	}
	metrics.MessagesPersisted.WithLabelValues("direct").Inc()

	ev := push.NewEvent(push.ChannelDirect, push.TypeMessage, msg)
	if recipient != actor.SubjectID {
		s.deliver(ctx, recipient, ev)
	}
	s.deliver(ctx, actor.SubjectID, ev)

	if recipient != actor.SubjectID {
		s.notifyRecipient(ctx, actor, msg)
	}
	return msg, nil
}

func (s *Service) deliver(ctx context.Context, userID string, ev push.Event) {
	if err := s.push.Push(ctx, userID, ev); err != nil {
		s.log.Debug().Err(err).Str("user", userID).Msg("live push skipped")
	}
}

func (s *Service) notifyRecipient(ctx context.Context, actor identity.Principal, msg *models.DirectMessage) {
	_, err := s.notifier.Notify(ctx, notification.Request{
		RecipientID: msg.RecipientID,
		Title:       "New message from " + actor.DisplayName(),
		Message:     Preview(msg.Content, msg.Type),
		Type:        models.NotifyNewMessage,
		ActionURL:   "/chat/" + actor.SubjectID,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("message", msg.ID).Msg("new message notification not recorded")
	}
}

const previewRunes = 100

// Preview shortens content for notification bodies.
func Preview(content string, typ models.MessageType) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Sprintf("Sent a %s", typ)
	}
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	return string([]rune(content)[:previewRunes]) + "..."
}

// History returns one page of the conversation oldest first and marks the
// page's unread messages addressed to the actor as read.
func (s *Service) History(ctx context.Context, actor identity.Principal, peerID string, page, size int) ([]*models.DirectMessage, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return nil, apperr.Validation("peer is required")
	}
	page, size = models.ClampPage(page, size)

	msgs, err := s.store.Conversation(ctx, actor.SubjectID, peerID, page*size, size)
	if err != nil {
		return nil, apperr.Internal("load conversation", err)
	}
	for _, m := range msgs {
		if m.RecipientID != actor.SubjectID || m.Read {
			continue
		}
		if _, err := s.receipts.DirectRead(ctx, m, actor.SubjectID); err != nil {
			s.log.Warn().Err(err).Str("message", m.ID).Msg("read on fetch failed")
		}
	}
	if msgs == nil {
		msgs = []*models.DirectMessage{}
	}
	return msgs, nil
}

// Get returns a message the actor sent or received.
func (s *Service) Get(ctx context.Context, actor identity.Principal, id string) (*models.DirectMessage, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	m, err := s.store.GetDirect(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Internal("load message", err)
	}
	if !m.IsParticipant(actor.SubjectID) {
		return nil, apperr.Forbidden("not a participant of this message")
	}
	return m, nil
}

// MarkRead is a no-op when the actor is the sender.
func (s *Service) MarkRead(ctx context.Context, actor identity.Principal, id string) (*models.DirectMessage, error) {
	m, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.receipts.DirectRead(ctx, m, actor.SubjectID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) Delete(ctx context.Context, actor identity.Principal, id string) error {
	m, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	err = s.store.DeleteDirect(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("message not found")
	}
	if err != nil {
		return apperr.Internal("delete message", err)
	}
	if m.Attachment != nil && m.Attachment.StorageKey != "" && s.blobs != nil {
		if err := s.blobs.Remove(ctx, m.Attachment.StorageKey); err != nil {
			s.log.Warn().Err(err).Str("key", m.Attachment.StorageKey).Msg("attachment not removed")
		}
	}
	return nil
}

func (s *Service) UnreadCount(ctx context.Context, actor identity.Principal) (int, error) {
	if err := requireActor(actor); err != nil {
		return 0, err
	}
	n, err := s.store.CountUnreadDirect(ctx, actor.SubjectID)
	if err != nil {
		return 0, apperr.Internal("count unread", err)
	}
	return n, nil
}
