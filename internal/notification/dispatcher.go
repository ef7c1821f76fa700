// Package notification records durable notifications and pushes them live.
package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"campus-chat/internal/apperr"
	"campus-chat/internal/identity"
	"campus-chat/internal/metrics"
	"campus-chat/internal/models"
	"campus-chat/internal/push"
	"campus-chat/internal/storage"
)

type Request struct {
	RecipientID string                  `json:"recipientId"`
	Title       string                  `json:"title"`
	Message     string                  `json:"message"`
	Type        models.NotificationType `json:"type"`
	Priority    models.Priority         `json:"priority"`
	ActionURL   string                  `json:"actionUrl"`
}

type Dispatcher struct {
	store     storage.NotificationStore
	push      push.Dispatcher
	directory identity.Directory
	log       zerolog.Logger
	now       func() time.Time
}

func NewDispatcher(store storage.NotificationStore, d push.Dispatcher, dir identity.Directory, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		push:      d,
		directory: dir,
		log:       log.With().Str("component", "notification").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) build(req Request) (*models.Notification, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	typ, err := models.ParseNotificationType(string(req.Type))
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	prio, err := models.ParsePriority(string(req.Priority))
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	return &models.Notification{
		ID:          uuid.NewString(),
		RecipientID: strings.TrimSpace(req.RecipientID),
		Title:       title,
		Message:     req.Message,
		Type:        typ,
		Priority:    prio,
		ActionURL:   req.ActionURL,
		CreatedAt:   d.now(),
	}, nil
}

func (d *Dispatcher) save(ctx context.Context, ns ...*models.Notification) error {
	if err := d.store.SaveNotifications(ctx, ns...); err != nil {
		return apperr.Internal("save notifications", err)
	}
	for _, n := range ns {
		metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	}
	return nil
}

// Notify stores one notification and pushes it if the recipient is connected.
func (d *Dispatcher) Notify(ctx context.Context, req Request) (*models.Notification, error) {
	n, err := d.build(req)
	if err != nil {
		return nil, err
	}
	if n.RecipientID == "" || n.RecipientID == identity.Anonymous {
		return nil, apperr.Validation("recipient is required")
	}
	if err := d.save(ctx, n); err != nil {
		return nil, err
	}
	d.pushLive(ctx, n)
	return n, nil
}

func (d *Dispatcher) pushLive(ctx context.Context, n *models.Notification) {
	if !d.push.Connected(n.RecipientID) {
		return
	}
	ev := push.NewEvent(push.ChannelNotification, push.TypeNotification, n)
	if err := d.push.Push(ctx, n.RecipientID, ev); err != nil {
		d.log.Debug().Err(err).Str("recipient", n.RecipientID).Msg("notification push failed")
	}
}

// NotifyAllOfRole writes one row per user holding role in a single batch and
// pushes each copy best effort. Only admins may call it.
func (d *Dispatcher) NotifyAllOfRole(ctx context.Context, actor identity.Principal, role string, req Request) (int, error) {
	if !actor.HasRole(identity.RoleAdmin) {
		return 0, apperr.Forbidden("only administrators can broadcast notifications")
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		return 0, apperr.Validation("role is required")
	}
	if req.Type == "" {
		req.Type = models.NotifyAnnouncement
	}
	tmpl, err := d.build(req)
	if err != nil {
		return 0, err
	}

	users, err := d.directory.UsersWithRole(ctx, role)
	if err != nil {
		return 0, apperr.Internal("list users", err)
	}
	if len(users) == 0 {
		return 0, nil
	}

	batch := make([]*models.Notification, len(users))
	for i, u := range users {
		n := *tmpl
		n.ID = uuid.NewString()
		n.RecipientID = u
		batch[i] = &n
	}
	if err := d.save(ctx, batch...); err != nil {
		return 0, err
	}

	for _, n := range batch {
		d.pushLive(ctx, n)
	}
	d.log.Info().Str("role", role).Int("recipients", len(batch)).Msg("broadcast notification stored")
	return len(batch), nil
}

func (d *Dispatcher) NotifyAllStudents(ctx context.Context, actor identity.Principal, req Request) (int, error) {
	return d.NotifyAllOfRole(ctx, actor, identity.RoleStudent, req)
}

func (d *Dispatcher) List(ctx context.Context, actor identity.Principal, page, size int) ([]*models.Notification, error) {
	page, size = models.ClampPage(page, size)
	ns, err := d.store.ListNotifications(ctx, actor.SubjectID, page*size, size)
	if err != nil {
		return nil, apperr.Internal("list notifications", err)
	}
	if ns == nil {
		ns = []*models.Notification{}
	}
	return ns, nil
}

func (d *Dispatcher) owned(ctx context.Context, actor identity.Principal, id string) (*models.Notification, error) {
	n, err := d.store.GetNotification(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("notification not found")
	}
	if err != nil {
		return nil, apperr.Internal("get notification", err)
	}
	if n.RecipientID != actor.SubjectID {
		return nil, apperr.Forbidden("not your notification")
	}
	return n, nil
}

// MarkRead is idempotent; readAt is set by the first call only.
func (d *Dispatcher) MarkRead(ctx context.Context, actor identity.Principal, id string) (*models.Notification, error) {
	n, err := d.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if n.IsRead {
		return n, nil
	}
	now := d.now()
	changed, err := d.store.MarkNotificationRead(ctx, id, now)
	if err != nil {
		return nil, apperr.Internal("mark notification read", err)
	}
	if changed {
		n.IsRead = true
		n.ReadAt = &now
		return n, nil
	}
	return d.owned(ctx, actor, id)
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, actor identity.Principal) (int64, error) {
	n, err := d.store.MarkAllNotificationsRead(ctx, actor.SubjectID, d.now())
	if err != nil {
		return 0, apperr.Internal("mark all notifications read", err)
	}
	return n, nil
}

func (d *Dispatcher) UnreadCount(ctx context.Context, actor identity.Principal) (int, error) {
	n, err := d.store.CountUnreadNotifications(ctx, actor.SubjectID)
	if err != nil {
		return 0, apperr.Internal("count notifications", err)
	}
	return n, nil
}

func (d *Dispatcher) Delete(ctx context.Context, actor identity.Principal, id string) error {
	if _, err := d.owned(ctx, actor, id); err != nil {
		return err
	}
	err := d.store.DeleteNotification(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("notification not found")
	}
	if err != nil {
		return apperr.Internal("delete notification", err)
	}
	return nil
}
