// Package group manages group membership and broadcasts group messages.
package group

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"campus-chat/internal/apperr"
	"campus-chat/internal/chat"
	"campus-chat/internal/identity"
	"campus-chat/internal/metrics"
	"campus-chat/internal/models"
	"campus-chat/internal/notification"
	"campus-chat/internal/push"
	"campus-chat/internal/storage"
)

type Store interface {
	storage.GroupStore
	storage.GroupMessageStore
}

type Notifier interface {
	Notify(ctx context.Context, req notification.Request) (*models.Notification, error)
}

type ReadTracker interface {
	MarkGroup(ctx context.Context, actor identity.Principal, groupID, messageID string) error
	GroupUnread(ctx context.Context, actor identity.Principal, groupID string) (int, error)
}

type CreateRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IconURL     string   `json:"iconUrl"`
	Type        string   `json:"type"`
	Members     []string `json:"members"`
}

// UpdateRequest changes only the fields that are set. Version, when given,
// must match the stored version.
type UpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IconURL     *string `json:"iconUrl"`
	Version     *int64  `json:"version"`
}

type SendRequest struct {
	Content    string             `json:"content"`
	Type       string             `json:"type"`
	Attachment *models.Attachment `json:"-"`
}

type Service struct {
	store    Store
	push     push.Dispatcher
	notifier Notifier
	receipts ReadTracker
	fanout   push.FanoutOptions
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(store Store, d push.Dispatcher, notifier Notifier, receipts ReadTracker, fanout push.FanoutOptions, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		push:     d,
		notifier: notifier,
		receipts: receipts,
		fanout:   fanout,
		log:      log.With().Str("component", "group").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func requireActor(actor identity.Principal) error {
	if !actor.Valid(time.Now()) {
		return apperr.Authentication("could not identify sender")
	}
	return nil
}

// active loads a group, treating a deactivated group as missing.
func (s *Service) active(ctx context.Context, id string) (*models.Group, error) {
	g, err := s.store.GetGroup(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !g.IsActive) {
		return nil, apperr.NotFound("group not found")
	}
	if err != nil {
		return nil, apperr.Internal("load group", err)
	}
	return g, nil
}

func (s *Service) asMember(ctx context.Context, actor identity.Principal, id string) (*models.Group, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	g, err := s.active(ctx, id)
	if err != nil {
		return nil, err
	}
	if !g.HasMember(actor.SubjectID) {
		return nil, apperr.Forbidden("not a member of this group")
	}
	return g, nil
}

func (s *Service) asAdmin(ctx context.Context, actor identity.Principal, id string) (*models.Group, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	g, err := s.active(ctx, id)
	if err != nil {
		return nil, err
	}
	if !g.IsAdmin(actor.SubjectID) {
		return nil, apperr.Forbidden("only group admins can do this")
	}
	return g, nil
}

func (s *Service) Create(ctx context.Context, actor identity.Principal, req CreateRequest) (*models.Group, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	typ, err := models.ParseGroupType(req.Type)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if typ != models.GroupCustom && !actor.HasRole(identity.RoleAdmin) {
		return nil, apperr.Forbidden("only administrators can create " + string(typ) + " groups")
	}

	now := s.now()
	g := &models.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: req.Description,
		IconURL:     req.IconURL,
		Type:        typ,
		CreatedBy:   actor.SubjectID,
		IsActive:    true,
		Members:     models.SortedSet(append([]string{actor.SubjectID}, invitees(req.Members)...)...),
		Admins:      []string{actor.SubjectID},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return nil, apperr.Internal("create group", err)
	}
	s.log.Info().Str("group", g.ID).Str("by", actor.SubjectID).Int("members", len(g.Members)).Msg("group created")

	for _, m := range g.Members {
		if m != actor.SubjectID {
			s.invite(ctx, actor, g, m)
		}
	}
	return g, nil
}

func (s *Service) invite(ctx context.Context, actor identity.Principal, g *models.Group, userID string) {
	_, err := s.notifier.Notify(ctx, notification.Request{
		RecipientID: userID,
		Title:       "Added to " + g.Name,
		Message:     actor.DisplayName() + " added you to the group",
		Type:        models.NotifyGroupInvite,
		ActionURL:   "/groups/" + g.ID,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("group", g.ID).Str("user", userID).Msg("invite notification not recorded")
	}
}

func (s *Service) Get(ctx context.Context, actor identity.Principal, id string) (*models.Group, error) {
	return s.asMember(ctx, actor, id)
}

func (s *Service) List(ctx context.Context, actor identity.Principal) ([]*models.Group, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	gs, err := s.store.ListGroupsForUser(ctx, actor.SubjectID)
	if err != nil {
		return nil, apperr.Internal("list groups", err)
	}
	if gs == nil {
		gs = []*models.Group{}
	}
	return gs, nil
}

func (s *Service) Update(ctx context.Context, actor identity.Principal, id string, req UpdateRequest) (*models.Group, error) {
	g, err := s.asAdmin(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	expected := g.Version
	if req.Version != nil {
		expected = *req.Version
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
		g.Name = name
	}
	if req.Description != nil {
		g.Description = *req.Description
	}
	if req.IconURL != nil {
		g.IconURL = *req.IconURL
	}
	g.UpdatedAt = s.now()

	err = s.store.UpdateGroupMetadata(ctx, g, expected)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return nil, apperr.Conflict("group was modified concurrently, reload and retry")
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperr.NotFound("group not found")
	case err != nil:
		return nil, apperr.Internal("update group", err)
	}
	return g, nil
}

// Delete deactivates the group. Its messages are kept.
func (s *Service) Delete(ctx context.Context, actor identity.Principal, id string) error {
	if _, err := s.asAdmin(ctx, actor, id); err != nil {
		return err
	}
	if err := s.store.SetGroupActive(ctx, id, false); err != nil {
		return apperr.Internal("deactivate group", err)
	}
	s.log.Info().Str("group", id).Str("by", actor.SubjectID).Msg("group deactivated")
	return nil
}

// invitees drops entries that cannot name a user.
func invitees(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id, err := target(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func target(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || userID == identity.Anonymous {
		return "", apperr.Validation("user is required")
	}
	return userID, nil
}

func (s *Service) AddMember(ctx context.Context, actor identity.Principal, groupID, userID string) (*models.Group, error) {
	g, err := s.asAdmin(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	if userID, err = target(userID); err != nil {
		return nil, err
	}
	added, err := s.store.AddMember(ctx, groupID, userID)
	if err != nil {
		return nil, apperr.Internal("add member", err)
	}
	if added {
		s.announce(ctx, actor, g, userID+" was added to the group")
		s.invite(ctx, actor, g, userID)
	}
	return s.reload(ctx, groupID)
}

func (s *Service) RemoveMember(ctx context.Context, actor identity.Principal, groupID, userID string) (*models.Group, error) {
	g, err := s.asAdmin(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	if userID, err = target(userID); err != nil {
		return nil, err
	}
	if userID == g.CreatedBy {
		return nil, apperr.Validation("the group creator cannot be removed")
	}
	removed, err := s.store.RemoveMember(ctx, groupID, userID)
	if err != nil {
		return nil, apperr.Internal("remove member", err)
	}
	if !removed {
		return nil, apperr.NotFound("user is not a member of this group")
	}
	s.announce(ctx, actor, g, userID+" was removed from the group")
	return s.reload(ctx, groupID)
}

func (s *Service) Leave(ctx context.Context, actor identity.Principal, groupID string) error {
	g, err := s.asMember(ctx, actor, groupID)
	if err != nil {
		return err
	}
	if actor.SubjectID == g.CreatedBy {
		return apperr.Validation("the group creator cannot leave, deactivate the group instead")
	}
	removed, err := s.store.RemoveMember(ctx, groupID, actor.SubjectID)
	if err != nil {
		return apperr.Internal("leave group", err)
	}
	if removed {
		s.announce(ctx, actor, g, actor.SubjectID+" left the group")
	}
	return nil
}

func (s *Service) AddAdmin(ctx context.Context, actor identity.Principal, groupID, userID string) (*models.Group, error) {
	g, err := s.asAdmin(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	if userID, err = target(userID); err != nil {
		return nil, err
	}
	if !g.HasMember(userID) {
		return nil, apperr.Validation("only members can become admins")
	}
	err = s.store.AddAdmin(ctx, groupID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Validation("only members can become admins")
	}
	if err != nil {
		return nil, apperr.Internal("add admin", err)
	}
	return s.reload(ctx, groupID)
}

func (s *Service) RemoveAdmin(ctx context.Context, actor identity.Principal, groupID, userID string) (*models.Group, error) {
	g, err := s.asAdmin(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	if userID, err = target(userID); err != nil {
		return nil, err
	}
	if userID == g.CreatedBy {
		return nil, apperr.Validation("the group creator cannot be demoted")
	}
	if err := s.store.RemoveAdmin(ctx, groupID, userID); err != nil {
		return nil, apperr.Internal("remove admin", err)
	}
	return s.reload(ctx, groupID)
}

func (s *Service) reload(ctx context.Context, id string) (*models.Group, error) {
	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, apperr.Internal("load group", err)
	}
	return g, nil
}

// announce appends a system message to the group and fans it out to the
// current members. Failures are logged; the membership change stands.
func (s *Service) announce(ctx context.Context, actor identity.Principal, g *models.Group, text string) {
	msg := &models.GroupMessage{
		ID:         uuid.NewString(),
		GroupID:    g.ID,
		SenderID:   actor.SubjectID,
		SenderName: actor.DisplayName(),
		Content:    text,
		Type:       models.TypeSystem,
		Timestamp:  s.now(),
		Status:     models.StatusSent,
	}
	if err := s.store.SaveGroupMessage(ctx, msg); err != nil {
		s.log.Warn().Err(err).Str("group", g.ID).Msg("system message not stored")
		return
	}
	metrics.MessagesPersisted.WithLabelValues("system").Inc()

	cur, err := s.store.GetGroup(ctx, g.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("group", g.ID).Msg("system message not broadcast")
		return
	}
	s.broadcast(ctx, cur.Members, msg)
}

func (s *Service) broadcast(ctx context.Context, members []string, msg *models.GroupMessage) push.FanoutResult {
	ev := push.NewEvent(push.ChannelGroup, push.TypeMessage, msg)
	res := push.Fanout(ctx, s.push, members, ev, s.fanout)
	if len(res.Failed) > 0 {
		s.log.Debug().Str("group", msg.GroupID).Str("message", msg.ID).
			Int("delivered", res.Delivered).Strs("failed", res.Failed).Msg("partial group fan-out")
	}
	return res
}

// Send persists the message before any push. Every current member receives
// one live copy, the sender included; members who are not connected get a
// durable notification instead.
func (s *Service) Send(ctx context.Context, actor identity.Principal, groupID string, req SendRequest) (*models.GroupMessage, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	typ, err := models.ParseMessageType(req.Type)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if strings.TrimSpace(req.Content) == "" && (typ == models.TypeText || req.Attachment == nil) {
		return nil, apperr.Validation("content is required")
	}
	g, err := s.asMember(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}

	msg := &models.GroupMessage{
		ID:         uuid.NewString(),
		GroupID:    g.ID,
		SenderID:   actor.SubjectID,
		SenderName: actor.DisplayName(),
		Content:    req.Content,
		Type:       typ,
		Timestamp:  s.now(),
		Status:     models.StatusSent,
		Attachment: req.Attachment,
		ReadBy:     []string{},
	}
	if msg.Attachment != nil && msg.Attachment.FileURL == "" {
		msg.Attachment.FileURL = "/api/chat/media/" + msg.ID
	}
	if err := s.store.SaveGroupMessage(ctx, msg); err != nil {
		return nil, apperr.Internal("save group message", err)
	}
	metrics.MessagesPersisted.WithLabelValues("group").Inc()

	s.broadcast(ctx, g.Members, msg)

	for _, m := range g.Members {
		if m == actor.SubjectID || s.push.Connected(m) {
			continue
		}
		_, err := s.notifier.Notify(ctx, notification.Request{
			RecipientID: m,
			Title:       fmt.Sprintf("%s in %s", actor.DisplayName(), g.Name),
			Message:     chat.Preview(msg.Content, msg.Type),
			Type:        models.NotifyNewMessage,
			ActionURL:   "/groups/" + g.ID,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("group", g.ID).Str("user", m).Msg("group message notification not recorded")
		}
	}
	return msg, nil
}

// Messages returns one page in chronological order. The page itself is
// selected newest first so page 0 holds the latest messages.
func (s *Service) Messages(ctx context.Context, actor identity.Principal, groupID string, page, size int) ([]*models.GroupMessage, error) {
	if _, err := s.asMember(ctx, actor, groupID); err != nil {
		return nil, err
	}
	page, size = models.ClampPage(page, size)
	msgs, err := s.store.RecentGroupMessages(ctx, groupID, page*size, size)
	if err != nil {
		return nil, apperr.Internal("load group messages", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []*models.GroupMessage{}
	}
	return msgs, nil
}

// GetMessage returns a message of a group the actor currently belongs to.
func (s *Service) GetMessage(ctx context.Context, actor identity.Principal, messageID string) (*models.GroupMessage, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	m, err := s.store.GetGroupMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Internal("load group message", err)
	}
	if _, err := s.asMember(ctx, actor, m.GroupID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) MarkRead(ctx context.Context, actor identity.Principal, groupID, messageID string) error {
	if _, err := s.asMember(ctx, actor, groupID); err != nil {
		return err
	}
	return s.receipts.MarkGroup(ctx, actor, groupID, messageID)
}

func (s *Service) UnreadCount(ctx context.Context, actor identity.Principal, groupID string) (int, error) {
	if _, err := s.asMember(ctx, actor, groupID); err != nil {
		return 0, err
	}
	return s.receipts.GroupUnread(ctx, actor, groupID)
}
