// Package memory is a process-local Store used by tests and the
// STORAGE_DRIVER=memory development mode.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"campus-chat/internal/models"
	"campus-chat/internal/storage"
)

type group struct {
	meta    models.Group
	members map[string]struct{}
	admins  map[string]struct{}
}

type groupMessage struct {
	msg    models.GroupMessage
	readBy map[string]struct{}
}

type Store struct {
	mu            sync.RWMutex
	direct        map[string]*models.DirectMessage
	groups        map[string]*group
	groupMessages map[string]*groupMessage
	notifications map[string]*models.Notification
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		direct:        make(map[string]*models.DirectMessage),
		groups:        make(map[string]*group),
		groupMessages: make(map[string]*groupMessage),
		notifications: make(map[string]*models.Notification),
	}
}

func cloneAttachment(a *models.Attachment) *models.Attachment {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func cloneDirect(m *models.DirectMessage) *models.DirectMessage {
	c := *m
	c.Attachment = cloneAttachment(m.Attachment)
	return &c
}

func (s *Store) SaveDirect(_ context.Context, m *models.DirectMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.direct[m.ID]; ok {
		return storage.ErrConflict
	}
	s.direct[m.ID] = cloneDirect(m)
	return nil
}

func (s *Store) GetDirect(_ context.Context, id string) (*models.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.direct[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneDirect(m), nil
}

func (s *Store) Conversation(_ context.Context, a, b string, offset, limit int) ([]*models.DirectMessage, error) {
	s.mu.RLock()
	var all []*models.DirectMessage
	for _, m := range s.direct {
		if (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a) {
			all = append(all, cloneDirect(m))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(x, y *models.DirectMessage) int {
		if x.Less(y) {
			return -1
		}
		if y.Less(x) {
			return 1
		}
		return 0
	})
	return window(all, offset, limit), nil
}

func (s *Store) MarkDirectRead(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.direct[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if m.Read {
		return false, nil
	}
	m.Read = true
	m.Status = models.StatusRead
	return true, nil
}

func (s *Store) DeleteDirect(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.direct[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.direct, id)
	return nil
}

func (s *Store) CountUnreadDirect(_ context.Context, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.direct {
		if m.RecipientID == recipientID && !m.Read {
			n++
		}
	}
	return n, nil
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func setOf(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (g *group) snapshot() *models.Group {
	c := g.meta
	c.Members = keys(g.members)
	c.Admins = keys(g.admins)
	return &c
}

func (s *Store) CreateGroup(_ context.Context, g *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; ok {
		return storage.ErrConflict
	}
	meta := *g
	meta.Members, meta.Admins = nil, nil
	s.groups[g.ID] = &group{meta: meta, members: setOf(g.Members), admins: setOf(g.Admins)}
	return nil
}

func (s *Store) GetGroup(_ context.Context, id string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return g.snapshot(), nil
}

func (s *Store) ListGroupsForUser(_ context.Context, userID string) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Group
	for _, g := range s.groups {
		if _, ok := g.members[userID]; ok && g.meta.IsActive {
			out = append(out, g.snapshot())
		}
	}
	slices.SortFunc(out, func(a, b *models.Group) int {
		if a.Name == b.Name {
			return cmp.Compare(a.ID, b.ID)
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) UpdateGroupMetadata(_ context.Context, g *models.Group, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.groups[g.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.meta.Version != expectedVersion {
		return storage.ErrConflict
	}
	cur.meta.Name = g.Name
	cur.meta.Description = g.Description
	cur.meta.IconURL = g.IconURL
	cur.meta.UpdatedAt = g.UpdatedAt
	cur.meta.Version++
	g.Version = cur.meta.Version
	return nil
}

func (s *Store) SetGroupActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return storage.ErrNotFound
	}
	g.meta.IsActive = active
	g.meta.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AddMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if _, ok := g.members[userID]; ok {
		return false, nil
	}
	g.members[userID] = struct{}{}
	return true, nil
}

func (s *Store) RemoveMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if _, ok := g.members[userID]; !ok {
		return false, nil
	}
	delete(g.members, userID)
	delete(g.admins, userID)
	return true, nil
}

func (s *Store) AddAdmin(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := g.members[userID]; !ok {
		return storage.ErrNotFound
	}
	g.admins[userID] = struct{}{}
	return nil
}

func (s *Store) RemoveAdmin(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return storage.ErrNotFound
	}
	delete(g.admins, userID)
	return nil
}

func (s *Store) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false, storage.ErrNotFound
	}
	_, member := g.members[userID]
	return member, nil
}

func (gm *groupMessage) snapshot() *models.GroupMessage {
	c := gm.msg
	c.Attachment = cloneAttachment(gm.msg.Attachment)
	c.ReadBy = keys(gm.readBy)
	return &c
}

func (s *Store) SaveGroupMessage(_ context.Context, m *models.GroupMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groupMessages[m.ID]; ok {
		return storage.ErrConflict
	}
	c := *m
	c.Attachment = cloneAttachment(m.Attachment)
	c.ReadBy = nil
	s.groupMessages[m.ID] = &groupMessage{msg: c, readBy: setOf(m.ReadBy)}
	return nil
}

func (s *Store) GetGroupMessage(_ context.Context, id string) (*models.GroupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gm, ok := s.groupMessages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return gm.snapshot(), nil
}

func (s *Store) RecentGroupMessages(_ context.Context, groupID string, offset, limit int) ([]*models.GroupMessage, error) {
	s.mu.RLock()
	var all []*models.GroupMessage
	for _, gm := range s.groupMessages {
		if gm.msg.GroupID == groupID {
			all = append(all, gm.snapshot())
		}
	}
	s.mu.RUnlock()

	// newest first
	slices.SortFunc(all, func(x, y *models.GroupMessage) int {
		if y.Less(x) {
			return -1
		}
		if x.Less(y) {
			return 1
		}
		return 0
	})
	return window(all, offset, limit), nil
}

func (s *Store) AddGroupReader(_ context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gm, ok := s.groupMessages[messageID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if _, ok := gm.readBy[userID]; ok {
		return false, nil
	}
	gm.readBy[userID] = struct{}{}
	return true, nil
}

func (s *Store) CountUnreadGroup(_ context.Context, groupID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, gm := range s.groupMessages {
		if gm.msg.GroupID != groupID || gm.msg.SenderID == userID {
			continue
		}
		if _, read := gm.readBy[userID]; !read {
			n++
		}
	}
	return n, nil
}

func cloneNotification(n *models.Notification) *models.Notification {
	c := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	return &c
}

func (s *Store) SaveNotifications(_ context.Context, ns ...*models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range ns {
		if _, ok := s.notifications[n.ID]; ok {
			return storage.ErrConflict
		}
	}
	for _, n := range ns {
		s.notifications[n.ID] = cloneNotification(n)
	}
	return nil
}

func (s *Store) GetNotification(_ context.Context, id string) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (s *Store) ListNotifications(_ context.Context, recipientID string, offset, limit int) ([]*models.Notification, error) {
	s.mu.RLock()
	var all []*models.Notification
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			all = append(all, cloneNotification(n))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b *models.Notification) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmp.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return window(all, offset, limit), nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if n.IsRead {
		return false, nil
	}
	n.IsRead = true
	n.ReadAt = &at
	return true, nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, recipientID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			t := at
			n.ReadAt = &t
			changed++
		}
	}
	return changed, nil
}

func (s *Store) CountUnreadNotifications(_ context.Context, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := 0
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			c++
		}
	}
	return c, nil
}

func (s *Store) DeleteNotification(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.notifications, id)
	return nil
}

func window[T any](all []T, offset, limit int) []T {
	if offset < 0 || offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) || end < offset {
		end = len(all)
	}
	return all[offset:end]
}
