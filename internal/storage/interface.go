package storage

import (
	"context"
	"errors"
	"time"

	"campus-chat/internal/models"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrConflict = errors.New("storage: conflict")
)

type DirectMessageStore interface {
	SaveDirect(ctx context.Context, m *models.DirectMessage) error
	GetDirect(ctx context.Context, id string) (*models.DirectMessage, error)
	// Conversation returns both directions between a and b, oldest first.
	Conversation(ctx context.Context, a, b string, offset, limit int) ([]*models.DirectMessage, error)
	// MarkDirectRead flips read to true. changed is false when it already was.
	MarkDirectRead(ctx context.Context, id string) (changed bool, err error)
	DeleteDirect(ctx context.Context, id string) error
	CountUnreadDirect(ctx context.Context, recipientID string) (int, error)
}

type GroupStore interface {
	// CreateGroup writes the group with its member and admin sets atomically.
	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	// ListGroupsForUser returns the active groups userID belongs to.
	ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error)
	// UpdateGroupMetadata stores name, description and icon when the stored
	// version still equals expectedVersion, else ErrConflict.
	UpdateGroupMetadata(ctx context.Context, g *models.Group, expectedVersion int64) error
	SetGroupActive(ctx context.Context, id string, active bool) error
	AddMember(ctx context.Context, groupID, userID string) (added bool, err error)
	// RemoveMember also drops any admin grant the user held.
	RemoveMember(ctx context.Context, groupID, userID string) (removed bool, err error)
	AddAdmin(ctx context.Context, groupID, userID string) error
	RemoveAdmin(ctx context.Context, groupID, userID string) error
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

type GroupMessageStore interface {
	SaveGroupMessage(ctx context.Context, m *models.GroupMessage) error
	GetGroupMessage(ctx context.Context, id string) (*models.GroupMessage, error)
	// RecentGroupMessages returns a page newest first.
	RecentGroupMessages(ctx context.Context, groupID string, offset, limit int) ([]*models.GroupMessage, error)
	AddGroupReader(ctx context.Context, messageID, userID string) (added bool, err error)
	// CountUnreadGroup counts messages in the group not sent by userID and not read by userID.
	CountUnreadGroup(ctx context.Context, groupID, userID string) (int, error)
}

type NotificationStore interface {
	// SaveNotifications writes every row or none.
	SaveNotifications(ctx context.Context, ns ...*models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	// ListNotifications returns a page newest first.
	ListNotifications(ctx context.Context, recipientID string, offset, limit int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) (changed bool, err error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	CountUnreadNotifications(ctx context.Context, recipientID string) (int, error)
	DeleteNotification(ctx context.Context, id string) error
}

type Store interface {
	DirectMessageStore
	GroupStore
	GroupMessageStore
	NotificationStore
}
