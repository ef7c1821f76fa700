package models

import (
	"fmt"
	"strings"
	"time"
)

type NotificationType string

const (
	NotifyNewMessage   NotificationType = "NEW_MESSAGE"
	NotifyGroupInvite  NotificationType = "GROUP_INVITE"
	NotifyAnnouncement NotificationType = "ANNOUNCEMENT"
	NotifyGeneral      NotificationType = "GENERAL"
)

func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case "":
		return NotifyGeneral, nil
	case NotifyNewMessage, NotifyGroupInvite, NotifyAnnouncement, NotifyGeneral:
		return t, nil
	}
	return "", fmt.Errorf("unknown notification type %q", s)
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipientId"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Type        NotificationType `json:"type"`
	Priority    Priority         `json:"priority"`
	IsRead      bool             `json:"isRead"`
	ReadAt      *time.Time       `json:"readAt,omitempty"`
	ActionURL   string           `json:"actionUrl,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}
