package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeFile     MessageType = "file"
	TypeSystem   MessageType = "system" // group membership announcements
)

// ParseMessageType accepts any case. An empty string means text.
// System messages are server-generated and cannot be requested.
func ParseMessageType(s string) (MessageType, error) {
	t := MessageType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "":
		return TypeText, nil
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeDocument, TypeFile:
		return t, nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// TypeForContentType picks the message type for an uploaded file.
func TypeForContentType(contentType string) MessageType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return TypeImage
	case strings.HasPrefix(ct, "video/"):
		return TypeVideo
	case strings.HasPrefix(ct, "audio/"):
		return TypeAudio
	case ct == "application/pdf",
		strings.HasPrefix(ct, "application/msword"),
		strings.HasPrefix(ct, "application/vnd.openxmlformats-officedocument"),
		strings.HasPrefix(ct, "application/vnd.ms-"),
		strings.HasPrefix(ct, "text/"):
		return TypeDocument
	}
	return TypeFile
}

type MessageStatus string

const (
	StatusSent MessageStatus = "SENT"
	StatusRead MessageStatus = "READ"
)

// Attachment is owned by the message that embeds it.
type Attachment struct {
	StorageKey  string `json:"-"`
	FileName    string `json:"fileName"`
	FileURL     string `json:"fileUrl"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType,omitempty"`
}

type DirectMessage struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"senderId"`
	RecipientID string        `json:"recipientId"`
	Content     string        `json:"content"`
	Type        MessageType   `json:"type"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	Read        bool          `json:"read"`
	Attachment  *Attachment   `json:"attachment,omitempty"`
}

func (m *DirectMessage) IsParticipant(userID string) bool {
	return userID == m.SenderID || userID == m.RecipientID
}

// Less orders by timestamp with id as tiebreak.
func (m *DirectMessage) Less(o *DirectMessage) bool {
	if m.Timestamp.Equal(o.Timestamp) {
		return m.ID < o.ID
	}
	return m.Timestamp.Before(o.Timestamp)
}

type GroupMessage struct {
	ID         string        `json:"id"`
	GroupID    string        `json:"groupId"`
	SenderID   string        `json:"senderId"`
	SenderName string        `json:"senderName"`
	Content    string        `json:"content"`
	Type       MessageType   `json:"type"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     MessageStatus `json:"status"`
	Attachment *Attachment   `json:"attachment,omitempty"`
	ReadBy     []string      `json:"readBy"`
}

func (m *GroupMessage) Less(o *GroupMessage) bool {
	if m.Timestamp.Equal(o.Timestamp) {
		return m.ID < o.ID
	}
	return m.Timestamp.Before(o.Timestamp)
}

// ReadReceipt is pushed to the original sender of a direct message.
type ReadReceipt struct {
	MessageID string    `json:"messageId"`
	ReadBy    string    `json:"readBy"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	MaxPageSize     = 100
	DefaultPageSize = 50
)

// MaxPage keeps page*size within int for every allowed size.
const MaxPage = math.MaxInt / MaxPageSize

// ClampPage bounds size to [1, MaxPageSize] and page to [0, MaxPage].
func ClampPage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if page > MaxPage {
		page = MaxPage
	}
	if size < 1 {
		size = 1
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}
