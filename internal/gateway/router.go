// Package gateway routes frames arriving on live connections to the same
// services the HTTP API uses.
package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"campus-chat/internal/apperr"
	"campus-chat/internal/chat"
	"campus-chat/internal/group"
	"campus-chat/internal/identity"
	"campus-chat/internal/models"
	"campus-chat/internal/push"
)

// Frame types accepted from clients.
const (
	FrameDirectSend = "direct.send"
	FrameGroupSend  = "group.send"
	FrameTyping     = "typing"
	FrameReadDirect = "read.direct"
	FrameReadGroup  = "read.group"
)

type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type DirectService interface {
	Send(ctx context.Context, actor identity.Principal, req chat.SendRequest) (*models.DirectMessage, error)
	MarkRead(ctx context.Context, actor identity.Principal, id string) (*models.DirectMessage, error)
}

type GroupService interface {
	Send(ctx context.Context, actor identity.Principal, groupID string, req group.SendRequest) (*models.GroupMessage, error)
	MarkRead(ctx context.Context, actor identity.Principal, groupID, messageID string) error
}

type TypingBus interface {
	SetTypingFrame(ctx context.Context, actor identity.Principal, raw json.RawMessage)
}

// conn is the part of a live connection the router needs.
type conn interface {
	Principal() identity.Principal
	SendError(err error)
}

type Router struct {
	direct DirectService
	groups GroupService
	typing TypingBus
	log    zerolog.Logger
}

var _ push.FrameHandler = (*Router)(nil)

func NewRouter(direct DirectService, groups GroupService, typing TypingBus, log zerolog.Logger) *Router {
	return &Router{
		direct: direct,
		groups: groups,
		typing: typing,
		log:    log.With().Str("component", "gateway").Logger(),
	}
}

func (rt *Router) HandleFrame(ctx context.Context, c *push.Client, frame []byte) {
	rt.handle(ctx, c, frame)
}

// handle never lets a failure escape into the read loop. Malformed frames
// are dropped; service errors go back on the error channel.
func (rt *Router) handle(ctx context.Context, c conn, raw []byte) {
	actor := c.Principal()
	log := rt.log.With().Str("user", actor.SubjectID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("frame handler panicked")
			c.SendError(apperr.Internal("handle frame", nil))
		}
	}()

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
		log.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	var err error
	switch strings.ToLower(f.Type) {
	case FrameDirectSend:
		var req chat.SendRequest
		if !rt.decode(log, f, &req) {
			return
		}
		_, err = rt.direct.Send(ctx, actor, req)
	case FrameGroupSend:
		var req struct {
			GroupID string `json:"groupId"`
			group.SendRequest
		}
		if !rt.decode(log, f, &req) {
			return
		}
		_, err = rt.groups.Send(ctx, actor, req.GroupID, req.SendRequest)
	case FrameTyping:
		rt.typing.SetTypingFrame(ctx, actor, f.Data)
	case FrameReadDirect:
		var req struct {
			MessageID string `json:"messageId"`
		}
		if !rt.decode(log, f, &req) {
			return
		}
		_, err = rt.direct.MarkRead(ctx, actor, req.MessageID)
	case FrameReadGroup:
		var req struct {
			GroupID   string `json:"groupId"`
			MessageID string `json:"messageId"`
		}
		if !rt.decode(log, f, &req) {
			return
		}
		err = rt.groups.MarkRead(ctx, actor, req.GroupID, req.MessageID)
	default:
		log.Debug().Str("type", f.Type).Msg("dropping frame of unknown type")
		return
	}

	if err != nil {
		log.Debug().Err(err).Str("type", f.Type).Msg("frame rejected")
		c.SendError(err)
	}
}

func (rt *Router) decode(log zerolog.Logger, f Frame, v any) bool {
	if len(f.Data) == 0 {
		log.Debug().Str("type", f.Type).Msg("dropping frame without data")
		return false
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		log.Debug().Err(err).Str("type", f.Type).Msg("dropping malformed frame")
		return false
	}
	return true
}
