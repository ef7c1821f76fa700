// Package presence distributes online/offline and typing signals. Nothing
// here is persisted and nothing is retried.
package presence

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"campus-chat/internal/identity"
	"campus-chat/internal/models"
	"campus-chat/internal/push"
)

type GroupLookup interface {
	GetGroup(ctx context.Context, id string) (*models.Group, error)
}

type Status struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// TypingSignal is the inbound typing frame. Exactly one of RecipientID and
// GroupID must be set; IsTyping is a pointer so a missing flag is detectable.
type TypingSignal struct {
	RecipientID string `json:"recipientId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	IsTyping    *bool  `json:"isTyping"`
}

type Typing struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	IsTyping    bool   `json:"isTyping"`
}

type Bus struct {
	reg    Registry
	push   push.Dispatcher
	groups GroupLookup
	fanout push.FanoutOptions
	log    zerolog.Logger
}

func NewBus(reg Registry, d push.Dispatcher, groups GroupLookup, fanout push.FanoutOptions, log zerolog.Logger) *Bus {
	return &Bus{
		reg:    reg,
		push:   d,
		groups: groups,
		fanout: fanout,
		log:    log.With().Str("component", "presence").Logger(),
	}
}

func (b *Bus) SetOnline(ctx context.Context, userID string) {
	if err := b.reg.MarkOnline(ctx, userID); err != nil {
		b.log.Warn().Err(err).Str("user", userID).Msg("presence registry update failed")
	}
	b.announce(ctx, Status{UserID: userID, Online: true})
}

func (b *Bus) SetOffline(ctx context.Context, userID string) {
	if err := b.reg.MarkOffline(ctx, userID); err != nil {
		b.log.Warn().Err(err).Str("user", userID).Msg("presence registry update failed")
	}
	b.announce(ctx, Status{UserID: userID, Online: false})
}

func (b *Bus) announce(ctx context.Context, st Status) {
	if err := b.push.Broadcast(ctx, push.NewEvent(push.ChannelPresence, push.TypeStatus, st)); err != nil {
		b.log.Debug().Err(err).Str("user", st.UserID).Msg("presence broadcast failed")
	}
}

func (b *Bus) Online(ctx context.Context) ([]string, error) {
	return b.reg.Online(ctx)
}

func (b *Bus) IsOnline(ctx context.Context, userID string) bool {
	ok, err := b.reg.IsOnline(ctx, userID)
	if err != nil {
		b.log.Debug().Err(err).Str("user", userID).Msg("presence lookup failed")
		return false
	}
	return ok
}

// KeepAlive refreshes the registry entry of every locally connected user
// until ctx ends, so entries only expire when their instance stops.
func (b *Bus) KeepAlive(ctx context.Context, every time.Duration, users func() []string) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, id := range users() {
				if err := b.reg.MarkOnline(ctx, id); err != nil {
					b.log.Debug().Err(err).Str("user", id).Msg("presence refresh failed")
				}
			}
		}
	}
}

// SetTypingFrame decodes a raw typing frame and relays it. Malformed frames
// are logged and dropped.
func (b *Bus) SetTypingFrame(ctx context.Context, actor identity.Principal, raw json.RawMessage) {
	var sig TypingSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		b.log.Debug().Err(err).Str("user", actor.SubjectID).Msg("dropping malformed typing frame")
		return
	}
	b.SetTyping(ctx, actor, sig)
}

func (b *Bus) SetTyping(ctx context.Context, actor identity.Principal, sig TypingSignal) {
	sig.RecipientID = strings.TrimSpace(sig.RecipientID)
	sig.GroupID = strings.TrimSpace(sig.GroupID)

	log := b.log.With().Str("user", actor.SubjectID).Logger()
	switch {
	case !actor.Valid(time.Now()):
		log.Debug().Msg("dropping typing signal without identity")
		return
	case sig.IsTyping == nil:
		log.Debug().Msg("dropping typing signal without flag")
		return
	case (sig.RecipientID == "") == (sig.GroupID == ""):
		log.Debug().Msg("dropping typing signal without a single target")
		return
	}

	ev := push.NewEvent(push.ChannelTyping, push.TypeTyping, Typing{
		SenderID:    actor.SubjectID,
		RecipientID: sig.RecipientID,
		GroupID:     sig.GroupID,
		IsTyping:    *sig.IsTyping,
	})

	if sig.RecipientID != "" {
		if err := b.push.Push(ctx, sig.RecipientID, ev); err != nil {
			log.Debug().Err(err).Str("recipient", sig.RecipientID).Msg("typing push failed")
		}
		return
	}

	g, err := b.groups.GetGroup(ctx, sig.GroupID)
	if err != nil || !g.IsActive || !g.HasMember(actor.SubjectID) {
		log.Debug().Err(err).Str("group", sig.GroupID).Msg("dropping group typing signal")
		return
	}
	others := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if m != actor.SubjectID {
			others = append(others, m)
		}
	}
	push.Fanout(ctx, b.push, others, ev, b.fanout)
}
