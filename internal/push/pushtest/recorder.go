// Package pushtest provides a recording push.Dispatcher for tests.
package pushtest

import (
	"context"
	"sync"

	"campus-chat/internal/apperr"
	"campus-chat/internal/push"
)

type Recorder struct {
	mu         sync.Mutex
	connected  map[string]bool
	failing    map[string]bool
	events     map[string][]push.Event
	broadcasts []push.Event
}

var _ push.Dispatcher = (*Recorder)(nil)

func NewRecorder(connected ...string) *Recorder {
	r := &Recorder{
		connected: make(map[string]bool),
		failing:   make(map[string]bool),
		events:    make(map[string][]push.Event),
	}
	r.Connect(connected...)
	return r
}

func (r *Recorder) Connect(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.connected[id] = true
	}
}

func (r *Recorder) Disconnect(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.connected, id)
	}
}

// Fail makes every push to ids return a delivery error.
func (r *Recorder) Fail(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.failing[id] = true
	}
}

// Push records ev for connected users only, like the real hub.
func (r *Recorder) Push(_ context.Context, userID string, ev push.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing[userID] {
		return apperr.Delivery("deliver event", push.ErrBufferFull)
	}
	if !r.connected[userID] {
		return apperr.Delivery("deliver event", push.ErrNotConnected)
	}
	r.events[userID] = append(r.events[userID], ev)
	return nil
}

func (r *Recorder) Broadcast(_ context.Context, ev push.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, ev)
	return nil
}

func (r *Recorder) Connected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected[userID]
}

func (r *Recorder) Events(userID string) []push.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push.Event(nil), r.events[userID]...)
}

// On returns the events userID received on ch.
func (r *Recorder) On(userID string, ch push.Channel) []push.Event {
	var out []push.Event
	for _, ev := range r.Events(userID) {
		if ev.Channel == ch {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Broadcasts() []push.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push.Event(nil), r.broadcasts...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(map[string][]push.Event)
	r.broadcasts = nil
}
