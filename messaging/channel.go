package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

var (
	ErrChannelDestroyed = errors.New("channel destroyed")
	ErrWindowClosed     = errors.New("window closed")
)

// Handler processes one trusted message.
type Handler func(Message)

// Channel routes messages from a single trusted origin to one handler per type.
type Channel struct {
	targetOrigin string

	mu        sync.Mutex
	handlers  map[MessageType]Handler
	teardown  []func()
	destroyed bool
}

// NewChannel creates a channel accepting messages from targetOrigin only.
func NewChannel(targetOrigin string) *Channel {
	return &Channel{
		targetOrigin: strings.ToLower(strings.TrimRight(targetOrigin, "/")),
		handlers:     make(map[MessageType]Handler),
	}
}

// TargetOrigin is the only origin whose messages are dispatched.
func (c *Channel) TargetOrigin() string {
	return c.targetOrigin
}

// On registers h for t, replacing any previous handler.
func (c *Channel) On(t MessageType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.handlers[t] = h
}

// Off removes the handler for t.
func (c *Channel) Off(t MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, t)
}

// Dispatch runs the handler for an event and reports whether one ran. Events
// from another origin, of unknown type or that do not decode are dropped.
func (c *Channel) Dispatch(e Event) bool {
	if strings.ToLower(strings.TrimRight(e.Origin, "/")) != c.targetOrigin {
		return false
	}
	var msg Message
	if err := json.Unmarshal(e.Data, &msg); err != nil || !msg.Type.Valid() {
		return false
	}

	c.mu.Lock()
	h, ok := c.handlers[msg.Type]
	destroyed := c.destroyed
	c.mu.Unlock()
	if !ok || destroyed {
		return false
	}
	h(msg)
	return true
}

// Post sends msg to w.
func (c *Channel) Post(ctx context.Context, w Window, msg Message) error {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return ErrChannelDestroyed
	}
	if w.Closed() {
		return ErrWindowClosed
	}
	return w.PostMessage(ctx, msg)
}

// OnDestroy registers fn to run when the channel is destroyed.
func (c *Channel) OnDestroy(fn func()) {
	c.mu.Lock()
	if !c.destroyed {
		c.teardown = append(c.teardown, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// Destroy removes every handler and runs the teardown hooks. It is idempotent.
func (c *Channel) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.handlers = make(map[MessageType]Handler)
	teardown := c.teardown
	c.teardown = nil
	c.mu.Unlock()

	for i := len(teardown) - 1; i >= 0; i-- {
		teardown[i]()
	}
}

// Destroyed reports whether Destroy was called.
func (c *Channel) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}
