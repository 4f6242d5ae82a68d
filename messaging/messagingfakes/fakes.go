// Package messagingfakes provides in-memory windows for testing message flows.
package messagingfakes

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/immutable/go-passport/messaging"
)

// Window records posted messages. OnPost, when set, is called after each post
// and can play the page's side of a conversation.
type Window struct {
	URL     string
	Channel *messaging.Channel
	OnPost  func(messaging.Message)

	mu     sync.Mutex
	posted []messaging.Message
	closed bool
}

var _ messaging.Window = (*Window)(nil)

func (w *Window) PostMessage(_ context.Context, msg messaging.Message) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return messaging.ErrWindowClosed
	}
	w.posted = append(w.posted, msg)
	onPost := w.OnPost
	w.mu.Unlock()

	if onPost != nil {
		onPost(msg)
	}
	return nil
}

func (w *Window) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Posted returns the messages posted so far.
func (w *Window) Posted() []messaging.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]messaging.Message(nil), w.posted...)
}

// Send dispatches msg to the window's channel as if the page posted it from origin.
func (w *Window) Send(origin string, t messaging.MessageType, data any) bool {
	msg, err := messaging.NewMessage(t, data)
	if err != nil {
		return false
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return w.Channel.Dispatch(messaging.Event{Origin: origin, Data: raw})
}

// Opener hands out fake windows.
type Opener struct {
	// Err, when set, fails every Open.
	Err error
	// Configure is called with each new window before Open returns.
	Configure func(*Window)

	mu      sync.Mutex
	windows []*Window
}

var _ messaging.Opener = (*Opener)(nil)

func (o *Opener) Open(_ context.Context, url string, ch *messaging.Channel) (messaging.Window, error) {
	if o.Err != nil {
		return nil, o.Err
	}
	w := &Window{URL: url, Channel: ch}
	if o.Configure != nil {
		o.Configure(w)
	}
	o.mu.Lock()
	o.windows = append(o.windows, w)
	o.mu.Unlock()
	return w, nil
}

// Windows returns the windows opened so far.
func (o *Opener) Windows() []*Window {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Window(nil), o.windows...)
}

// Last returns the most recently opened window, or nil.
func (o *Opener) Last() *Window {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.windows) == 0 {
		return nil
	}
	return o.windows[len(o.windows)-1]
}
