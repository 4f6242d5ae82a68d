package messaging

import "context"

// Window is a page opened by the host that messages can be posted to.
type Window interface {
	PostMessage(ctx context.Context, msg Message) error
	Closed() bool
	Close() error
}

// Opener opens a window on url whose inbound messages are dispatched to ch.
type Opener interface {
	Open(ctx context.Context, url string, ch *Channel) (Window, error)
}
