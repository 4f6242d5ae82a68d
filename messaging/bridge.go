package messaging

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WindowIDParam is the query parameter a bridged page echoes back when it connects.
const WindowIDParam = "windowId"

const (
	writeWait        = 10 * time.Second
	defaultReadLimit = 64 * 1024
)

// Launcher shows url to the user, usually in the system browser.
type Launcher func(url string) error

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the logger.
func WithBridgeLogger(logger zerolog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithReadLimit caps the size of inbound frames.
func WithReadLimit(n int64) BridgeOption {
	return func(b *Bridge) {
		b.readLimit = n
	}
}

// Bridge is the window transport for hosts without a DOM: it launches pages
// through a Launcher and the pages connect back over a websocket. Frames a
// page sends are dispatched to the window's channel with the connection's
// Origin header as their origin.
type Bridge struct {
	upgrader  websocket.Upgrader
	launch    Launcher
	logger    zerolog.Logger
	readLimit int64

	mu      sync.Mutex
	windows map[string]*bridgeWindow
}

var _ Opener = (*Bridge)(nil)

// NewBridge creates a bridge opening windows with launch.
func NewBridge(launch Launcher, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		launch:    launch,
		logger:    zerolog.Nop(),
		readLimit: defaultReadLimit,
		windows:   make(map[string]*bridgeWindow),
	}
	// Pages live on the passport domain, so every upgrade is cross-origin.
	// The channel decides which origins it trusts.
	b.upgrader = websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open launches rawURL with a window id appended and returns the window it will connect as.
// Messages posted before the page connects are delivered once it does.
func (b *Bridge) Open(_ context.Context, rawURL string, ch *Channel) (Window, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse window url: %w", err)
	}
	id := uuid.New().String()
	q := u.Query()
	q.Set(WindowIDParam, id)
	u.RawQuery = q.Encode()

	win := &bridgeWindow{id: id, bridge: b, channel: ch}
	b.mu.Lock()
	b.windows[id] = win
	b.mu.Unlock()

	if err := b.launch(u.String()); err != nil {
		b.remove(id)
		return nil, fmt.Errorf("launch window: %w", err)
	}
	b.logger.Debug().Str("window_id", id).Msg("window opened")
	return win, nil
}

// ServeHTTP upgrades a page's connection and pumps its frames into the window's channel.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	win := b.window(r.URL.Query().Get(WindowIDParam))
	if win == nil {
		http.Error(w, "unknown window", http.StatusNotFound)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Str("window_id", win.id).Msg("window upgrade failed")
		return
	}
	if !win.attach(conn) {
		_ = conn.Close()
		return
	}
	b.readLoop(win, conn, r.Header.Get("Origin"))
}

// Len is the number of open windows.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows)
}

// Close closes every open window.
func (b *Bridge) Close() {
	b.mu.Lock()
	windows := make([]*bridgeWindow, 0, len(b.windows))
	for _, win := range b.windows {
		windows = append(windows, win)
	}
	b.mu.Unlock()

	for _, win := range windows {
		_ = win.Close()
	}
}

func (b *Bridge) readLoop(win *bridgeWindow, conn *websocket.Conn, origin string) {
	defer win.detach()
	conn.SetReadLimit(b.readLimit)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug().Err(err).Str("window_id", win.id).Msg("window connection ended")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if !win.channel.Dispatch(Event{Origin: origin, Data: data}) {
			b.logger.Debug().Str("window_id", win.id).Str("origin", origin).Msg("window message ignored")
		}
	}
}

func (b *Bridge) window(id string) *bridgeWindow {
	if id == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.windows[id]
}

func (b *Bridge) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.windows, id)
}

type bridgeWindow struct {
	id      string
	bridge  *Bridge
	channel *Channel

	mu      sync.Mutex
	conn    *websocket.Conn
	pending []Message
	closed  bool
}

// attach binds the first connection for the window and flushes queued messages.
func (w *bridgeWindow) attach(conn *websocket.Conn) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.conn != nil {
		return false
	}
	w.conn = conn
	for _, msg := range w.pending {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			w.bridge.logger.Warn().Err(err).Str("window_id", w.id).Msg("flushing queued message failed")
			break
		}
	}
	w.pending = nil
	return true
}

// detach marks the window closed once its page went away.
func (w *bridgeWindow) detach() {
	w.mu.Lock()
	w.closed = true
	conn := w.conn
	w.mu.Unlock()

	w.bridge.remove(w.id)
	if conn != nil {
		_ = conn.Close()
	}
}

func (w *bridgeWindow) PostMessage(ctx context.Context, msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWindowClosed
	}
	if w.conn == nil {
		w.pending = append(w.pending, msg)
		return nil
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	_ = w.conn.SetWriteDeadline(deadline)
	return w.conn.WriteJSON(msg)
}

func (w *bridgeWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *bridgeWindow) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	w.mu.Unlock()

	w.bridge.remove(w.id)
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return conn.Close()
}
