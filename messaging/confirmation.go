package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	ErrConfirmationFailed  = errors.New("confirmation failed")
)

const (
	DefaultConfirmationTimeout = 5 * time.Minute
	DefaultClosedPollInterval  = 500 * time.Millisecond
)

// Confirmation page paths on the passport domain.
const (
	PathTransactionConfirmation = "/transaction-confirmation/transaction"
	PathMessageConfirmation     = "/transaction-confirmation/zkevm/message"
)

// ConfirmationState is the progress of one confirmation flow.
type ConfirmationState int

const (
	Idle ConfirmationState = iota
	WindowOpened
	WaitingForReady
	MessageSent
	Resolved
)

func (s ConfirmationState) String() string {
	switch s {
	case Idle:
		return "idle"
	case WindowOpened:
		return "window_opened"
	case WaitingForReady:
		return "waiting_for_ready"
	case MessageSent:
		return "message_sent"
	case Resolved:
		return "resolved"
	}
	return "unknown"
}

// TransactionRequest identifies a transaction awaiting the user's approval.
type TransactionRequest struct {
	TransactionID string `json:"transactionId"`
	EtherAddress  string `json:"etherAddress"`
	ChainType     string `json:"chainType,omitempty"`
	ChainID       string `json:"chainId,omitempty"`
}

// MessageRequest identifies a message awaiting the user's signature.
type MessageRequest struct {
	MessageID    string `json:"messageID"`
	EtherAddress string `json:"etherAddress"`
}

// ConfirmationResult is how the user resolved the screen.
type ConfirmationResult struct {
	Confirmed bool
	Message   Message
}

// ConfirmationOption configures a ConfirmationScreen.
type ConfirmationOption func(*ConfirmationScreen)

// WithConfirmationTimeout bounds how long a flow waits for a terminal message.
func WithConfirmationTimeout(d time.Duration) ConfirmationOption {
	return func(s *ConfirmationScreen) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClosedPollInterval sets how often the window is checked for being closed.
func WithClosedPollInterval(d time.Duration) ConfirmationOption {
	return func(s *ConfirmationScreen) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithStateObserver is called on every state transition.
func WithStateObserver(fn func(ConfirmationState)) ConfirmationOption {
	return func(s *ConfirmationScreen) {
		s.observer = fn
	}
}

// WithConfirmationLogger sets the logger.
func WithConfirmationLogger(logger zerolog.Logger) ConfirmationOption {
	return func(s *ConfirmationScreen) {
		s.logger = logger
	}
}

// ConfirmationScreen asks the user to approve transactions and messages on the passport domain.
type ConfirmationScreen struct {
	opener       Opener
	baseURL      string
	origin       string
	timeout      time.Duration
	pollInterval time.Duration
	observer     func(ConfirmationState)
	logger       zerolog.Logger
}

// NewConfirmationScreen opens confirmation pages under passportDomain through opener.
func NewConfirmationScreen(opener Opener, passportDomain string, opts ...ConfirmationOption) (*ConfirmationScreen, error) {
	if opener == nil {
		return nil, errors.New("[NewConfirmationScreen] opener is required")
	}
	origin, err := Origin(passportDomain)
	if err != nil {
		return nil, fmt.Errorf("[NewConfirmationScreen] passport domain: %w", err)
	}
	s := &ConfirmationScreen{
		opener:       opener,
		baseURL:      strings.TrimRight(passportDomain, "/"),
		origin:       origin,
		timeout:      DefaultConfirmationTimeout,
		pollInterval: DefaultClosedPollInterval,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ConfirmTransaction shows the transaction screen and waits for the user's decision.
func (s *ConfirmationScreen) ConfirmTransaction(ctx context.Context, req TransactionRequest) (*ConfirmationResult, error) {
	q := url.Values{}
	q.Set("transactionId", req.TransactionID)
	q.Set("etherAddress", req.EtherAddress)
	if req.ChainType != "" {
		q.Set("chainType", req.ChainType)
	}
	if req.ChainID != "" {
		q.Set("chainID", req.ChainID)
	}
	return s.run(ctx, s.baseURL+PathTransactionConfirmation+"?"+q.Encode(), req, TransactionConfirmed, TransactionRejected)
}

// ConfirmMessage shows the message signing screen and waits for the user's decision.
func (s *ConfirmationScreen) ConfirmMessage(ctx context.Context, req MessageRequest) (*ConfirmationResult, error) {
	q := url.Values{}
	q.Set("messageID", req.MessageID)
	q.Set("etherAddress", req.EtherAddress)
	return s.run(ctx, s.baseURL+PathMessageConfirmation+"?"+q.Encode(), req, MessageConfirmed, MessageRejected)
}

type outcome struct {
	result *ConfirmationResult
	err    error
}

// run drives one flow. The flow owns its channel and window and tears both
// down whichever way it resolves.
func (s *ConfirmationScreen) run(ctx context.Context, pageURL string, request any, confirmed, rejected MessageType) (*ConfirmationResult, error) {
	start, err := NewMessage(ConfirmationStart, request)
	if err != nil {
		return nil, err
	}

	var (
		stateMu sync.Mutex
		state   = Idle
	)
	setState := func(next ConfirmationState) {
		stateMu.Lock()
		if state == Resolved || next <= state {
			stateMu.Unlock()
			return
		}
		state = next
		stateMu.Unlock()
		if s.observer != nil {
			s.observer(next)
		}
	}

	outcomes := make(chan outcome, 1)
	resolve := func(o outcome) {
		select {
		case outcomes <- o:
		default:
		}
	}

	// Handlers are registered before the window opens so an early ready
	// message is not lost; they wait for the window to be known.
	var win Window
	opened := make(chan struct{})
	ch := NewChannel(s.origin)
	defer ch.Destroy()

	ch.On(ConfirmationWindowReady, func(Message) {
		select {
		case <-opened:
		case <-ctx.Done():
			return
		}
		setState(MessageSent)
		if err := ch.Post(ctx, win, start); err != nil {
			resolve(outcome{err: err})
		}
	})
	ch.On(confirmed, func(msg Message) {
		resolve(outcome{result: &ConfirmationResult{Confirmed: true, Message: msg}})
	})
	ch.On(rejected, func(msg Message) {
		resolve(outcome{result: &ConfirmationResult{Confirmed: false, Message: msg}})
	})
	ch.On(TransactionError, func(msg Message) {
		resolve(outcome{err: fmt.Errorf("%w: %s", ErrConfirmationFailed, string(msg.Data))})
	})

	win, err = s.opener.Open(ctx, pageURL, ch)
	if err != nil {
		return nil, err
	}
	close(opened)
	ch.OnDestroy(func() { _ = win.Close() })
	setState(WindowOpened)
	setState(WaitingForReady)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	finish := func(o outcome) (*ConfirmationResult, error) {
		setState(Resolved)
		if o.err != nil {
			s.logger.Debug().Err(o.err).Msg("confirmation rejected")
		}
		return o.result, o.err
	}

	for {
		select {
		case o := <-outcomes:
			return finish(o)
		case <-ticker.C:
			if !win.Closed() {
				continue
			}
			// a terminal message may have raced the close
			select {
			case o := <-outcomes:
				return finish(o)
			default:
			}
			return finish(outcome{err: ErrWindowClosed})
		case <-timer.C:
			return finish(outcome{err: ErrConfirmationTimeout})
		case <-ctx.Done():
			return finish(outcome{err: context.Cause(ctx)})
		}
	}
}
