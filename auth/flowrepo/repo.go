package flowrepo

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no pending flow exists for a state.
var ErrNotFound = errors.New("state not found")

// FlowState is what a pending login needs to complete its callback.
type FlowState struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	Nonce        string    `json:"nonce"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
	// Logout marks the state of a logout redirect rather than a login.
	Logout bool `json:"logout,omitempty"`
}

// Repo stores pending login flows keyed by the OAuth state parameter.
type Repo interface {
	Upsert(ctx context.Context, state string, flow *FlowState) error
	// Take returns and removes the flow, so a state can be consumed once.
	Take(ctx context.Context, state string) (*FlowState, error)
}
