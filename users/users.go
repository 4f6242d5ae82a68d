package users

import (
	"errors"
	"fmt"

	"github.com/immutable/go-passport/internal/utils"
)

// ErrMalformedClaims is returned when ID token claims cannot be mapped to a User.
var ErrMalformedClaims = errors.New("malformed user claims")

// Claim names read from the ID token.
const (
	ClaimSubject  = "sub"
	ClaimEmail    = "email"
	ClaimNickname = "nickname"
	ClaimPassport = "passport"

	ClaimEtherKey              = "ether_key"
	ClaimStarkKey              = "stark_key"
	ClaimUserAdminKey          = "user_admin_key"
	ClaimZkEvmEthAddress       = "zkevm_eth_address"
	ClaimZkEvmUserAdminAddress = "zkevm_user_admin_address"
)

// ImxWallet holds the StarkEx wallet keys registered for a user.
type ImxWallet struct {
	EtherKey     string `json:"ether_key"`
	StarkKey     string `json:"stark_key"`
	UserAdminKey string `json:"user_admin_key"`
}

// ZkEvmWallet holds the zkEVM addresses registered for a user.
type ZkEvmWallet struct {
	EthAddress       string `json:"eth_address"`
	UserAdminAddress string `json:"user_admin_address"`
}

// User is the domain view of the logged in identity.
type User struct {
	Subject  string         `json:"sub"`                // Subject identifier issued by the IdP
	Email    string         `json:"email,omitempty"`    // Email address, when the email scope was granted
	Nickname string         `json:"nickname,omitempty"` // Display name
	Imx      *ImxWallet     `json:"imx,omitempty"`      // nil until the user registers off-chain
	ZkEvm    *ZkEvmWallet   `json:"zkevm,omitempty"`    // nil until the user registers on zkEVM
	Claims   map[string]any `json:"-"`                  // Raw profile claims
}

// HasImxWallet reports whether the StarkEx wallet has been registered.
func (u *User) HasImxWallet() bool {
	return u != nil && u.Imx != nil
}

// HasZkEvmWallet reports whether the zkEVM wallet has been registered.
func (u *User) HasZkEvmWallet() bool {
	return u != nil && u.ZkEvm != nil
}

// FromClaims maps ID token claims to a User. A wallet whose keys are only
// partially present is rejected rather than half trusted.
func FromClaims(claims map[string]any) (*User, error) {
	subject := utils.StringClaim(claims, ClaimSubject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedClaims, ClaimSubject)
	}

	user := &User{
		Subject:  subject,
		Email:    utils.StringClaim(claims, ClaimEmail),
		Nickname: utils.StringClaim(claims, ClaimNickname),
		Claims:   claims,
	}

	raw, ok := claims[ClaimPassport]
	if !ok || raw == nil {
		return user, nil
	}
	metadata, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an object", ErrMalformedClaims, ClaimPassport)
	}

	imx, err := walletGroup(metadata, ClaimEtherKey, ClaimStarkKey, ClaimUserAdminKey)
	if err != nil {
		return nil, err
	}
	if imx != nil {
		user.Imx = &ImxWallet{EtherKey: imx[0], StarkKey: imx[1], UserAdminKey: imx[2]}
	}

	zkevm, err := walletGroup(metadata, ClaimZkEvmEthAddress, ClaimZkEvmUserAdminAddress)
	if err != nil {
		return nil, err
	}
	if zkevm != nil {
		user.ZkEvm = &ZkEvmWallet{EthAddress: zkevm[0], UserAdminAddress: zkevm[1]}
	}

	return user, nil
}

// walletGroup returns nil when none of names is set, the values when all are, and an error otherwise.
func walletGroup(metadata map[string]any, names ...string) ([]string, error) {
	values := make([]string, len(names))
	present := 0
	for i, name := range names {
		if v, ok := metadata[name]; ok && v != nil {
			s, isString := v.(string)
			if !isString {
				return nil, fmt.Errorf("%w: %s is not a string", ErrMalformedClaims, name)
			}
			values[i] = s
			if s != "" {
				present++
			}
		}
	}

	switch present {
	case 0:
		return nil, nil
	case len(names):
		return values, nil
	}
	for i, name := range names {
		if values[i] == "" {
			return nil, fmt.Errorf("%w: %s missing from wallet metadata", ErrMalformedClaims, name)
		}
	}
	return values, nil
}
