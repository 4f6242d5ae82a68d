package testidp

import (
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// createIDToken creates an OpenID Connect ID token carrying the user's profile claims.
func (p *Provider) createIDToken(userClaims map[string]any, nonce string, now time.Time) (string, error) {
	claims := jwt.MapClaims{}
	maps.Copy(claims, userClaims)
	claims["iss"] = p.Issuer()
	// users registered with an aud claim keep it
	if _, ok := claims["aud"]; !ok {
		claims["aud"] = p.clientID
	}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(p.idTokenTTL).Unix()
	claims["jti"] = uuid.New().String()

	if nonce != "" {
		claims["nonce"] = nonce
	}
	return p.sign(claims)
}

// createAccessToken creates a JWT access token for the given audience.
func (p *Provider) createAccessToken(subject, audience, scope string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"iss":       p.Issuer(),
		"sub":       subject,
		"aud":       audience,
		"client_id": p.clientID,
		"scope":     scope,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
		"jti":       uuid.New().String(),
	}
	return p.sign(claims)
}

func (p *Provider) sign(claims jwt.MapClaims) (string, error) {
	signed, err := p.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signed, nil
}
