package oauthmodel_test

import (
	"net/url"
	"testing"

	"github.com/immutable/go-passport/oauthmodel"
	"github.com/stretchr/testify/require"
)

const testRedirectURI = "http://localhost:3000/callback"

func validParameters() url.Values {
	return url.Values{
		"client_id":             {"client-1"},
		"response_type":         {"code"},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {"openid offline_access"},
		"state":                 {"state-1"},
		"nonce":                 {"nonce-1"},
		"code_challenge":        {"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"},
		"code_challenge_method": {"S256"},
	}
}

func TestAuthorizationParametersValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(url.Values)
		expected error
	}{
		{name: "valid", mutate: func(url.Values) {}},
		{name: "missing client", mutate: func(v url.Values) { v.Del("client_id") }, expected: oauthmodel.ErrMissingClientID},
		{name: "missing challenge", mutate: func(v url.Values) { v.Del("code_challenge") }, expected: oauthmodel.ErrInvalidCodeChallenge},
		{name: "plain challenge", mutate: func(v url.Values) { v.Set("code_challenge_method", "plain") }, expected: oauthmodel.ErrInvalidCodeChallengeMethod},
		{name: "unregistered redirect", mutate: func(v url.Values) { v.Set("redirect_uri", "https://evil.example") }, expected: oauthmodel.ErrInvalidRedirectUri},
		{name: "bad response mode", mutate: func(v url.Values) { v.Set("response_mode", "web_message") }, expected: oauthmodel.ErrInvalidResponseMode},
		{name: "implicit flow", mutate: func(v url.Values) { v.Set("response_type", "token") }, expected: oauthmodel.ErrInvalidResponseType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validParameters()
			tt.mutate(q)
			err := oauthmodel.ParseAuthorizationParameters(q).Validate([]string{testRedirectURI})
			if tt.expected == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestAuthorizationParametersExtras(t *testing.T) {
	p := &oauthmodel.AuthorizationParameters{
		Audience:          "platform_api",
		DirectLoginMethod: oauthmodel.DirectLoginGoogle,
		AnonymousID:       "anon-1",
		WithoutWallet:     true,
	}
	require.Equal(t, map[string]string{
		"audience":         "platform_api",
		"direct":           "google",
		"third_party_a_id": "anon-1",
		"without_wallet":   "true",
	}, p.Extras())
}

func TestParseCallbackURL(t *testing.T) {
	params, err := oauthmodel.ParseCallbackURL(testRedirectURI + "?code=abc&state=xyz")
	require.NoError(t, err)
	require.Equal(t, "abc", params.Code)
	require.Equal(t, "xyz", params.State)

	params, err = oauthmodel.ParseCallbackURL(testRedirectURI + "#error=access_denied&error_description=nope&state=xyz")
	require.NoError(t, err)
	require.Equal(t, "access_denied", params.Error)
	require.Equal(t, "nope", params.ErrorDescription)
	require.Equal(t, "xyz", params.State)

	_, err = oauthmodel.ParseCallbackURL("://bad")
	require.Error(t, err)
}

func TestParseTokenRequest(t *testing.T) {
	req, err := oauthmodel.ParseTokenRequest(url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"client-1"},
		"refresh_token": {"rt"},
	})
	require.NoError(t, err)
	require.Equal(t, oauthmodel.RefreshTokenCodeGrant, req.GrantType)
	require.Equal(t, "rt", req.RefreshToken)
	require.Nil(t, req.Scope)

	_, err = oauthmodel.ParseTokenRequest(url.Values{"grant_type": {"password"}, "client_id": {"c"}})
	require.ErrorIs(t, err, oauthmodel.ErrUnsupportedGrantType)

	_, err = oauthmodel.ParseTokenRequest(url.Values{"grant_type": {"refresh_token"}})
	require.ErrorIs(t, err, oauthmodel.ErrMissingClientID)
}
