package oauthmodel

import (
	"fmt"
	"net/url"
)

// CallbackParameters is the authorization response delivered to the redirect URI.
type CallbackParameters struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseCallbackURL reads the authorization response from the query string, or
// from the fragment when the IdP answered with response_mode=fragment.
func ParseCallbackURL(raw string) (*CallbackParameters, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse callback url: %w", err)
	}
	values := u.Query()
	if values.Get("state") == "" && u.Fragment != "" {
		if fragment, err := url.ParseQuery(u.Fragment); err == nil {
			values = fragment
		}
	}
	return CallbackParametersFromValues(values), nil
}

// CallbackParametersFromValues reads the authorization response from query or form values.
func CallbackParametersFromValues(values url.Values) *CallbackParameters {
	return &CallbackParameters{
		Code:             values.Get("code"),
		State:            values.Get("state"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
	}
}

// Encode returns the parameters as a query string.
func (c *CallbackParameters) Encode() string {
	v := url.Values{}
	if c.Code != "" {
		v.Set("code", c.Code)
	}
	if c.State != "" {
		v.Set("state", c.State)
	}
	if c.Error != "" {
		v.Set("error", c.Error)
	}
	if c.ErrorDescription != "" {
		v.Set("error_description", c.ErrorDescription)
	}
	return v.Encode()
}
