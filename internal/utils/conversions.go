package utils

import "strings"

func ToStringSlice(slice []any) []string {
	stringSlice := make([]string, 0)
	for _, v := range slice {
		if s, ok := v.(string); ok {
			stringSlice = append(stringSlice, s)
		}
	}
	return stringSlice
}

// StringClaim returns claims[name] when it is a string, otherwise "".
func StringClaim(claims map[string]any, name string) string {
	if s, ok := claims[name].(string); ok {
		return s
	}
	return ""
}

// AudienceClaim normalises the aud claim, which may be a string or a list.
func AudienceClaim(claims map[string]any) []string {
	switch aud := claims["aud"].(type) {
	case string:
		return []string{aud}
	case []any:
		return ToStringSlice(aud)
	case []string:
		return aud
	}
	return nil
}

// ScopeList splits a space separated scope string, dropping empty entries.
func ScopeList(scope string) []string {
	return strings.Fields(scope)
}

// ContainsString reports whether list contains s.
func ContainsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
