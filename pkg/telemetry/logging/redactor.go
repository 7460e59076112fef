package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// secretKeys are attribute keys whose values are never logged.
var secretKeys = map[string]bool{
	"password": true,
	"secret":   true,
	"token":    true,
	"api_key":  true,
}

// redactAttr is a slog ReplaceAttr hook. It drops the value of secret
// attributes and strips the password from connection strings, so store
// DSNs can be logged safely.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if secretKeys[key] {
		return slog.String(a.Key, redacted)
	}
	if key == "dsn" || strings.HasSuffix(key, "_dsn") || key == "address" {
		if a.Value.Kind() == slog.KindString {
			return slog.String(a.Key, RedactURL(a.Value.String()))
		}
	}
	return a
}

// RedactURL removes the password from a URL-style connection string.
// Values that do not parse as URLs with user info are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
