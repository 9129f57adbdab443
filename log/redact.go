package log

import (
	"net/url"
	"strings"
)

// RedactURL masks the password portion of storage URLs so object store
// credentials never end up in log output. Non-URL strings pass through
// untouched; strings that look like URLs but fail to parse are fully masked.
func RedactURL(s string) string {
	if !strings.Contains(s, "://") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		if err != nil {
			return "REDACTED"
		}
		return s
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
		out, err := url.PathUnescape(u.String())
		if err != nil {
			return u.String()
		}
		return out
	}
	return s
}

func redactKeyvals(keyvals ...interface{}) []interface{} {
	out := make([]interface{}, 0, len(keyvals))
	for i, kv := range keyvals {
		if i%2 == 1 {
			if s, ok := kv.(string); ok {
				out = append(out, RedactURL(s))
				continue
			}
		}
		out = append(out, kv)
	}
	return out
}
