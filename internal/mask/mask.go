// Package mask hides credentials and personal data in diagnostic output.
package mask

import (
	"regexp"
	"strings"
)

// Placeholder replaces masked secrets
const Placeholder = "***"

var (
	localhostPattern = regexp.MustCompile(`localhost:\d+`)
	bearerPattern    = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`)
	passwordPattern  = regexp.MustCompile(`(?i)password['":\s]*['"]\w+['"]`)
	userPathPattern  = regexp.MustCompile(`/users/\d+`)
	emailPattern     = regexp.MustCompile(`(?i)email['":\s]*['"][^'"]+['"]`)
)

// Email keeps the first two characters of the local part and the domain
func Email(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at:]
	runes := []rune(local)
	if len(runes) < 2 {
		return email
	}
	return string(runes[:2]) + Placeholder + domain
}

// Fields returns a copy of data with password and token replaced and email truncated.
// Other keys are copied untouched.
func Fields(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	masked := make(map[string]any, len(data))
	for k, v := range data {
		masked[k] = v
	}
	if v, ok := masked["password"]; ok && !isEmpty(v) {
		masked["password"] = Placeholder
	}
	if v, ok := masked["token"]; ok && !isEmpty(v) {
		masked["token"] = Placeholder
	}
	if v, ok := masked["email"].(string); ok && v != "" {
		masked["email"] = Email(v)
	}
	return masked
}

// String masks secrets embedded in free text such as URLs and log lines
func String(s string) string {
	s = localhostPattern.ReplaceAllString(s, "***:***")
	s = bearerPattern.ReplaceAllString(s, "Bearer ***")
	s = passwordPattern.ReplaceAllString(s, `password: "***"`)
	s = userPathPattern.ReplaceAllString(s, "/users/***")
	s = strings.ReplaceAll(s, "/auth/login", "/auth/***")
	s = emailPattern.ReplaceAllString(s, `email: "***@***.***"`)
	return s
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}
