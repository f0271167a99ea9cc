// Package privacy keeps credentials and chat identifiers out of logs and
// stored error messages.
package privacy

import (
	"strings"
)

// MaskToken masks a bot token showing only the last 4 characters.
// Example: "110201543:AAHdqTcv..." -> "****...****cv12"
func MaskToken(token string) string {
	return maskString(token, 4)
}

// Redact replaces every occurrence of each secret in s with its masked form.
// Bot API URLs embed the token, so transport errors must pass through here
// before they are logged or persisted.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, maskString(secret, 4))
	}
	return s
}

// MaskChatID masks a chat identifier while keeping enough to recognize it.
// Example: "@dealsandsteals" -> "@deals**********", "-1001234567890" -> "**********7890"
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}

	if strings.HasPrefix(chatID, "@") {
		name := chatID[1:]
		if len(name) <= 5 {
			return "@" + name
		}
		return "@" + name[:5] + strings.Repeat("*", len(name)-5)
	}

	return maskString(chatID, 4)
}

// maskString masks a string showing only the last n characters.
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}
