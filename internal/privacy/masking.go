package privacy

import (
	"strings"

	"socialqueue/internal/constants"
)

// MaskSecret hides all but the last few characters of a token or secret.
// Example: "1234-abcdefgh" -> "*********efgh"
func MaskSecret(secret string) string {
	visible := constants.DefaultSecretVisibleChars
	if len(secret) <= visible {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-visible) + secret[len(secret)-visible:]
}

// MaskEmail keeps the first character of the local part and the domain.
// Example: "alice@example.com" -> "a****@example.com"
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return MaskSecret(email)
	}
	local, domain := email[:at], email[at:]
	return local[:1] + strings.Repeat("*", len(local)-1) + domain
}

// MaskOwner masks an owner id unless verbose logging was requested.
func MaskOwner(owner string, verbose bool) string {
	if verbose {
		return owner
	}
	return MaskEmail(owner)
}
