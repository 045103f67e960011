package helpers

import "strings"

// AddressDomain returns the lower-cased domain of an email address, or ""
// when the address has no '@'.
func AddressDomain(email string) string {
	email = strings.TrimSpace(strings.Trim(email, "<>"))
	idx := strings.LastIndex(email, "@")
	if idx < 0 || idx == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[idx+1:])
}
