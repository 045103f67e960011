package helpers

import (
	"strings"
)

// BaseSubject returns the RFC 5256 base subject used to group replies and
// forwards with the message that started the conversation.
//
// Reply and forward prefixes ("Re:", "Re[2]:", "Fwd:", "FW:") and a trailing
// "(fwd)" are removed repeatedly, whitespace runs are collapsed and the
// result is upper-cased so it can be used directly as a map key.
func BaseSubject(subject string) string {
	if subject == "" {
		return ""
	}

	base := strings.ToUpper(strings.Join(strings.Fields(SanitizeUTF8(subject)), " "))

	for {
		old := base
		base = strings.TrimSuffix(base, "(FWD)")
		base = strings.TrimSpace(base)
		base = removeReplyPrefix(base)
		base = removeForwardPrefix(base)
		if base == old {
			return base
		}
	}
}

// removeReplyPrefix removes "RE:", "RE[2]:" and "RE(2):". Input is upper-cased.
func removeReplyPrefix(s string) string {
	if strings.HasPrefix(s, "RE:") {
		return strings.TrimSpace(s[3:])
	}

	if strings.HasPrefix(s, "RE[") || strings.HasPrefix(s, "RE(") {
		closeChar := ']'
		if s[2] == '(' {
			closeChar = ')'
		}
		if closeIdx := strings.IndexRune(s[3:], closeChar); closeIdx >= 0 {
			rest := s[3+closeIdx+1:]
			if strings.HasPrefix(rest, ":") {
				return strings.TrimSpace(rest[1:])
			}
		}
	}

	return s
}

func removeForwardPrefix(s string) string {
	for _, prefix := range []string{"FWD:", "FW:", "FORWARD:"} {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}
