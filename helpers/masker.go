package helpers

import "strings"

// MaskCredentials redacts the secret part of LOGIN and AUTHENTICATE command
// lines in an IMAP or SMTP protocol trace. Lines for other commands are
// returned unchanged.
//
//	A1 LOGIN user secret       -> A1 LOGIN user [REDACTED]
//	AUTH PLAIN AGJvdABzZWNyZXQ= -> AUTH PLAIN [REDACTED]
func MaskCredentials(line string) string {
	parts := strings.Fields(line)

	cmdIndex := -1
	for i, p := range parts {
		if i > 1 {
			break
		}
		if strings.EqualFold(p, "LOGIN") || strings.EqualFold(p, "AUTHENTICATE") || strings.EqualFold(p, "AUTH") {
			cmdIndex = i
			break
		}
	}
	if cmdIndex == -1 {
		return line
	}

	// Keep the command and its first argument (user name or mechanism).
	keep := cmdIndex + 2
	if len(parts) > keep {
		return strings.Join(parts[:keep], " ") + " [REDACTED]"
	}

	// e.g. "A001 AUTHENTICATE PLAIN" where the data comes on the next line.
	return line
}
