package responder

import (
	"strings"
	"time"
)

// RecencyWindow is the lookback used when asking the mailbox for candidates.
const RecencyWindow = 24 * time.Hour

// Both terms must appear in the lowercased subject.
const (
	keywordPlaylist = "playlist"
	keywordGimme    = "gimme"
)

// PlaylistURL is the link handed out in every reply.
const PlaylistURL = "https://www.youtube.com/playlist?list=PLWG1mVtuzdxeKG-_E5pzLkCG0yIQlSutk"

// ReplyBody is sent verbatim for every matched message.
const ReplyBody = "Hello,\n\n" +
	"Thanks for your request! Here's the playlist you asked for:\n\n" +
	PlaylistURL + "\n\n" +
	"Enjoy!"

// Matches reports whether subject asks for the playlist. The test is a
// case-insensitive substring check for both keywords, in any order.
func Matches(subject string) bool {
	if subject == "" {
		return false
	}
	s := strings.ToLower(subject)
	return strings.Contains(s, keywordPlaylist) && strings.Contains(s, keywordGimme)
}

// ReplySubject returns the subject used for the reply. The original subject
// is kept as received.
func ReplySubject(subject string) string {
	return "Re: " + subject
}
