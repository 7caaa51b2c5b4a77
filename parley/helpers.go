package parley

import (
	"regexp"
	"strings"
)

// htmlTagPattern matches HTML-like tags the completion model
// occasionally emits despite being asked for plain text.
var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// sanitizeReply strips bold markup pairs and HTML-like tags from a
// model response and trims surrounding whitespace. Applied to every
// AI-sourced reply; canned replies are pre-clean and skip this.
func sanitizeReply(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = htmlTagPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
