package parley

import "strings"

// cannedReplies maps normalized trigger phrases to fixed replies,
// served without a completion call. Entries are pre-clean: they
// bypass reply sanitization.
var cannedReplies = map[string]string{
	"hi":        "Hello! How can I assist you today?",
	"hello":     "Hello! How can I assist you today?",
	"thanks":    "You're welcome! \U0001F60A",
	"thank you": "You're welcome! \U0001F60A",
}

// normalizeTrigger lowercases and trims a message for cache lookup.
func normalizeTrigger(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// cachedReply returns the canned reply for the message, if any.
// Lookups are skipped entirely while the user is in translation mode;
// the caller enforces that.
func cachedReply(text string) (string, bool) {
	reply, ok := cannedReplies[normalizeTrigger(text)]
	return reply, ok
}
