package telegram

import "strings"

// chunkMessage splits a message into chunks that fit within Telegram's
// message size limit, preferring newline boundaries.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

// toTelegramMarkdown converts **bold** pairs to Telegram's single-asterisk
// bold. Everything else passes through.
func toTelegramMarkdown(text string) string {
	for {
		open := strings.Index(text, "**")
		if open < 0 {
			return text
		}
		end := strings.Index(text[open+2:], "**")
		if end < 0 {
			return text
		}
		end += open + 2
		text = text[:open] + "*" + text[open+2:end] + "*" + text[end+2:]
	}
}
