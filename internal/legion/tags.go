package legion

import "regexp"

var tagPattern = regexp.MustCompile(`#([A-Za-z0-9_][A-Za-z0-9_-]*)`)

// extractTags scans content for #token references and resolves each token
// against the legion's current minion and channel names (exact, case
// sensitive). Unresolved tokens stay plain text. Caller holds the lock.
func (l *Legion) extractTags(content string) *TagMeta {
	matches := tagPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	meta := &TagMeta{}
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		token := m[1]
		if seen[token] {
			continue
		}
		seen[token] = true

		if _, ok := l.names[token]; ok {
			meta.Minions = append(meta.Minions, token)
			continue
		}
		if _, ok := l.channelNames[token]; ok {
			meta.Channels = append(meta.Channels, token)
		}
	}

	if len(meta.Minions) == 0 && len(meta.Channels) == 0 {
		return nil
	}
	return meta
}
