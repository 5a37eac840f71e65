package catalog

import "strings"

// containsFold reports whether s contains substr, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Normalize lowers and trims utterance text before criterion evaluation so
// matching is deterministic regardless of input casing or whitespace.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
