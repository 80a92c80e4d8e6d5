package validation

import "strings"

// Zero-width and other invisible characters that sneak in from copy/paste.
var invisibleChars = []string{
	"\u200B", // zero-width space
	"\u200C", // zero-width non-joiner
	"\u200D", // zero-width joiner
	"\uFEFF", // BOM
	"\u00AD", // soft hyphen
	"\u2060", // word joiner
	"\u180E", // Mongolian vowel separator
}

// SanitizeField removes invisible characters and trims whitespace.
func SanitizeField(field string) string {
	if field == "" {
		return field
	}
	for _, c := range invisibleChars {
		field = strings.ReplaceAll(field, c, "")
	}
	return strings.TrimSpace(field)
}

// NormalizeCategories sanitizes category names, splits comma-separated
// values ("Data,Code"), and drops empties and duplicates, keeping order.
func NormalizeCategories(raw []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, entry := range raw {
		for _, c := range strings.Split(entry, ",") {
			c = SanitizeField(c)
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			result = append(result, c)
		}
	}
	return result
}

// NormalizeDirectoryLabel converts Windows separators and strips leading
// and trailing slashes.
func NormalizeDirectoryLabel(label string) string {
	label = strings.ReplaceAll(SanitizeField(label), `\`, "/")
	return strings.Trim(label, "/")
}
