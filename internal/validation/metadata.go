// Package validation checks file metadata against the rules Dataverse
// enforces when a file is added to a dataset, so bad input fails before
// any bytes are sent.
package validation

import (
	"fmt"
	"strings"
)

// Characters Dataverse rejects in a file name (FileMetadata.label).
const invalidFileNameChars = `/\:*?"<>|;#`

// ValidateFileName validates the name a file is registered under.
//
// Returns an error if the name:
//   - Is empty or only whitespace
//   - Contains any of / \ : * ? " < > | ; #
//   - Contains control characters
func ValidateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if i := strings.IndexAny(name, invalidFileNameChars); i >= 0 {
		return fmt.Errorf("file name %q cannot contain %q (not allowed: %s)", name, name[i], invalidFileNameChars)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("file name %q contains a control character", name)
		}
	}
	return nil
}

// ValidateDirectoryLabel validates a folder path within a dataset. Valid
// characters are letters, digits, '_', '-', '.', '\', '/' and space; an
// empty label is the dataset root.
//
// ".." components are rejected as well: Dataverse stores the label
// verbatim and they would surface as odd folders on download.
func ValidateDirectoryLabel(label string) error {
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune(`_-.\/ `, r):
		default:
			return fmt.Errorf("directory label %q contains invalid character %q (valid: letters, digits, _ - . \\ / and space)", label, r)
		}
	}
	for _, part := range strings.FieldsFunc(label, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("directory label %q cannot contain '..'", label)
		}
	}
	return nil
}
