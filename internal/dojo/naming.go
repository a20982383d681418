package dojo

import (
	"path/filepath"
	"strings"
)

// DeriveProductName guesses a product name from a report file name: the
// text before the first underscore, or the name without its extension
// when there is no underscore. A name with nothing left after that falls
// back to the whole base name.
func DeriveProductName(filename string) string {
	base := filepath.Base(filename)

	if head, _, found := strings.Cut(base, "_"); found && head != "" {
		return head
	}

	head, _, _ := strings.Cut(base, ".")
	if head == "" {
		head = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if head == "" {
		return base
	}
	return head
}
