package engine

import (
	"fmt"
	"strings"
)

// validatePath enforces spec.md §6's path grammar: non-empty, no
// ".." traversal segment, no "::" separator, and no leading "/" or
// "\".
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path is empty", ErrInvalidInput)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%w: path %q contains \"..\"", ErrInvalidInput, path)
	}
	if strings.Contains(path, "::") {
		return fmt.Errorf("%w: path %q contains \"::\"", ErrInvalidInput, path)
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return fmt.Errorf("%w: path %q starts with a separator", ErrInvalidInput, path)
	}
	return nil
}

// validatePrefix enforces the same grammar as validatePath except
// that "" is accepted, since search_paths treats an empty prefix as
// "match every path" (spec.md §6 "search_paths").
func validatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	return validatePath(prefix)
}
