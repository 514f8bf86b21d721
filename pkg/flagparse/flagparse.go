// Package flagparse holds parsing helpers for list-valued command-line
// flags.
package flagparse

import "strings"

// ParseExcludeList parses a comma-separated list of file name patterns.
// Quotes are removed, as they are only used for grouping items with spaces.
// Backslashes are literal characters for Windows path compatibility.
func ParseExcludeList(s string) []string {
	return parseList(s)
}

// ParseMarkerList parses a comma-separated list of web-root folder names.
func ParseMarkerList(s string) []string {
	return parseList(s)
}

// ParsePathList parses a comma-separated list of file or directory paths.
// Quoting allows paths that contain commas.
func ParsePathList(s string) []string {
	return parseList(s)
}

// parseList splits a comma-separated list. It supports both single (') and
// double (") quotes to allow items to contain commas or spaces.
func parseList(s string) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	for _, r := range s {
		switch {
		case r == '\'' || r == '"':
			switch quoteChar {
			case 0: // start of a quoted section
				quoteChar = r
			case r: // end of the current quoted section
				quoteChar = 0
			default: // the other quote kind inside a quoted section
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0:
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()
	return list
}
