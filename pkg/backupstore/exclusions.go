package backupstore

import (
	"path/filepath"
	"strings"

	"github.com/h4ckmm3/save-backup/pkg/plog"
)

// DefaultExclusions is the fixed list of files never backed up: editor
// metadata and OS index files. Each pattern matches a file's base name
// exactly or appears as a substring anywhere in the path. All matching,
// user patterns included, is case-insensitive.
var DefaultExclusions = []string{
	"default.sublime-commands",
	".sublime-commands",
	".DS_Store",
	"Thumbs.db",
}

// exclusionSet holds categorized exclusion patterns for efficient matching.
type exclusionSet struct {
	// basenames are exact base-name matches, the fast path.
	basenames map[string]struct{}
	// substrings match anywhere in the normalized full path.
	substrings []string
	// globs are wildcard patterns matched against the base name.
	globs []string
}

// makeExclusionSet analyzes and categorizes patterns. Patterns with
// wildcard characters become base-name globs; everything else matches both
// as an exact base name and as a path substring.
func makeExclusionSet(patterns []string) exclusionSet {
	set := exclusionSet{
		basenames: make(map[string]struct{}),
	}
	for _, p := range patterns {
		p = normalizeExclusionKey(p)
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?[]") {
			set.globs = append(set.globs, p)
			continue
		}
		set.basenames[p] = struct{}{}
		set.substrings = append(set.substrings, p)
	}
	return set
}

// matches reports whether the file at absPath is excluded from backups.
func (es *exclusionSet) matches(absPath, baseName string) bool {
	normalizedPath := normalizeExclusionKey(absPath)
	normalizedBase := normalizeExclusionKey(baseName)

	if _, ok := es.basenames[normalizedBase]; ok {
		return true
	}
	for _, sub := range es.substrings {
		if strings.Contains(normalizedPath, sub) {
			return true
		}
	}
	for _, g := range es.globs {
		match, err := filepath.Match(g, normalizedBase)
		if err != nil {
			plog.Warn("Invalid exclusion pattern", "pattern", g, "error", err)
			continue
		}
		if match {
			return true
		}
	}
	return false
}

// normalizeExclusionKey converts a path or pattern into a standardized,
// case-insensitive key format (forward slashes, lowercase).
func normalizeExclusionKey(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, `\`, "/"))
}
