// Package pathresolve derives a site identity and a project-relative path
// from an arbitrary absolute file path handed over by a text editor.
//
// Both derivations walk an ordered rule table and take the first rule that
// matches. The rules are heuristics: an ambiguous input may produce a
// plausible but wrong answer, and that is accepted. The hard guarantees are
// determinism (the same input always resolves to the same output) and that
// every tier has a defined fallback, so resolution never fails.
package pathresolve

import (
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/h4ckmm3/save-backup/pkg/plog"
	"github.com/h4ckmm3/save-backup/pkg/util"
)

// UnknownSite is the terminal fallback when no heuristic produces a site
// name and the local hostname is unavailable.
const UnknownSite = "unknown_site"

// relRule maps a project-root marker pattern to the relative-path capture
// after it. Order is priority order.
type relRule struct {
	name string
	re   *regexp.Regexp
}

// defaultMarkers are the built-in web-root folder names, in priority order.
var defaultMarkers = []string{"www", "public_html", "local", "htdocs", "home"}

// defaultRelRules are tried in order against the separator-normalized path.
// The var/www marker treats the next segment as the project directory, so
// the relative path starts below it; the plain web-root markers split
// directly after the marker folder.
var defaultRelRules = []relRule{
	{"var-www project root", regexp.MustCompile(`(?:^|/)var/www/[^/]+/(.+)$`)},
	{"www root", regexp.MustCompile(`(?:^|/)www/(.+)$`)},
	{"public_html root", regexp.MustCompile(`(?:^|/)public_html/(.+)$`)},
	{"local root", regexp.MustCompile(`(?:^|/)local/(.+)$`)},
	{"htdocs root", regexp.MustCompile(`(?:^|/)htdocs/(.+)$`)},
	{"home root", regexp.MustCompile(`(?:^|/)home/(.+)$`)},
}

// editorTempRule is always last among the marker rules: editors save remote
// files through a generated temp folder, and the real relative path is
// everything below that generated segment.
var editorTempRule = relRule{"editor temp dir", regexp.MustCompile(`(?:^|/)Temp/[^/]+/(.+)$`)}

var (
	// siteURLHostRe captures the host of a pseudo-URL path (ftp://host/...,
	// sftp://host/...) as editors embed them in buffer names.
	siteURLHostRe = regexp.MustCompile(`(?i)[a-z][a-z0-9+.-]*://([^/]+)`)

	// siteBeforeWebrootRe captures the segment immediately preceding a
	// web-root-like folder, e.g. /sites/example.com/www/.
	siteBeforeWebrootRe = regexp.MustCompile(`/([^/]+)/(?:www|public_html|httpdocs)/`)

	// siteKeyUnsafeRe matches every character that may not appear in an
	// on-disk site directory name.
	siteKeyUnsafeRe = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)
)

// webRootNames are folder names whose preceding segment is taken as the site
// when scanning segments (tier 3).
var webRootNames = map[string]struct{}{
	"www":         {},
	"public_html": {},
	"httpdocs":    {},
	"htdocs":      {},
}

// knownFileSuffixes disqualify a dotted segment from being read as a domain
// name (tier 4).
var knownFileSuffixes = []string{".php", ".html", ".js", ".css"}

// Resolver resolves site identities and relative paths. The zero value is
// not usable; construct with New.
type Resolver struct {
	hostname          func() (string, error)
	relRules          []relRule
	siteAfterMarkerRe *regexp.Regexp
}

// New returns a Resolver using the local machine's hostname as the final
// site fallback. extraMarkers adds user-configured web-root folder names;
// they rank below the built-in markers but above the editor temp rule.
func New(extraMarkers ...string) *Resolver {
	rules := make([]relRule, 0, len(defaultRelRules)+len(extraMarkers)+1)
	rules = append(rules, defaultRelRules...)

	markers := append([]string{}, defaultMarkers...)
	for _, m := range extraMarkers {
		m = strings.Trim(util.NormalizePath(m), "/")
		if m == "" {
			continue
		}
		quoted := regexp.QuoteMeta(m)
		rules = append(rules, relRule{
			name: m + " root",
			re:   regexp.MustCompile(`(?:^|/)` + quoted + `/(.+)$`),
		})
		markers = append(markers, quoted)
	}
	rules = append(rules, editorTempRule)

	// For var/www the segment after the marker is the project directory
	// itself, which doubles as the site name.
	alternation := `(?:var/www/|` + strings.Join(markers, "/|") + `/)`

	return &Resolver{
		hostname:          os.Hostname,
		relRules:          rules,
		siteAfterMarkerRe: regexp.MustCompile(alternation + `([^/]+)`),
	}
}

// RelativePath extracts the project-relative path from an absolute file
// path. It tries the marker rules in priority order and degrades to the
// file's base name when nothing matches. The result always uses forward
// slashes.
func (r *Resolver) RelativePath(absPath string) string {
	normalized := util.NormalizePath(absPath)

	for _, rule := range r.relRules {
		if m := rule.re.FindStringSubmatch(normalized); m != nil {
			plog.Debug("Resolved relative path", "rule", rule.name, "path", absPath, "relative", m[1])
			return m[1]
		}
	}

	// Fallback of last resort: the base name. Directory information is lost
	// here and that is accepted.
	base := path.Base(normalized)
	plog.Debug("Resolved relative path via base name fallback", "path", absPath, "relative", base)
	return base
}

// Site extracts a display site name from an absolute file path. The result
// is NOT safe as a directory name; pass it through SanitizeSiteKey first.
func (r *Resolver) Site(absPath string) string {
	normalized := util.NormalizePath(absPath)

	// Tier 1: segment following a web-root marker.
	if m := r.siteAfterMarkerRe.FindStringSubmatch(normalized); m != nil {
		plog.Debug("Resolved site after web-root marker", "path", absPath, "site", m[1])
		return m[1]
	}

	// Tier 2: pseudo-URL host.
	if m := siteURLHostRe.FindStringSubmatch(normalized); m != nil {
		plog.Debug("Resolved site from pseudo-URL host", "path", absPath, "site", m[1])
		return m[1]
	}

	// Tier 3: segment preceding a web-root-like folder.
	if m := siteBeforeWebrootRe.FindStringSubmatch(normalized); m != nil {
		plog.Debug("Resolved site before web-root folder", "path", absPath, "site", m[1])
		return m[1]
	}

	// Tier 3b: scan segments for a web-root name and take its predecessor.
	parts := splitSegments(normalized)
	for i, part := range parts {
		if _, ok := webRootNames[strings.ToLower(part)]; ok && i > 0 {
			plog.Debug("Resolved site from path structure", "path", absPath, "site", parts[i-1])
			return parts[i-1]
		}
	}

	// Tier 4: a dotted segment that does not look like a file name is
	// probably a domain.
	for _, part := range parts {
		if strings.Contains(part, ".") && !hasKnownFileSuffix(part) {
			plog.Debug("Resolved site from dotted segment", "path", absPath, "site", part)
			return part
		}
	}

	// Tier 5: local hostname, then the unknown-site label.
	if host, err := r.hostname(); err == nil && host != "" {
		plog.Debug("Resolved site via hostname fallback", "path", absPath, "site", host)
		return host
	}
	return UnknownSite
}

// SanitizeSiteKey converts a site display name into the on-disk directory
// key: every character outside [A-Za-z0-9_.-] becomes an underscore. The
// transformation is idempotent.
func SanitizeSiteKey(name string) string {
	return siteKeyUnsafeRe.ReplaceAllString(name, "_")
}

func splitSegments(normalized string) []string {
	raw := strings.Split(normalized, "/")
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func hasKnownFileSuffix(segment string) bool {
	lower := strings.ToLower(segment)
	for _, suffix := range knownFileSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
