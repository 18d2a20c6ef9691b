package verify

import (
	"regexp"
	"strings"
)

// globToRegexp translates a file glob into an anchored regular expression:
// `*` matches any run of characters (including separators), `?` matches one
// character and everything else is literal.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)
	return regexp.Compile("^" + quoted + "$")
}

// matchesAny reports whether any file matches any pattern. A rule without
// patterns applies to every file set.
func matchesAny(patterns []*regexp.Regexp, files []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, f := range files {
		for _, re := range patterns {
			if re.MatchString(f) {
				return true
			}
		}
	}
	return false
}

// filterFiles returns the files matched by patterns, or all files when the
// rule has no patterns.
func filterFiles(patterns []*regexp.Regexp, files []string) []string {
	if len(patterns) == 0 {
		return files
	}
	var out []string
	for _, f := range files {
		for _, re := range patterns {
			if re.MatchString(f) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}
