package search

import (
	"path"
	"regexp"
	"strings"
)

// hasMeta reports whether s contains glob metacharacters.
func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// normalizeGlob turns a bare word into a substring match so "main" finds
// main.go. An empty query matches everything.
func normalizeGlob(q string) string {
	q = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(q), "./"))
	if q == "" {
		return "*"
	}
	if !hasMeta(q) {
		return "*" + q + "*"
	}
	return q
}

// globToRegexp converts a glob into an anchored, case-insensitive regexp.
// "**" crosses directories, "*" and "?" do not, and "[...]" classes pass
// through. Everything else is matched literally.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	g := []rune(glob)
	var b strings.Builder
	b.WriteString("(?i)^")
	for i := 0; i < len(g); i++ {
		switch c := g[i]; c {
		case '*':
			if i+1 < len(g) && g[i+1] == '*' {
				i++
				if i+1 < len(g) && g[i+1] == '/' {
					// "**/" also matches zero directories.
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := -1
			for j := i + 1; j < len(g); j++ {
				if g[j] == ']' {
					end = j
					break
				}
			}
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := string(g[i+1 : end])
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// globMatcher matches a glob against the basename, or against the whole
// relative path when the glob contains a slash.
type globMatcher struct {
	re       *regexp.Regexp
	fullPath bool
}

func newGlobMatcher(glob string) (*globMatcher, error) {
	re, err := globToRegexp(glob)
	if err != nil {
		return nil, err
	}
	return &globMatcher{re: re, fullPath: strings.Contains(glob, "/")}, nil
}

func (m *globMatcher) Match(rel string) bool {
	if m.fullPath {
		return m.re.MatchString(rel)
	}
	return m.re.MatchString(path.Base(rel))
}
