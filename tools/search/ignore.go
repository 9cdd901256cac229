package search

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultIgnore covers version control metadata and dependency trees.
var defaultIgnore = []string{".git", ".hg", ".svn", "node_modules", ".mars"}

type ignoreRule struct {
	pattern  string
	anchored bool
	dirOnly  bool
}

// ignoreSet decides which paths the search never reports. Patterns follow
// .gitignore conventions: a pattern without a slash matches any path
// segment, one with a slash is relative to the root, and a trailing slash
// restricts it to directories. Negations are not supported and skipped.
type ignoreSet struct {
	rules []ignoreRule
}

func newIgnoreSet(patterns []string) *ignoreSet {
	s := &ignoreSet{}
	for _, p := range patterns {
		s.add(p)
	}
	return s
}

func (s *ignoreSet) add(p string) {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "#") || strings.HasPrefix(p, "!") {
		return
	}
	r := ignoreRule{}
	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if strings.Contains(p, "/") {
		r.anchored = true
		p = strings.TrimPrefix(p, "/")
	}
	if p == "" || !doublestar.ValidatePattern(p) {
		return
	}
	r.pattern = p
	s.rules = append(s.rules, r)
}

// loadIgnoreSet reads <root>/.gitignore on top of the defaults and extra
// patterns. A missing or unreadable file leaves just those.
func loadIgnoreSet(root string, extra []string) *ignoreSet {
	s := newIgnoreSet(append(append([]string{}, defaultIgnore...), extra...))
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return s
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s.add(sc.Text())
	}
	return s
}

// Match reports whether rel (slash separated, relative to the root) or any
// of its parent directories is ignored.
func (s *ignoreSet) Match(rel string, isDir bool) bool {
	rel = path.Clean(filepath.ToSlash(rel))
	if rel == "." || rel == "" {
		return false
	}
	segs := strings.Split(rel, "/")
	for i := range segs {
		sub := strings.Join(segs[:i+1], "/")
		dir := i < len(segs)-1 || isDir
		for _, r := range s.rules {
			if r.dirOnly && !dir {
				continue
			}
			target := segs[i]
			if r.anchored {
				target = sub
			}
			if ok, _ := doublestar.Match(r.pattern, target); ok {
				return true
			}
		}
	}
	return false
}

// findPrune renders the unanchored rules as a find expression suitable for
// -prune. Directory-only rules are restricted with -type d so plain files of
// the same name survive.
func (s *ignoreSet) findPrune() []string {
	var out []string
	for _, r := range s.rules {
		if r.anchored {
			continue
		}
		if len(out) > 0 {
			out = append(out, "-o")
		}
		if r.dirOnly {
			out = append(out, "-type", "d")
		}
		out = append(out, "-name", r.pattern)
	}
	return out
}

// rgGlobs renders the rules as ripgrep exclusion globs.
func (s *ignoreSet) rgGlobs() []string {
	var out []string
	for _, r := range s.rules {
		g := r.pattern
		if r.anchored {
			g = "/" + g
		}
		if r.dirOnly {
			g += "/"
		}
		out = append(out, "--glob", "!"+g)
	}
	return out
}
