package search

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/m4xw311/mars/errors"
)

// strategy is one tier of the search cascade. Each returns raw lines:
// relative paths in filename mode, "path:line:text" in content mode.
type strategy interface {
	name() string
	available(ctx context.Context) bool
	run(ctx context.Context, q Query) ([]string, error)
}

// probe runs "<bin> --version" and reports whether it exited cleanly.
func probe(ctx context.Context, bin string) bool {
	if _, err := exec.LookPath(bin); err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, bin, "--version")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}

type cmdResult struct {
	stdout string
	stderr string
	code   int
}

func runCommand(ctx context.Context, dir, bin string, args ...string) (cmdResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := cmdResult{stdout: stdout.String(), stderr: strings.TrimSpace(stderr.String())}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, err
		}
		res.code = exitErr.ExitCode()
	}
	return res, nil
}

func splitLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimRight(l, "\r"); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// rgStrategy uses ripgrep.
type rgStrategy struct{ t *Tool }

func (s *rgStrategy) name() string { return "rg" }

func (s *rgStrategy) available(ctx context.Context) bool { return probe(ctx, "rg") }

func (s *rgStrategy) run(ctx context.Context, q Query) ([]string, error) {
	// --no-ignore leaves ignore handling to the rules below so rg sees the
	// same set as the other tiers.
	args := []string{"--hidden", "--no-config", "--no-ignore", "--color", "never", "--max-depth", strconv.Itoa(s.t.opts.MaxDepth)}
	args = append(args, s.t.ignores().rgGlobs()...)

	if q.Mode == ModeFilename {
		args = append(args, "--files")
		// Repeated --iglob flags are OR'ed, so only one side is pushed
		// down. The result filter enforces the rest.
		if q.Pattern != "*" {
			args = append(args, "--iglob", q.Pattern)
		} else {
			args = append(args, extGlobs(q.FileTypes)...)
		}
	} else {
		args = append(args, "--no-heading", "--with-filename", "--line-number", "--max-count", "1", "--max-filesize", "10M")
		args = append(args, extGlobs(q.FileTypes)...)
		args = append(args, "--regexp", q.Pattern)
	}

	res, err := runCommand(ctx, s.t.root, "rg", args...)
	if err != nil {
		return nil, err
	}
	switch {
	case res.code == 0:
	case res.code == 1 && strings.TrimSpace(res.stdout) == "":
		return nil, nil
	case res.code == 2 && strings.TrimSpace(res.stdout) != "":
		// Partial results, e.g. an unreadable directory.
	default:
		return nil, errors.New("rg exited with status %d: %s", res.code, res.stderr)
	}
	return splitLines(res.stdout), nil
}

func extGlobs(exts []string) []string {
	var out []string
	for _, e := range exts {
		out = append(out, "--iglob", "*."+e)
	}
	return out
}

// findStrategy lists files with find and searches contents with grep.
type findStrategy struct{ t *Tool }

func (s *findStrategy) name() string { return "find" }

func (s *findStrategy) available(context.Context) bool {
	_, err := exec.LookPath("find")
	return err == nil
}

// grepSupportsPCRE reports whether grep accepts -P, the grep dialect
// closest to Go's regexp syntax.
func grepSupportsPCRE(ctx context.Context) bool {
	if !probe(ctx, "grep") {
		return false
	}
	cmd := exec.CommandContext(ctx, "grep", "-P", "-q", "-e", `\d`)
	cmd.Stdin = strings.NewReader("1\n")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}

func (s *findStrategy) findArgs(q Query) []string {
	args := []string{".", "-mindepth", "1", "-maxdepth", strconv.Itoa(s.t.opts.MaxDepth)}
	if prune := s.t.ignores().findPrune(); len(prune) > 0 {
		args = append(args, "(")
		args = append(args, prune...)
		args = append(args, ")", "-prune", "-o")
	}
	args = append(args, "-type", "f")
	// Path globs are left to the normalizer: find's -ipath has no notion of
	// "**/" matching zero directories.
	if q.Mode == ModeFilename && q.Pattern != "*" && !strings.Contains(q.Pattern, "/") {
		args = append(args, "-iname", q.Pattern)
	}
	if len(q.FileTypes) > 0 {
		args = append(args, "(")
		for i, e := range q.FileTypes {
			if i > 0 {
				args = append(args, "-o")
			}
			args = append(args, "-iname", "*."+e)
		}
		args = append(args, ")")
	}
	return append(args, "-print")
}

func (s *findStrategy) run(ctx context.Context, q Query) ([]string, error) {
	fq := q
	if q.Mode == ModeContent {
		if !grepSupportsPCRE(ctx) {
			return nil, errors.New("grep with -P support is not available")
		}
		fq.Pattern = "*"
	}
	res, err := runCommand(ctx, s.t.root, "find", s.findArgs(fq)...)
	if err != nil {
		return nil, err
	}
	files := splitLines(res.stdout)
	if res.code != 0 && len(files) == 0 {
		return nil, errors.New("find exited with status %d: %s", res.code, res.stderr)
	}
	if q.Mode == ModeFilename {
		return files, nil
	}

	// Anchored ignore rules cannot be expressed as find predicates, and
	// the size limit is applied here as in the walker.
	ign := s.t.ignores()
	var kept []string
	for _, f := range files {
		if ign.Match(strings.TrimPrefix(f, "./"), false) {
			continue
		}
		if info, err := os.Stat(filepath.Join(s.t.root, filepath.FromSlash(f))); err != nil || info.Size() > maxFileSize {
			continue
		}
		kept = append(kept, f)
	}
	return s.grep(ctx, q.Pattern, kept)
}

func (s *findStrategy) grep(ctx context.Context, pattern string, files []string) ([]string, error) {
	var out []string
	batch := s.t.opts.BatchSize
	for start := 0; start < len(files); start += batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batch, len(files))
		args := append([]string{"-nH", "--color=never", "-m", "1", "-I", "-P", "-e", pattern, "--"}, files[start:end]...)
		res, err := runCommand(ctx, s.t.root, "grep", args...)
		if err != nil {
			return nil, err
		}
		if res.code == 2 && strings.TrimSpace(res.stdout) == "" {
			return nil, errors.New("grep exited with status 2: %s", res.stderr)
		}
		out = append(out, splitLines(res.stdout)...)
	}
	return out, nil
}

// walkStrategy is the in-process fallback and is always available.
type walkStrategy struct{ t *Tool }

func (s *walkStrategy) name() string { return "walk" }

func (s *walkStrategy) available(context.Context) bool { return true }

func (s *walkStrategy) run(ctx context.Context, q Query) ([]string, error) {
	var (
		glob *globMatcher
		re   *regexp.Regexp
		err  error
	)
	if q.Mode == ModeFilename {
		if glob, err = newGlobMatcher(q.Pattern); err != nil {
			return nil, errors.Wrapf(err, "invalid glob %q", q.Pattern)
		}
	} else if re, err = regexp.Compile(q.Pattern); err != nil {
		return nil, errors.Wrapf(err, "invalid regular expression %q", q.Pattern)
	}
	exts := map[string]bool{}
	for _, e := range q.FileTypes {
		exts[e] = true
	}

	var out []string
	err = s.t.walk(ctx, func(rel string, d fs.DirEntry) error {
		if len(exts) > 0 && !exts[extOf(rel)] {
			return nil
		}
		if glob != nil {
			if glob.Match(rel) {
				out = append(out, rel)
			}
			return nil
		}
		if line, n, ok := firstMatch(filepath.Join(s.t.root, filepath.FromSlash(rel)), re); ok {
			out = append(out, rel+":"+strconv.Itoa(n)+":"+line)
		}
		return nil
	})
	return out, err
}

// walk visits every non-ignored regular file under the root, up to MaxDepth.
func (t *Tool) walk(ctx context.Context, fn func(rel string, d fs.DirEntry) error) error {
	ign := t.ignores()
	return filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Unreadable entries are skipped.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(t.root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ign.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		depth := strings.Count(rel, "/") + 1
		if d.IsDir() {
			if depth >= t.opts.MaxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || depth > t.opts.MaxDepth {
			return nil
		}
		return fn(rel, d)
	})
}

// firstMatch returns the first line of a text file matching re.
func firstMatch(path string, re *regexp.Regexp) (string, int, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxFileSize {
		return "", 0, false
	}
	f, err := os.Open(path)
	if err != nil {
		return "", 0, false
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if head, _ := r.Peek(sniffLen); bytes.IndexByte(head, 0) >= 0 {
		return "", 0, false
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		if line := sc.Text(); re.MatchString(line) {
			return line, n, true
		}
	}
	return "", 0, false
}

func extOf(rel string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(rel), "."))
}
