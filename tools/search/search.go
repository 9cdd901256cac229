// Package search implements search_cwd, the agent's view of the working
// directory: filename and content search through a cascade of external
// tools with an in-process fallback, plus project summaries.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/m4xw311/mars/errors"
)

const Name = "search_cwd"

type Mode string

const (
	ModeFilename        Mode = "filename"
	ModeContent         Mode = "content"
	ModeProjectOverview Mode = "project_overview"
	ModeFileTree        Mode = "file_tree"
	ModeReadFiles       Mode = "read_files"
)

// NoResults is returned when a search matched nothing.
const NoResults = "No results."

const (
	maxFileSize     = 10 << 20
	maxColumns      = 300
	largeFileLines  = 200
	sampleHeadLines = 100
	sampleTailLines = 50
)

type Options struct {
	TierTimeout    time.Duration
	BatchSize      int
	MaxDepth       int
	TreeLineBudget int
	MaxResults     int
	// Hidden adds ignore patterns on top of .gitignore and the defaults.
	Hidden []string
	// DisableExternal skips the rg and find tiers.
	DisableExternal bool
	Logger          *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.TierTimeout <= 0 {
		o.TierTimeout = 30 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 300
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 10
	}
	if o.TreeLineBudget <= 0 {
		o.TreeLineBudget = 100
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 500
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Query is a parsed search_cwd invocation.
type Query struct {
	Mode      Mode
	Pattern   string
	FileTypes []string
	Files     []string
}

// Tool is the search_cwd tool rooted at one directory.
type Tool struct {
	root   string
	opts   Options
	logger *slog.Logger

	ignoreOnce sync.Once
	ignore     *ignoreSet

	strategies []strategy
}

// New creates the tool. The ignore patterns are read on first use.
func New(root string, opts Options) *Tool {
	opts.applyDefaults()
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	t := &Tool{
		root:   root,
		opts:   opts,
		logger: opts.Logger.With("tool", Name),
	}
	if !opts.DisableExternal {
		t.strategies = append(t.strategies, &rgStrategy{t: t}, &findStrategy{t: t})
	}
	t.strategies = append(t.strategies, &walkStrategy{t: t})
	return t
}

func (t *Tool) Name() string { return Name }

func (t *Tool) Description() string {
	return "Search the current working directory. Modes: " +
		"'filename' finds files whose name matches a glob (e.g. *.ts, src/**/*.go); " +
		"'content' finds the first line matching a regular expression in each file and reports path:line:text; " +
		"'project_overview' summarizes file types, sizes, key files and structure; " +
		"'file_tree' prints the directory tree; " +
		"'read_files' returns the contents of the listed files, sampling long ones. " +
		"Ignored paths (.git, node_modules, .gitignore entries) are never returned."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{
				"type":        "string",
				"enum":        []string{string(ModeFilename), string(ModeContent), string(ModeProjectOverview), string(ModeFileTree), string(ModeReadFiles)},
				"description": "Search mode",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Glob for filename mode, regular expression for content mode",
			},
			"fileTypes": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional extensions to restrict the search to, e.g. [\"ts\", \"tsx\"]",
			},
			"files": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Paths to read in read_files mode",
			},
		},
		"required": []string{"type"},
	}
}

func (t *Tool) Notice(args map[string]any) string {
	q, err := ParseQuery(args)
	if err != nil {
		return "Searching..."
	}
	switch q.Mode {
	case ModeFilename:
		return fmt.Sprintf("Searching for files matching %q...", q.Pattern)
	case ModeContent:
		return fmt.Sprintf("Searching file contents for %q...", q.Pattern)
	case ModeReadFiles:
		return fmt.Sprintf("Reading %d file(s)...", len(q.Files))
	default:
		return "Analyzing project..."
	}
}

// ParseQuery validates tool input.
func ParseQuery(args map[string]any) (Query, error) {
	var q Query
	mode, _ := args["type"].(string)
	q.Mode = Mode(mode)
	if q.Mode == "" {
		q.Mode = ModeFilename
	}
	q.Pattern, _ = args["query"].(string)
	q.FileTypes = normalizeExts(stringList(args["fileTypes"]))
	q.Files = stringList(args["files"])

	switch q.Mode {
	case ModeFilename, ModeProjectOverview, ModeFileTree:
	case ModeContent:
		if strings.TrimSpace(q.Pattern) == "" {
			return q, errors.New("content search requires a non-empty query")
		}
		if _, err := regexp.Compile(q.Pattern); err != nil {
			return q, errors.Wrapf(err, "invalid regular expression %q", q.Pattern)
		}
	case ModeReadFiles:
		if len(q.Files) == 0 && q.Pattern != "" {
			q.Files = stringList(q.Pattern)
		}
		if len(q.Files) == 0 {
			return q, errors.New("read_files requires at least one path in 'files'")
		}
	default:
		return q, errors.New("unknown search type %q", mode)
	}
	return q, nil
}

// stringList accepts a JSON array or a comma separated string.
func stringList(v any) []string {
	var raw []string
	switch l := v.(type) {
	case []string:
		raw = l
	case []any:
		for _, e := range l {
			if s, ok := e.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(l, ",")
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeExts(exts []string) []string {
	var out []string
	for _, e := range exts {
		e = strings.ToLower(strings.TrimLeft(strings.TrimPrefix(e, "*"), "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	q, err := ParseQuery(args)
	if err != nil {
		return "", err
	}
	return t.Run(ctx, q)
}

// Run executes a parsed query.
func (t *Tool) Run(ctx context.Context, q Query) (string, error) {
	switch q.Mode {
	case ModeFilename, ModeContent:
		return t.search(ctx, q)
	case ModeProjectOverview:
		return t.projectOverview(ctx)
	case ModeFileTree:
		return t.fileTree(ctx)
	case ModeReadFiles:
		return t.readFiles(ctx, q.Files)
	}
	return "", errors.New("unknown search type %q", q.Mode)
}

func (t *Tool) ignores() *ignoreSet {
	t.ignoreOnce.Do(func() {
		t.ignore = loadIgnoreSet(t.root, t.opts.Hidden)
	})
	return t.ignore
}

// search tries each strategy in order. An unavailable or failing tier falls
// through to the next; only the last tier's failure is returned.
func (t *Tool) search(ctx context.Context, q Query) (string, error) {
	if q.Mode == ModeFilename {
		q.Pattern = normalizeGlob(q.Pattern)
	}
	var lastErr error
	for i, s := range t.strategies {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		last := i == len(t.strategies)-1
		if !last && !s.available(ctx) {
			t.logger.Debug("search tier unavailable", "tier", s.name())
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, t.opts.TierTimeout)
		start := time.Now()
		lines, err := s.run(tctx, q)
		cancel()
		if err != nil {
			lastErr = err
			t.logger.Warn("search tier failed", "tier", s.name(), "mode", q.Mode, "error", err)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		out, err := t.format(lines, q)
		if err != nil {
			return "", err
		}
		t.logger.Debug("search complete", "tier", s.name(), "mode", q.Mode, "results", len(lines), "elapsed", time.Since(start))
		return out, nil
	}
	return "", errors.Wrapf(lastErr, "search failed")
}

var contentLine = regexp.MustCompile(`^(.*?):(\d+):`)

// format normalizes raw tier output so every tier reports the same set of
// paths: ./ prefixes stripped, ignored paths and wrong extensions dropped,
// the filename glob enforced, sorted and capped.
func (t *Tool) format(raw []string, q Query) (string, error) {
	var glob *globMatcher
	if q.Mode == ModeFilename {
		var err error
		if glob, err = newGlobMatcher(q.Pattern); err != nil {
			return "", errors.Wrapf(err, "invalid glob %q", q.Pattern)
		}
	}
	exts := map[string]bool{}
	for _, e := range q.FileTypes {
		exts[e] = true
	}
	ign := t.ignores()

	seen := map[string]bool{}
	var out []string
	for _, line := range raw {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "./")
		if line == "" || seen[line] {
			continue
		}
		p := line
		if q.Mode == ModeContent {
			m := contentLine.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			p = m[1]
			if text := line[len(m[0]):]; len(text) > maxColumns {
				line = m[0] + truncate(text, maxColumns)
			}
		}
		if ign.Match(p, false) {
			continue
		}
		if len(exts) > 0 && !exts[extOf(p)] {
			continue
		}
		if glob != nil && !glob.Match(p) {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	if len(out) == 0 {
		return NoResults, nil
	}

	sort.Strings(out)
	if len(out) > t.opts.MaxResults {
		more := len(out) - t.opts.MaxResults
		out = append(out[:t.opts.MaxResults], fmt.Sprintf("... %d more results", more))
	}
	return strings.Join(out, "\n"), nil
}

// truncate cuts s to n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
