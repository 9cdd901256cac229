package search

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

const sniffLen = 512

var textExts = map[string]bool{
	"go": true, "mod": true, "sum": true, "md": true, "txt": true, "rst": true,
	"js": true, "jsx": true, "ts": true, "tsx": true, "mjs": true, "cjs": true,
	"json": true, "yaml": true, "yml": true, "toml": true, "ini": true, "cfg": true,
	"py": true, "rb": true, "rs": true, "java": true, "kt": true, "c": true, "h": true,
	"cc": true, "cpp": true, "hpp": true, "cs": true, "swift": true, "php": true,
	"sh": true, "bash": true, "zsh": true, "fish": true, "sql": true, "proto": true,
	"html": true, "htm": true, "css": true, "scss": true, "less": true, "vue": true,
	"svelte": true, "xml": true, "csv": true, "env": true, "lock": true, "gradle": true,
	"dockerfile": true, "makefile": true, "tf": true, "lua": true, "ex": true, "exs": true,
}

var binaryExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "bmp": true, "ico": true, "webp": true,
	"pdf": true, "zip": true, "gz": true, "tgz": true, "bz2": true, "xz": true, "7z": true, "rar": true,
	"tar": true, "jar": true, "war": true, "exe": true, "dll": true, "so": true, "dylib": true,
	"a": true, "o": true, "class": true, "pyc": true, "wasm": true, "bin": true, "dat": true,
	"mp3": true, "mp4": true, "mov": true, "avi": true, "wav": true, "flac": true, "ogg": true,
	"woff": true, "woff2": true, "ttf": true, "otf": true, "eot": true, "sqlite": true, "db": true,
}

// keyFiles are surfaced by project_overview when present at the root.
var keyFiles = []string{
	"README.md", "README", "go.mod", "package.json", "Cargo.toml", "pyproject.toml",
	"requirements.txt", "setup.py", "pom.xml", "build.gradle", "Gemfile", "composer.json",
	"Makefile", "Dockerfile", "docker-compose.yml", "tsconfig.json", ".gitignore",
}

// isText classifies by extension, falling back to a NUL byte sniff.
func isText(path string) bool {
	ext := extOf(path)
	if textExts[ext] {
		return true
	}
	if binaryExts[ext] {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, sniffLen)
	n, _ := f.Read(buf)
	return bytes.IndexByte(buf[:n], 0) < 0
}

func (t *Tool) projectOverview(ctx context.Context) (string, error) {
	var (
		files, textFiles int
		total            int64
		byExt            = map[string]int{}
	)
	err := t.walk(ctx, func(rel string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}
		files++
		total += info.Size()
		ext := extOf(rel)
		if ext == "" {
			ext = "(none)"
		}
		byExt[ext]++
		if isText(filepath.Join(t.root, filepath.FromSlash(rel))) {
			textFiles++
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", filepath.Base(t.root))
	fmt.Fprintf(&b, "Files: %d (%d text, %d binary), total size %s\n", files, textFiles, files-textFiles, humanize.Bytes(uint64(total)))

	if len(byExt) > 0 {
		type extCount struct {
			ext string
			n   int
		}
		var counts []extCount
		for e, n := range byExt {
			counts = append(counts, extCount{e, n})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].n != counts[j].n {
				return counts[i].n > counts[j].n
			}
			return counts[i].ext < counts[j].ext
		})
		b.WriteString("\nFile types:\n")
		for i, c := range counts {
			if i == 15 {
				fmt.Fprintf(&b, "  ... %d more types\n", len(counts)-i)
				break
			}
			fmt.Fprintf(&b, "  %-10s %d\n", c.ext, c.n)
		}
	}

	var present []string
	for _, k := range keyFiles {
		if info, err := os.Stat(filepath.Join(t.root, k)); err == nil && !info.IsDir() {
			present = append(present, fmt.Sprintf("%s (%s)", k, humanize.Bytes(uint64(info.Size()))))
		}
	}
	if len(present) > 0 {
		b.WriteString("\nKey files:\n")
		for _, p := range present {
			b.WriteString("  " + p + "\n")
		}
	}

	tree, err := t.fileTree(ctx)
	if err != nil {
		return "", err
	}
	b.WriteString("\nStructure:\n")
	b.WriteString(tree)
	return b.String(), nil
}

// fileTree renders the directory tree, stopping after TreeLineBudget lines
// and reporting how many entries were left out.
func (t *Tool) fileTree(ctx context.Context) (string, error) {
	r := &treeRenderer{t: t, ctx: ctx, ign: t.ignores(), budget: t.opts.TreeLineBudget}
	r.lines = append(r.lines, ".")
	if err := r.dir(t.root, "", "", 1); err != nil {
		return "", err
	}
	if r.omitted > 0 {
		r.lines = append(r.lines, fmt.Sprintf("... %d more items", r.omitted))
	}
	return strings.Join(r.lines, "\n"), nil
}

type treeRenderer struct {
	t       *Tool
	ctx     context.Context
	ign     *ignoreSet
	budget  int
	lines   []string
	omitted int
}

func (r *treeRenderer) dir(abs, rel, prefix string, depth int) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil
	}
	var kept []fs.DirEntry
	for _, e := range entries {
		child := e.Name()
		if rel != "" {
			child = rel + "/" + e.Name()
		}
		if r.ign.Match(child, e.IsDir()) || tooLarge(e) {
			continue
		}
		kept = append(kept, e)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].IsDir() != kept[j].IsDir() {
			return kept[i].IsDir()
		}
		return kept[i].Name() < kept[j].Name()
	})

	for i, e := range kept {
		last := i == len(kept)-1
		branch, indent := "├── ", "│   "
		if last {
			branch, indent = "└── ", "    "
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		if len(r.lines)-1 < r.budget {
			r.lines = append(r.lines, prefix+branch+name)
		} else {
			r.omitted++
		}
		if e.IsDir() && depth < r.t.opts.MaxDepth {
			child := e.Name()
			if rel != "" {
				child = rel + "/" + e.Name()
			}
			if err := r.dir(filepath.Join(abs, e.Name()), child, prefix+indent, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func tooLarge(e fs.DirEntry) bool {
	if e.IsDir() {
		return false
	}
	info, err := e.Info()
	return err == nil && info.Size() > maxFileSize
}

// readFiles returns each file's contents. Files over largeFileLines lines
// are sampled from both ends; problems are reported inline per file.
func (t *Tool) readFiles(ctx context.Context, files []string) (string, error) {
	hidden := newIgnoreSet(t.opts.Hidden)
	var b strings.Builder
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "==> %s <==\n", f)
		b.WriteString(t.readOne(f, hidden))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *Tool) readOne(name string, hidden *ignoreSet) string {
	abs := name
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(t.root, filepath.FromSlash(name))
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(t.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "[error: path is outside the working directory]"
	}
	if hidden.Match(filepath.ToSlash(rel), false) || t.ignores().Match(filepath.ToSlash(rel), false) {
		return "[error: access to this path is restricted]"
	}

	info, err := os.Stat(abs)
	switch {
	case err != nil:
		return fmt.Sprintf("[error: %v]", err)
	case info.IsDir():
		return "[error: path is a directory]"
	case info.Size() > maxFileSize:
		return fmt.Sprintf("[skipped: file is too large (%s)]", humanize.Bytes(uint64(info.Size())))
	case !isText(abs):
		return "[skipped: binary file]"
	}

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Sprintf("[error: %v]", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxFileSize)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Sprintf("[error: %v]", err)
	}
	return sampleLines(lines)
}

func sampleLines(lines []string) string {
	if len(lines) <= largeFileLines {
		return strings.Join(lines, "\n")
	}
	skipped := len(lines) - sampleHeadLines - sampleTailLines
	out := make([]string, 0, sampleHeadLines+sampleTailLines+1)
	out = append(out, lines[:sampleHeadLines]...)
	out = append(out, fmt.Sprintf("... [skipped %d lines] ...", skipped))
	out = append(out, lines[len(lines)-sampleTailLines:]...)
	return strings.Join(out, "\n")
}
