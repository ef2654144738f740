package tools

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"loaf/internal/compact"
)

// File tools: direct filesystem access with explicit input validation.

const (
	maxReadFileBytes = 512 * 1024
	maxGrepResults   = 200
	maxGrepFileBytes = 1024 * 1024
)

type fileTools struct {
	recorder Recorder
}

func (t *fileTools) readFile(rc RunContext, input map[string]interface{}) Result {
	path, ok := stringArg(input, "path")
	if !ok || path == "" {
		return Fail(StatusInvalidInput, "path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(StatusNotFound, "%v", err)
		}
		return Fail(StatusStorageError, "%v", err)
	}

	truncated := false
	max := maxReadFileBytes
	if n, ok := intArg(input, "max_bytes"); ok && n > 0 && n < max {
		max = n
	}
	if len(data) > max {
		data = data[:max]
		truncated = true
	}

	record(t.recorder, compact.EventFileRead, map[string]interface{}{"path": path})
	return Ok(map[string]interface{}{
		"path":      path,
		"content":   string(data),
		"truncated": truncated,
	})
}

func (t *fileTools) writeFile(rc RunContext, input map[string]interface{}) Result {
	path, ok := stringArg(input, "path")
	if !ok || path == "" {
		return Fail(StatusInvalidInput, "path is required")
	}
	content, ok := stringArg(input, "content")
	if !ok {
		return Fail(StatusInvalidInput, "content is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Fail(StatusStorageError, "%v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Fail(StatusStorageError, "%v", err)
	}
	record(t.recorder, compact.EventFileWritePatch, map[string]interface{}{"path": path, "op": "write"})
	return Ok(map[string]interface{}{"path": path, "bytes": len(content)})
}

func (t *fileTools) listDir(rc RunContext, input map[string]interface{}) Result {
	path, ok := stringArg(input, "path")
	if !ok || path == "" {
		path = "."
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(StatusNotFound, "%v", err)
		}
		return Fail(StatusStorageError, "%v", err)
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		entry := map[string]interface{}{"name": e.Name(), "dir": e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			entry["size"] = info.Size()
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["name"].(string) < out[j]["name"].(string)
	})
	return Ok(map[string]interface{}{"path": path, "entries": out})
}

func (t *fileTools) grep(rc RunContext, input map[string]interface{}) Result {
	pattern, ok := stringArg(input, "pattern")
	if !ok || pattern == "" {
		return Fail(StatusInvalidInput, "pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Fail(StatusInvalidInput, "invalid pattern: %v", err)
	}
	root, ok := stringArg(input, "path")
	if !ok || root == "" {
		root = "."
	}
	limit := maxGrepResults
	if n, ok := intArg(input, "max_results"); ok && n > 0 && n < limit {
		limit = n
	}

	type match struct {
		File string `json:"file"`
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	var matches []match
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFileBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || !isLikelyText(data) {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, match{File: path, Line: i + 1, Text: strings.TrimRight(line, "\r")})
				if len(matches) >= limit {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return Fail(StatusStorageError, "%v", walkErr)
	}
	return Ok(map[string]interface{}{
		"pattern": pattern,
		"matches": matches,
		"clipped": len(matches) >= limit,
	})
}

func isLikelyText(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	for _, b := range data[:n] {
		if b == 0 {
			return false
		}
	}
	return true
}

func fileDefinitions(recorder Recorder) []Definition {
	t := &fileTools{recorder: recorder}
	return []Definition{
		{
			Name:        "read_file",
			Description: "Read a file's contents.",
			InputSchema: objectSchema(map[string]interface{}{
				"path":      prop("string", "File to read"),
				"max_bytes": prop("integer", "Clip the returned content"),
			}, "path"),
			Run: t.readFile,
		},
		{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories.",
			InputSchema: objectSchema(map[string]interface{}{
				"path":    prop("string", "File to write"),
				"content": prop("string", "Full file contents"),
			}, "path", "content"),
			Run: t.writeFile,
		},
		{
			Name:        "list_dir",
			Description: "List directory entries.",
			InputSchema: objectSchema(map[string]interface{}{
				"path": prop("string", "Directory to list (default .)"),
			}),
			Run: t.listDir,
		},
		{
			Name:        "grep",
			Description: "Search file contents under a directory with a regular expression.",
			InputSchema: objectSchema(map[string]interface{}{
				"pattern":     prop("string", "Go regular expression"),
				"path":        prop("string", "Directory to search (default .)"),
				"max_results": prop("integer", "Result cap (default 200)"),
			}, "pattern"),
			Run: t.grep,
		},
	}
}
