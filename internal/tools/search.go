package tools

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/batalabs/qoze/internal/provider"
)

// ---------------------------------------------------------------------------
// grep
// ---------------------------------------------------------------------------

func grepTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "grep",
			Description: "Search file contents for a regex pattern. Returns matching lines as file:line:content. Use include to filter by extension (e.g. '*.go'). Use context_lines for surrounding context. Only call once per query — do not repeat with the same pattern.",
			Properties: map[string]provider.ToolProp{
				"pattern":       {Type: "string", Description: "Regular expression pattern to search for"},
				"path":          {Type: "string", Description: "Directory or file to search (default: current directory)"},
				"include":       {Type: "string", Description: "Glob pattern to filter files (e.g. '*.go', '*.js')"},
				"context_lines": {Type: "integer", Description: "Number of lines to show before and after each match (like grep -C)"},
			},
			Required: []string{"pattern"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			pattern, ok := input["pattern"].(string)
			if !ok || pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}

			re, err := regexp.Compile(pattern)
			if err != nil {
				return "", fmt.Errorf("invalid regex: %w", err)
			}

			searchPath := "."
			if v, ok := input["path"].(string); ok && v != "" {
				searchPath = v
			}

			include := ""
			if v, ok := input["include"].(string); ok {
				include = v
			}

			contextLines := 0
			if v, ok := input["context_lines"].(float64); ok && v > 0 {
				contextLines = int(v)
				if contextLines > 10 {
					contextLines = 10
				}
			}

			return grepWalk(re, searchPath, include, contextLines)
		},
	}
}

func grepWalk(re *regexp.Regexp, searchPath, include string, contextLines int) (string, error) {
	var matches []string
	const maxMatches = 200

	errLimitReached := fmt.Errorf("limit reached")

	walkErr := filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if d.IsDir() {
			name := d.Name()
			if (strings.HasPrefix(name, ".") && name != "." && path != searchPath) || hiddenDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		if include != "" {
			matched, _ := filepath.Match(include, d.Name())
			if !matched {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil || info.Size() > 1024*1024 {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil || IsBinary(data) {
			return nil
		}

		lines := strings.Split(string(data), "\n")

		if contextLines == 0 {
			for i, line := range lines {
				if re.MatchString(line) {
					matches = append(matches, fmt.Sprintf("%s:%d:%s", path, i+1, line))
					if len(matches) >= maxMatches {
						return errLimitReached
					}
				}
			}
			return nil
		}

		// Context mode: collect matching line indices, then emit groups
		// with context and -- separators.
		var matchIndices []int
		for i, line := range lines {
			if re.MatchString(line) {
				matchIndices = append(matchIndices, i)
			}
		}
		if len(matchIndices) == 0 {
			return nil
		}

		show := make(map[int]bool)
		for _, idx := range matchIndices {
			lo := idx - contextLines
			if lo < 0 {
				lo = 0
			}
			hi := idx + contextLines
			if hi >= len(lines) {
				hi = len(lines) - 1
			}
			for j := lo; j <= hi; j++ {
				show[j] = true
			}
		}

		matchSet := make(map[int]bool, len(matchIndices))
		for _, idx := range matchIndices {
			matchSet[idx] = true
		}
		prevEmitted := -2
		for i := 0; i < len(lines); i++ {
			if !show[i] {
				continue
			}
			if prevEmitted >= 0 && i > prevEmitted+1 {
				matches = append(matches, "--")
			}
			prefix := " "
			if matchSet[i] {
				prefix = ":"
			}
			matches = append(matches, fmt.Sprintf("%s:%d%s%s", path, i+1, prefix, lines[i]))
			prevEmitted = i
			if len(matches) >= maxMatches {
				return errLimitReached
			}
		}

		return nil
	})

	if len(matches) == 0 {
		return "No matches found.", nil
	}

	result := strings.Join(matches, "\n")
	if walkErr == errLimitReached {
		result += fmt.Sprintf("\n... (truncated at %d matches)", maxMatches)
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// list_files
// ---------------------------------------------------------------------------

// hiddenDirs is the set of directory names to skip during listing/walking.
var hiddenDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true, ".idea": true, ".vscode": true,
	"node_modules": true, "__pycache__": true, ".DS_Store": true,
}

func listFilesTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "list_files",
			Description: "List files and directories in a path. Use to explore project structure before reading files. Directories have a / suffix. Skips .git, node_modules, and other generated directories.",
			Properties: map[string]provider.ToolProp{
				"path":      {Type: "string", Description: "Directory path to list (default: current directory)"},
				"recursive": {Type: "boolean", Description: "List files recursively (default: false)"},
				"include":   {Type: "string", Description: "Glob pattern to filter file names (e.g. '*.go')"},
			},
			Required: []string{},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			dirPath := "."
			if v, ok := input["path"].(string); ok && v != "" {
				dirPath = v
			}

			recursive := false
			if v, ok := input["recursive"].(bool); ok {
				recursive = v
			}

			include := ""
			if v, ok := input["include"].(string); ok {
				include = v
			}

			const maxEntries = 500

			if strings.ContainsAny(dirPath, "*?[") {
				return listFilesGlob(dirPath, maxEntries)
			}

			info, err := os.Stat(dirPath)
			if err != nil {
				return "", fmt.Errorf("stat %s: %w", dirPath, err)
			}
			if !info.IsDir() {
				return "", fmt.Errorf("%s is not a directory", dirPath)
			}

			if !recursive {
				return listFilesFlat(dirPath, include, maxEntries)
			}
			return listFilesRecursive(dirPath, include, maxEntries)
		},
	}
}

func listFilesFlat(dirPath, include string, maxEntries int) (string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return "", fmt.Errorf("reading directory %s: %w", dirPath, err)
	}

	var results []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || hiddenDirs[name] {
			continue
		}
		if include != "" && !e.IsDir() {
			matched, _ := filepath.Match(include, name)
			if !matched {
				continue
			}
		}
		if e.IsDir() {
			results = append(results, name+"/")
		} else {
			results = append(results, name)
		}
		if len(results) >= maxEntries {
			break
		}
	}

	if len(results) == 0 {
		return "No entries found.", nil
	}
	result := strings.Join(results, "\n")
	if len(results) >= maxEntries {
		result += fmt.Sprintf("\n... (truncated at %d entries)", maxEntries)
	}
	return result, nil
}

func listFilesRecursive(dirPath, include string, maxEntries int) (string, error) {
	var results []string
	errLimit := fmt.Errorf("limit")

	walkErr := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path == dirPath {
				return nil
			}
			if strings.HasPrefix(name, ".") || hiddenDirs[name] {
				return filepath.SkipDir
			}
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		rel, _ := filepath.Rel(dirPath, path)
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if include != "" && !d.IsDir() {
			matched, _ := filepath.Match(include, name)
			if !matched {
				return nil
			}
		}

		if d.IsDir() {
			results = append(results, rel+"/")
		} else {
			results = append(results, rel)
		}
		if len(results) >= maxEntries {
			return errLimit
		}
		return nil
	})

	if len(results) == 0 {
		return "No entries found.", nil
	}

	sort.Strings(results)
	result := strings.Join(results, "\n")
	if walkErr == errLimit {
		result += fmt.Sprintf("\n... (truncated at %d entries)", maxEntries)
	}
	return result, nil
}

func listFilesGlob(pattern string, maxEntries int) (string, error) {
	globMatches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid glob pattern: %w", err)
	}

	var results []string
	for _, m := range globMatches {
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		entry := filepath.ToSlash(m)
		if info.IsDir() {
			entry += "/"
		}
		results = append(results, entry)
		if len(results) >= maxEntries {
			break
		}
	}

	if len(results) == 0 {
		return "No entries found.", nil
	}
	result := strings.Join(results, "\n")
	if len(results) >= maxEntries {
		result += fmt.Sprintf("\n... (truncated at %d entries)", maxEntries)
	}
	return result, nil
}
