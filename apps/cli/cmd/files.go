package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/abdul-hamid-achik/minitest/packages/core/script"
)

// collectFiles resolves args to test scripts. Each arg is a file, a
// directory searched recursively, or a glob pattern. Without args the
// patterns come from testMatch. Paths matching an ignore pattern are dropped.
func collectFiles(args, testMatch, ignore []string) ([]string, error) {
	patterns := args
	if len(patterns) == 0 {
		patterns = testMatch
	}

	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		path = filepath.Clean(path)
		if seen[path] || isIgnored(path, ignore) {
			return
		}
		seen[path] = true
		files = append(files, path)
	}

	for _, arg := range patterns {
		info, statErr := os.Stat(arg)
		switch {
		case statErr == nil && info.IsDir():
			err := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() && path != arg && isIgnored(path, ignore) {
					return filepath.SkipDir
				}
				if !d.IsDir() && isTestFile(path) {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}

		case statErr == nil:
			if isTestFile(arg) {
				add(arg)
			}

		case hasMeta(arg):
			matches, err := doublestar.FilepathGlob(arg)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", arg, err)
			}
			for _, m := range matches {
				if isTestFile(m) {
					add(m)
				}
			}

		case len(args) > 0:
			return nil, fmt.Errorf("cannot access %s: %w", arg, statErr)
		}
	}

	sort.Strings(files)
	return files, nil
}

func isIgnored(path string, ignore []string) bool {
	slashed := filepath.ToSlash(path)
	for _, pattern := range ignore {
		if matched, err := doublestar.Match(pattern, slashed); err == nil && matched {
			return true
		}
	}
	return false
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func isTestFile(path string) bool {
	return filepath.Ext(path) == script.Extension
}
