package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"
)

// evaluatePaths expands glob patterns (including `**`) and returns the
// absolute paths of the existing regular files, sorted and without duplicates.
func evaluatePaths(paths []string, pathModifier pathutil.PathModifier, pathChecker pathutil.PathChecker, logger log.Logger) ([]string, error) {
	var expandedPaths []string
	for _, path := range paths {
		if !strings.Contains(path, "*") {
			expandedPaths = append(expandedPaths, path)
			continue
		}

		base, pattern := doublestar.SplitPattern(path)
		absBase, err := pathModifier.AbsPath(base)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", base, err)
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern)
		if err != nil {
			logger.Warnf("Error in path pattern '%s': %s", path, err)
			continue
		}
		if len(matches) == 0 {
			logger.Warnf("No match for path pattern: %s", path)
			continue
		}

		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(absBase, match))
		}
	}

	var finalPaths []string
	for _, path := range expandedPaths {
		absPath, err := pathModifier.AbsPath(path)
		if err != nil {
			logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}

		exists, err := pathChecker.IsPathExists(absPath)
		if err != nil {
			logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			logger.Warnf("File doesn't exist: %s", path)
			continue
		}
		if isDir, _ := pathChecker.IsDirExists(absPath); isDir {
			logger.Debugf("Skipping directory %s", absPath)
			continue
		}

		finalPaths = append(finalPaths, absPath)
	}

	finalPaths = lo.Uniq(finalPaths)
	sort.Strings(finalPaths)

	return finalPaths, nil
}
