package sourcedirs

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// ListSeparator separates directories in a single configured entry.
const ListSeparator = ":"

// SplitList splits a colon-separated directory list, dropping empty
// entries and keeping the given order.
func SplitList(list string) []string {
	var dirs []string
	for _, d := range strings.Split(list, ListSeparator) {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Expand builds the search directory list from configured entries. Each
// entry has its variables expanded and is then split on ':'. Relative
// directories are anchored at the workspace folder when one is set.
// Duplicates keep their first position. Entries that fail to expand are
// dropped and reported together.
func Expand(entries []string, ctx *Context) ([]string, error) {
	if ctx == nil {
		ctx = &Context{}
	}

	var (
		dirs []string
		errs error
		seen = make(map[string]bool)
	)
	for i, entry := range entries {
		expanded, err := ExpandVariables(entry, ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("source dir %d (%q): %w", i, entry, err))
			continue
		}
		for _, dir := range SplitList(expanded) {
			if !filepath.IsAbs(dir) && ctx.WorkspaceFolder != "" {
				dir = filepath.Join(ctx.WorkspaceFolder, dir)
			}
			dir = filepath.Clean(dir)
			if seen[dir] {
				continue
			}
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs, errs
}

// ParseLocation splits "path:line" at the last colon. Everything after the
// colon must be decimal digits running to the end of the string.
func ParseLocation(loc string) (string, int, bool) {
	i := strings.LastIndex(loc, ":")
	if i < 0 || i == len(loc)-1 {
		return "", 0, false
	}
	digits := loc[i+1:]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", 0, false
		}
	}
	line, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, false
	}
	return loc[:i], line, true
}

// FormatLocation is the inverse of ParseLocation.
func FormatLocation(path string, line int) string {
	return path + ":" + strconv.Itoa(line)
}
