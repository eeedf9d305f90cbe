// Package sourcedirs turns configured source search directories into the
// ordered list the path resolver walks, and parses "path:line" locations.
package sourcedirs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Variable pattern matches ${...} expressions
var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Context carries the values substituted into ${...} variables.
type Context struct {
	WorkspaceFolder string
	// EnvOverrides take precedence over the process environment for ${env:NAME}.
	EnvOverrides map[string]string
}

// ExpandVariables replaces all ${...} variables in text. Unknown or failing
// variables are left in place and the last error is returned.
func ExpandVariables(text string, ctx *Context) (string, error) {
	if ctx == nil {
		ctx = &Context{}
	}

	var lastErr error
	result := variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		expr := match[2 : len(match)-1]

		resolved, err := expandVariable(expr, ctx)
		if err != nil {
			lastErr = err
			return match
		}
		return resolved
	})

	return result, lastErr
}

func expandVariable(expr string, ctx *Context) (string, error) {
	switch {
	case expr == "workspaceFolder":
		if ctx.WorkspaceFolder == "" {
			return "", fmt.Errorf("workspaceFolder is not set")
		}
		return ctx.WorkspaceFolder, nil

	case expr == "workspaceFolderBasename":
		if ctx.WorkspaceFolder == "" {
			return "", fmt.Errorf("workspaceFolder is not set")
		}
		return filepath.Base(ctx.WorkspaceFolder), nil

	case expr == "userHome":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home: %w", err)
		}
		return home, nil

	case expr == "cwd":
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get cwd: %w", err)
		}
		return cwd, nil

	case expr == "pathSeparator":
		return string(os.PathSeparator), nil

	case strings.HasPrefix(expr, "env:"):
		varName := strings.TrimPrefix(expr, "env:")
		if ctx.EnvOverrides != nil {
			if val, ok := ctx.EnvOverrides[varName]; ok {
				return val, nil
			}
		}
		return os.Getenv(varName), nil

	default:
		return "", fmt.Errorf("unknown variable: ${%s}", expr)
	}
}
