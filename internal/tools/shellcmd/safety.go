// Package shellcmd implements the shell command tool: scoped execution
// of shell commands inside a world's trusted working directory, with
// live output streaming and registry-tracked lifecycle.
package shellcmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Errors surfaced by pre-spawn validation.
var (
	ErrEmptyCommand     = errors.New("command is empty")
	ErrOutsideScope     = errors.New("path is outside world working directory")
	ErrInlineScript     = errors.New("inline script execution is not allowed")
	ErrDirectoryOutside = errors.New("directory is outside world working directory")
)

// flagPathPattern matches -flag=/path style tokens.
var flagPathPattern = regexp.MustCompile(`^--?[A-Za-z0-9._-]+=(.+)$`)

// interpreters that accept an inline script argument. The value lists
// the flags that introduce one.
var inlineScriptFlags = map[string][]string{
	"sh":         {"-c"},
	"bash":       {"-c"},
	"zsh":        {"-c"},
	"dash":       {"-c"},
	"ksh":        {"-c"},
	"node":       {"-e", "--eval", "-p", "--print"},
	"python":     {"-c"},
	"python3":    {"-c"},
	"ruby":       {"-e"},
	"perl":       {"-e", "-E"},
	"pwsh":       {"-c", "-command"},
	"powershell": {"-c", "-command"},
}

// looksLikePath reports whether a token should be scope-checked:
// absolute, home-relative, dot-relative, or slash-containing values.
func looksLikePath(token string) bool {
	if token == "" {
		return false
	}
	if strings.HasPrefix(token, "/") || strings.HasPrefix(token, "~") {
		return true
	}
	if strings.HasPrefix(token, "./") || strings.HasPrefix(token, "../") {
		return true
	}
	return strings.Contains(token, "/")
}

// canonicalizePath resolves a token to an absolute cleaned path rooted
// at base. Symlinks are resolved when the target exists so a link
// cannot escape the scope.
func canonicalizePath(token, base string) (string, error) {
	p := token
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	} else if dir, derr := filepath.EvalSymlinks(filepath.Dir(p)); derr == nil {
		// Not-yet-existing target: resolve the parent so a symlinked
		// directory cannot escape the scope.
		p = filepath.Join(dir, filepath.Base(p))
	}
	return p, nil
}

// withinScope reports whether path is base or a descendant of base.
func withinScope(path, base string) bool {
	base = filepath.Clean(base)
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, "../"))
}

// validatePathScope tokenizes the command and parameters and requires
// every path-looking token to resolve inside the trusted directory.
func validatePathScope(command string, parameters []string, trusted string) error {
	tokens := strings.Fields(command)
	tokens = append(tokens, parameters...)
	for _, token := range tokens {
		candidate := token
		if m := flagPathPattern.FindStringSubmatch(token); m != nil {
			candidate = m[1]
		}
		candidate = strings.Trim(candidate, `"'`)
		if !looksLikePath(candidate) {
			continue
		}
		resolved, err := canonicalizePath(candidate, trusted)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrOutsideScope, token)
		}
		if !withinScope(resolved, trusted) {
			return fmt.Errorf("%w: %s", ErrOutsideScope, token)
		}
	}
	return nil
}

// validateNoInlineScript rejects interpreter invocations that embed a
// script, including env-wrapper forms, so the path-scope check cannot
// be bypassed from inside a quoted script body.
func validateNoInlineScript(command string, parameters []string) error {
	tokens := strings.Fields(command)
	tokens = append(tokens, parameters...)

	// Skip a leading env wrapper and its VAR=value assignments.
	i := 0
	if i < len(tokens) && filepath.Base(tokens[i]) == "env" {
		i++
		for i < len(tokens) && strings.Contains(tokens[i], "=") && !strings.HasPrefix(tokens[i], "-") {
			i++
		}
	}
	if i >= len(tokens) {
		return nil
	}

	interp := strings.ToLower(filepath.Base(strings.Trim(tokens[i], `"'`)))
	flags, ok := inlineScriptFlags[interp]
	if !ok {
		return nil
	}
	for _, token := range tokens[i+1:] {
		lowered := strings.ToLower(token)
		for _, f := range flags {
			if lowered == f {
				return fmt.Errorf("%w: %s %s", ErrInlineScript, interp, token)
			}
		}
	}
	return nil
}

// quoteParameter wraps a parameter in double quotes when it contains
// whitespace or quote characters, escaping embedded quotes.
func quoteParameter(p string) string {
	if !strings.ContainsAny(p, " \t\n\"'") {
		return p
	}
	escaped := strings.ReplaceAll(p, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// buildCommandLine joins the command and quoted parameters into the
// line handed to the shell.
func buildCommandLine(command string, parameters []string) string {
	parts := []string{strings.TrimSpace(command)}
	for _, p := range parameters {
		parts = append(parts, quoteParameter(p))
	}
	return strings.Join(parts, " ")
}
