package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// DefaultShell is the shell build scripts are executed with.
const DefaultShell = "/bin/sh"

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RenderScript renders a POSIX shell script exporting env one assignment at
// a time, in order, followed by commands. Values are written verbatim so
// references to earlier names are expanded by the shell as each export runs.
func RenderScript(env ResolvedEnvironment, commands ...string) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	sb.WriteString("set -e\n")
	for _, a := range env {
		sb.WriteString("export ")
		sb.WriteString(a.String())
		sb.WriteByte('\n')
	}
	for _, c := range commands {
		sb.WriteString(c)
		if !strings.HasSuffix(c, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// ShellEvaluator resolves environment values the way a build step sees
// them, by exporting the environment into a real shell.
type ShellEvaluator struct {
	// Shell is the interpreter path. Empty means DefaultShell.
	Shell string

	// Environ is the inherited process environment. Nil inherits the
	// current process environment.
	Environ []string

	// Dir is the working directory of the shell.
	Dir string
}

// Resolve exports env into a shell and returns the final values of names.
// Names never assigned resolve to the empty string.
func (s *ShellEvaluator) Resolve(ctx context.Context, env ResolvedEnvironment, names ...string) (map[string]string, error) {
	commands := make([]string, 0, len(names))
	for _, name := range names {
		if !envName.MatchString(name) {
			return nil, NewPermanentError(fmt.Sprintf("invalid variable name: %q", name), nil).
				WithCode(ErrCodeValidation)
		}
		commands = append(commands, fmt.Sprintf(`printf '%%s\0' "$%s"`, name))
	}

	out, err := s.run(ctx, RenderScript(env, commands...))
	if err != nil {
		return nil, err
	}

	values := strings.Split(string(out), "\x00")
	if len(values) != len(names)+1 {
		return nil, fmt.Errorf("unexpected shell output: got %d values for %d names", len(values)-1, len(names))
	}

	resolved := make(map[string]string, len(names))
	for i, name := range names {
		resolved[name] = values[i]
	}
	return resolved, nil
}

func (s *ShellEvaluator) run(ctx context.Context, script string) ([]byte, error) {
	shell := s.Shell
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Env = s.Environ
	cmd.Dir = s.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("shell evaluation failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
