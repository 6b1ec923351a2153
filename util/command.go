package util

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner runs an external program in dir and returns its stdout
type CommandRunner func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

// RunCommand executes a build tool and returns its stdout. A non-zero exit is returned as an
// error carrying the tail of stderr.
func RunCommand(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmdExec := exec.CommandContext(ctx, name, args...)
	cmdExec.Dir = dir

	var stderr bytes.Buffer
	cmdExec.Stderr = &stderr

	output, err := cmdExec.Output()
	if err != nil {
		return output, fmt.Errorf("%s %s: %w%s", name, strings.Join(args, " "), err, stderrTail(stderr.String()))
	}

	return output, nil
}

func stderrTail(stderr string) string {
	const maxLines = 5

	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return ""
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return ": " + strings.Join(lines, "; ")
}
