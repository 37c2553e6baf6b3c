// Package invoke defines the collaborator that constructs a worker's command
// line. The pool never inspects another component's internals to find the
// worker entrypoint; the embedding application supplies a Builder.
package invoke

import (
	"fmt"
	"os"
	"strings"
)

// Builder constructs the command line used to start one worker process.
type Builder interface {
	BuildWorkerCommand() (string, error)
}

// ScriptBuilder builds the invocation for a worker shim executable on disk.
type ScriptBuilder struct {
	// Path is the worker shim entrypoint.
	Path string
	// Args are appended verbatim after the entrypoint.
	Args []string
}

// BuildWorkerCommand validates the entrypoint and returns the shell command
// line for one worker.
func (b *ScriptBuilder) BuildWorkerCommand() (string, error) {
	if b.Path == "" {
		return "", fmt.Errorf("worker entrypoint is empty")
	}

	info, err := os.Stat(b.Path)
	if err != nil {
		return "", fmt.Errorf("worker entrypoint not found: %s", b.Path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("worker entrypoint is a directory: %s", b.Path)
	}
	if info.Mode()&0o111 == 0 {
		return "", fmt.Errorf("worker entrypoint is not executable: %s", b.Path)
	}

	parts := append([]string{quote(b.Path)}, b.Args...)
	return strings.Join(parts, " "), nil
}

// StaticBuilder returns a fixed command line, useful for tests and hosts that
// assemble the invocation themselves.
type StaticBuilder struct {
	Command string
}

func (b *StaticBuilder) BuildWorkerCommand() (string, error) {
	if b.Command == "" {
		return "", fmt.Errorf("worker command is empty")
	}
	return b.Command, nil
}

func quote(s string) string {
	if !strings.ContainsAny(s, " \t'\"") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
