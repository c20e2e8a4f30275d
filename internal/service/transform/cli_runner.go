package transform

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// CLIRunner shells out to the transformation tool's build command in the
// project directory.
type CLIRunner struct {
	Executable string
	ProjectDir string
	// Args are appended after "build".
	Args   []string
	logger *slog.Logger
}

// NewCLIRunner creates a new CLIRunner.
func NewCLIRunner(executable, projectDir string, logger *slog.Logger) *CLIRunner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CLIRunner{Executable: executable, ProjectDir: projectDir, logger: logger.With("runner", "cli")}
}

// Run implements Runner. Output lines are logged at debug level; the tail
// of the output is included in the error on failure.
func (r *CLIRunner) Run(ctx context.Context, m *Manifest) (*Result, error) {
	args := append([]string{"build", "--project-dir", r.ProjectDir}, r.Args...)
	cmd := exec.CommandContext(ctx, r.Executable, args...) //nolint:gosec // executable comes from configuration
	cmd.Dir = r.ProjectDir

	var tail bytes.Buffer
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		var lines []string
		for scanner.Scan() {
			line := scanner.Text()
			r.logger.Debug(line)
			lines = append(lines, line)
			if len(lines) > 20 {
				lines = lines[1:]
			}
		}
		tail.WriteString(strings.Join(lines, "\n"))
		_, _ = io.Copy(io.Discard, pr)
	}()

	r.logger.Info("running build", "executable", r.Executable, "project_dir", r.ProjectDir)
	err := cmd.Run()
	_ = pw.Close()
	<-done
	if err != nil {
		return nil, fmt.Errorf("%s build: %w\n%s", r.Executable, err, tail.String())
	}

	res := &Result{Rows: map[string]int64{}}
	for _, n := range m.Models() {
		res.Models = append(res.Models, n.Name)
	}
	return res, nil
}
