package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/conveyorgo/internal/ctxlog"
)

// runShell executes a command through the shell in the given directory,
// capturing both streams. The process sees the host environment plus the
// step's layered variables.
func runShell(ctx context.Context, dir, command string, env []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// runCommandStep executes a `run` step: it wires the output-file protocol,
// invokes the shell and parses any declared outputs.
func (r *Runner) runCommandStep(ctx context.Context, jc *jobContext, stepName, command string, env []string) (map[string]cty.Value, error) {
	logger := ctxlog.FromContext(ctx)

	outDir := filepath.Join(jc.workDir, ".conveyor")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("preparing output dir: %w", err)
	}
	outFile := filepath.Join(outDir, stepName+".out")
	if err := os.WriteFile(outFile, nil, 0o644); err != nil {
		return nil, fmt.Errorf("preparing output file: %w", err)
	}

	stdout, stderr, err := runShell(ctx, jc.workDir, command, append(env, "CONVEYOR_OUTPUT="+outFile))
	if stdout != "" {
		logger.Debug("Step stdout.", "step", stepName, "output", stdout)
	}
	if stderr != "" {
		logger.Debug("Step stderr.", "step", stepName, "output", stderr)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr))
	}

	outputs, err := parseOutputFile(outFile)
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// parseOutputFile reads the key=value lines a step wrote to its
// CONVEYOR_OUTPUT file. Blank lines are ignored; a line without '=' is an
// error so silent typos don't vanish.
func parseOutputFile(path string) (map[string]cty.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading step outputs: %w", err)
	}
	defer f.Close()

	outputs := make(map[string]cty.Value)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("malformed output line %q: expected key=value", line)
		}
		outputs[strings.TrimSpace(key)] = cty.StringVal(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading step outputs: %w", err)
	}
	return outputs, nil
}
