package states

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/logimos/reactor/internal/engine"

	"go.uber.org/zap"
)

// ShellState runs one shell command and advances on a zero exit code.
type ShellState struct {
	id     string
	logger *zap.Logger

	Command    string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
}

// NewShellState builds a ShellState with the given id.
func NewShellState(id string, logger *zap.Logger) *ShellState {
	return &ShellState{id: id, logger: logger, Timeout: 30 * time.Second}
}

func (s *ShellState) ID() string { return s.id }

func (s *ShellState) Execute(ctx context.Context, actions engine.Actions) (engine.ExecutionResult, error) {
	if s.Command == "" {
		return engine.ExecutionResult{}, fmt.Errorf("state %q: command is required", s.id)
	}

	parts := strings.Fields(s.Command)
	if len(parts) == 0 {
		return engine.ExecutionResult{}, fmt.Errorf("state %q: empty command", s.id)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, parts[0], parts[1:]...)
	if s.WorkingDir != "" {
		cmd.Dir = s.WorkingDir
	}

	env := os.Environ()
	for k, v := range s.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	s.logger.Info("executing shell state", zap.String("state", s.id), zap.String("command", s.Command))

	output, err := cmd.CombinedOutput()
	outputStr := string(output)

	if err != nil {
		s.logger.Error("shell state failed", zap.String("state", s.id), zap.Error(err), zap.String("output", outputStr))
		return engine.ExecutionResult{}, fmt.Errorf("state %q: command failed: %w", s.id, err)
	}

	return actions.Next(nil, map[string]interface{}{"output": outputStr}), nil
}
