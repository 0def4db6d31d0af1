package environment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/gridtune/internal/tunables"
)

// LocalEnv runs a shell command for every trial on the local machine.
// Tunable values are exported as environment variables, one per tunable,
// plus GRIDTUNE_PARAMS holding all of them as a JSON object. The last
// non-empty line the command prints must be a JSON object of scores.
type LocalEnv struct {
	name    string
	command string
	dir     string
	logger  *zap.Logger

	env []string
}

// NewLocalEnv creates a local environment that runs command with sh -c in dir.
func NewLocalEnv(name, command, dir string, logger *zap.Logger) (*LocalEnv, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("local environment requires a command")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		name = "local"
	}
	return &LocalEnv{
		name:    name,
		command: command,
		dir:     dir,
		logger:  logger.Named("local_env").With(zap.String("env", name)),
	}, nil
}

func (e *LocalEnv) Name() string { return e.name }

// Setup prepares the command environment for t.
func (e *LocalEnv) Setup(_ context.Context, t *tunables.Space) (bool, error) {
	values := t.Values()
	params, err := json.Marshal(values)
	if err != nil {
		return false, fmt.Errorf("encode tunables: %w", err)
	}
	env := append(os.Environ(), "GRIDTUNE_PARAMS="+string(params))
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		env = append(env, fmt.Sprintf("%s=%v", name, values[name]))
	}
	e.env = env
	return true, nil
}

// Run executes the command. A non-zero exit is a FAILED trial, not an error;
// a canceled context reports CANCELED.
func (e *LocalEnv) Run(ctx context.Context) (Status, map[string]float64, error) {
	if e.env == nil {
		return FAILED, nil, errors.New("local environment is not set up")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", e.command)
	cmd.Dir = e.dir
	cmd.Env = e.env
	// Children of sh may outlive it and hold the output pipes open.
	cmd.WaitDelay = 500 * time.Millisecond
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return CANCELED, nil, nil
		}
		e.logger.Warn("Command failed", zap.Error(err), zap.String("stderr", strings.TrimSpace(stderr.String())))
		return FAILED, nil, nil
	}
	scores, err := parseScores(stdout.Bytes())
	if err != nil {
		e.logger.Warn("Cannot parse command output", zap.Error(err))
		return FAILED, nil, nil
	}
	return SUCCEEDED, scores, nil
}

func (e *LocalEnv) Teardown(context.Context) error {
	e.env = nil
	return nil
}

func parseScores(out []byte) (map[string]float64, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return nil, errors.New("no output")
	}
	var scores map[string]float64
	if err := json.Unmarshal([]byte(last), &scores); err != nil {
		return nil, fmt.Errorf("last line %q: %w", last, err)
	}
	return scores, nil
}
