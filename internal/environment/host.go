package environment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/gridtune/internal/tunables"
)

// Params are the free-form arguments passed to and returned from host
// operations (host name, resource group, operation handles, ...).
type Params map[string]any

// HostOps provisions the machine a trial runs on. Start and Stop may return
// a pending status, in which case OperationStatus is polled with the
// returned params until the operation settles.
type HostOps interface {
	StartHost(ctx context.Context, params Params) (Status, Params, error)
	StopHost(ctx context.Context, params Params) (Status, Params, error)
	OperationStatus(ctx context.Context, params Params) (Status, Params, error)
}

// HostConfig configures a HostEnv.
type HostConfig struct {
	Name string
	// ConstArgs are merged with the tunable values on every operation.
	ConstArgs Params
	// PollInterval is the first delay between status polls; it doubles on
	// every attempt up to MaxPollInterval.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// OperationTimeout bounds how long a pending operation is polled.
	OperationTimeout time.Duration
}

func (c *HostConfig) withDefaults() HostConfig {
	out := *c
	if out.Name == "" {
		out.Name = "host"
	}
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	if out.MaxPollInterval < out.PollInterval {
		out.MaxPollInterval = 30 * time.Second
	}
	if out.OperationTimeout <= 0 {
		out.OperationTimeout = 10 * time.Minute
	}
	return out
}

// HostEnv is an OS-level environment on a remote host: Setup boots the host
// and waits for it, Run executes the workload on it, Teardown shuts it down
// without deprovisioning it.
type HostEnv struct {
	cfg      HostConfig
	ops      HostOps
	workload Workload
	logger   *zap.Logger

	params   Params
	tunables *tunables.Space
	ready    bool
}

// NewHostEnv creates a host environment. workload may be nil, in which case
// Run only reports whether the host is up.
func NewHostEnv(cfg HostConfig, ops HostOps, workload Workload, logger *zap.Logger) (*HostEnv, error) {
	if ops == nil {
		return nil, errors.New("host environment requires a service that supports host operations")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &HostEnv{
		cfg:      cfg,
		ops:      ops,
		workload: workload,
		logger:   logger.Named("host_env").With(zap.String("env", cfg.Name)),
		params:   maps.Clone(cfg.ConstArgs),
	}, nil
}

// Name returns the environment's name.
func (e *HostEnv) Name() string { return e.cfg.Name }

// IsReady reports whether the last Setup left the host ready.
func (e *HostEnv) IsReady() bool { return e.ready }

// Setup checks that the host is up and running, booting it if necessary.
func (e *HostEnv) Setup(ctx context.Context, t *tunables.Space) (bool, error) {
	e.logger.Info("OS set up", zap.Stringer("tunables", t))
	e.tunables = t.Copy()
	e.params = maps.Clone(e.cfg.ConstArgs)
	if e.params == nil {
		e.params = make(Params)
	}
	maps.Copy(e.params, t.Values())

	status, params, err := e.ops.StartHost(ctx, e.params)
	if err != nil {
		e.ready = false
		return false, fmt.Errorf("start host %s: %w", e.cfg.Name, err)
	}
	if status.IsPending() {
		status, _, err = e.wait(ctx, params)
		if err != nil {
			e.ready = false
			return false, fmt.Errorf("wait for host %s: %w", e.cfg.Name, err)
		}
	}

	e.ready = status == SUCCEEDED || status == READY
	e.logger.Debug("Host setup finished", zap.Stringer("status", status), zap.Bool("ready", e.ready))
	return e.ready, nil
}

// Run executes the workload if the host is ready.
func (e *HostEnv) Run(ctx context.Context) (Status, map[string]float64, error) {
	if !e.ready {
		return FAILED, nil, nil
	}
	if e.workload == nil {
		return SUCCEEDED, nil, nil
	}
	return e.workload.Run(ctx, e.tunables)
}

// Teardown shuts the host down without deprovisioning it.
func (e *HostEnv) Teardown(ctx context.Context) error {
	e.logger.Info("OS tear down")
	status, params, err := e.ops.StopHost(ctx, e.params)
	if err != nil {
		return fmt.Errorf("stop host %s: %w", e.cfg.Name, err)
	}
	if status.IsPending() {
		if status, _, err = e.wait(ctx, params); err != nil {
			return fmt.Errorf("wait for host %s to stop: %w", e.cfg.Name, err)
		}
	}
	e.ready = false
	e.logger.Debug("Final status of OS stopping", zap.Stringer("status", status))
	return nil
}

// wait polls the pending operation until it settles. Running out of
// OperationTimeout yields TIMED_OUT; cancellation of ctx is an error.
func (e *HostEnv) wait(ctx context.Context, params Params) (Status, Params, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.OperationTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		timer := time.NewTimer(e.pollDelay(attempt))
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return CANCELED, params, ctx.Err()
			}
			e.logger.Warn("Host operation timed out", zap.Duration("timeout", e.cfg.OperationTimeout))
			return TIMED_OUT, params, nil
		case <-timer.C:
		}

		status, next, err := e.ops.OperationStatus(waitCtx, params)
		if err != nil {
			return FAILED, params, err
		}
		if next != nil {
			params = next
		}
		if !status.IsPending() {
			return status, params, nil
		}
		e.logger.Debug("Host operation still pending", zap.Int("attempt", attempt))
	}
}

func (e *HostEnv) pollDelay(attempt int) time.Duration {
	delay := float64(e.cfg.PollInterval) * math.Pow(2, float64(attempt))
	if delay > float64(e.cfg.MaxPollInterval) {
		return e.cfg.MaxPollInterval
	}
	return time.Duration(delay)
}
