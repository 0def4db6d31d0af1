// Package runner drives an optimizer against one or more environments,
// one trial per environment at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/gridtune/internal/environment"
	"github.com/copyleftdev/gridtune/internal/metrics"
	"github.com/copyleftdev/gridtune/internal/optimization"
	"github.com/copyleftdev/gridtune/internal/storage"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

// queueReporter is implemented by optimizers that expose their pending and
// suggested sets, such as grid search.
type queueReporter interface {
	Passes() int
	PendingCount() int
	SuggestedCount() int
}

// Runner evaluates suggestions until the optimizer converges. The optimizer
// is only ever called with the runner's mutex held.
type Runner struct {
	Optimizer    optimization.Optimizer
	Environments []environment.Environment

	// Store and ExperimentID are optional. When set, trials are persisted
	// and earlier trials of the experiment are replayed before the run.
	Store        *storage.Store
	ExperimentID string

	Logger  *zap.Logger
	Metrics *metrics.Collector

	mu      sync.Mutex
	summary Summary
}

// Summary describes a finished run.
type Summary struct {
	Trials     int                `json:"trials"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Resumed    int                `json:"resumed"`
	BestScore  optimization.Score `json:"best_score,omitempty"`
	BestParams map[string]any     `json:"best_params,omitempty"`
}

// Run resumes from the store if configured, then runs one worker per
// environment until none can get another suggestion. Every environment is
// torn down before Run returns.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if r.Optimizer == nil {
		return nil, errors.New("runner requires an optimizer")
	}
	if len(r.Environments) == 0 {
		return nil, errors.New("runner requires at least one environment")
	}
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	logger := r.Logger.Named("runner")

	if r.Store != nil {
		n, err := r.Resume(ctx)
		if err != nil {
			return nil, err
		}
		r.summary.Resumed = n
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, env := range r.Environments {
		g.Go(func() error {
			return r.worker(gctx, env, logger.With(zap.String("env", env.Name())))
		})
	}
	runErr := g.Wait()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	teardownCtx := context.WithoutCancel(ctx)
	for _, env := range r.Environments {
		if err := env.Teardown(teardownCtx); err != nil {
			logger.Warn("Teardown failed", zap.String("env", env.Name()), zap.Error(err))
			errs = append(errs, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	summary := r.summary
	if score, best := r.Optimizer.GetBestObservation(); best != nil {
		summary.BestScore = score
		summary.BestParams = best.Values()
	}
	logger.Info("Run finished",
		zap.Int("trials", summary.Trials),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Any("best_score", summary.BestScore),
	)
	return &summary, errors.Join(errs...)
}

// Resume replays the stored history of the experiment into the optimizer
// and returns the number of trials replayed.
func (r *Runner) Resume(ctx context.Context) (int, error) {
	if _, err := r.Store.EnsureExperiment(ctx, r.ExperimentID, ""); err != nil {
		return 0, err
	}
	trials, err := r.Store.LoadTrials(ctx, r.ExperimentID)
	if err != nil {
		return 0, err
	}
	configs, scores, statuses := History(trials)

	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.Optimizer.BulkRegister(configs, scores, statuses)
	if err != nil {
		return 0, fmt.Errorf("replay %d trials: %w", len(trials), err)
	}
	if !ok {
		return 0, nil
	}
	return len(trials), nil
}

// History splits stored trials into BulkRegister's parallel slices.
func History(trials []storage.Trial) ([]map[string]any, []optimization.Score, []environment.Status) {
	configs := make([]map[string]any, len(trials))
	scores := make([]optimization.Score, len(trials))
	statuses := make([]environment.Status, len(trials))
	for i, t := range trials {
		configs[i] = t.Params
		statuses[i] = t.Status
		if t.Status.IsSucceeded() {
			scores[i] = optimization.Score(t.Score)
		}
	}
	return configs, scores, statuses
}

func (r *Runner) worker(ctx context.Context, env environment.Environment, logger *zap.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, ok, err := r.next()
		if err != nil || !ok {
			return err
		}
		status, score := r.evaluate(ctx, env, t, logger)
		if err := r.record(ctx, t, status, score, logger); err != nil {
			return err
		}
	}
}

// next asks the optimizer for a configuration. ok is false once the
// optimizer has converged or has nothing left to hand out.
func (r *Runner) next() (*tunables.Space, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	qr, _ := r.Optimizer.(queueReporter)
	passes := 0
	if qr != nil {
		passes = qr.Passes()
	}
	defer func() {
		if qr != nil {
			r.Metrics.Restarted(qr.Passes() - passes)
		}
	}()

	if !r.Optimizer.NotConverged() {
		return nil, false, nil
	}
	t, err := r.Optimizer.Suggest()
	if errors.Is(err, optimization.ErrExhausted) {
		r.Metrics.Exhausted()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r.Metrics.Suggested()
	r.observeQueues()
	return t, true, nil
}

// evaluate runs one trial. It never fails: problems become the trial status.
func (r *Runner) evaluate(ctx context.Context, env environment.Environment, t *tunables.Space, logger *zap.Logger) (environment.Status, optimization.Score) {
	ready, err := env.Setup(ctx, t)
	if err != nil || !ready {
		logger.Warn("Environment setup failed", zap.Stringer("tunables", t), zap.Error(err))
		return failureStatus(ctx), nil
	}
	status, results, err := env.Run(ctx)
	if err != nil {
		logger.Warn("Trial run failed", zap.Stringer("tunables", t), zap.Error(err))
		return failureStatus(ctx), nil
	}
	if !status.IsSucceeded() {
		return status, nil
	}
	if results == nil {
		results = map[string]float64{}
	}
	return status, optimization.Score(results)
}

func failureStatus(ctx context.Context) environment.Status {
	if ctx.Err() != nil {
		return environment.CANCELED
	}
	return environment.FAILED
}

// record registers the result and persists it. Rejected scores are logged
// and the trial is counted as failed.
func (r *Runner) record(ctx context.Context, t *tunables.Space, status environment.Status, score optimization.Score, logger *zap.Logger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.Optimizer.Register(t, status, score); err != nil {
		if !errors.Is(err, optimization.ErrValidation) {
			return err
		}
		logger.Warn("Trial result rejected", zap.Stringer("tunables", t), zap.Error(err))
		status, score = environment.FAILED, nil
	}
	r.Metrics.Registered(status)
	r.observeQueues()

	r.summary.Trials++
	if status.IsSucceeded() {
		r.summary.Succeeded++
	} else {
		r.summary.Failed++
	}

	if r.Store == nil {
		return nil
	}
	trial := &storage.Trial{
		ExperimentID: r.ExperimentID,
		Params:       t.Values(),
		Status:       status,
		Score:        score,
	}
	if err := r.Store.RecordTrial(context.WithoutCancel(ctx), trial); err != nil {
		return fmt.Errorf("record trial: %w", err)
	}
	return nil
}

func (r *Runner) observeQueues() {
	if qr, ok := r.Optimizer.(queueReporter); ok {
		r.Metrics.SetQueues(r.ExperimentID, qr.PendingCount(), qr.SuggestedCount())
	}
}
