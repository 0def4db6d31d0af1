package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/gridtune/internal/environment"
	errs "github.com/copyleftdev/gridtune/internal/errors"
	"github.com/copyleftdev/gridtune/internal/optimization"
	"github.com/copyleftdev/gridtune/internal/optimization/grid"
	"github.com/copyleftdev/gridtune/internal/storage"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

// Experiment is one grid search session. The optimizer is not safe for
// concurrent use, so every call goes through mu.
type Experiment struct {
	ID          string
	Description string
	CreatedAt   time.Time

	mu        sync.Mutex
	optimizer *grid.Optimizer
	trials    map[string]*tunables.Space // outstanding suggestions by trial ID
}

// optimizerRequest overrides the server's default optimizer settings.
type optimizerRequest struct {
	MaxSuggestions      *int            `json:"max_suggestions,omitempty"`
	OptimizationTargets json.RawMessage `json:"optimization_targets,omitempty"`
	StartWithDefaults   *bool           `json:"start_with_defaults,omitempty"`
	MaxConfigs          *int            `json:"max_configs,omitempty"`
}

type createRequest struct {
	ID          string           `json:"experiment_id,omitempty"`
	Description string           `json:"description,omitempty"`
	Tunables    json.RawMessage  `json:"tunables"`
	Optimizer   optimizerRequest `json:"optimizer"`
}

type suggestResponse struct {
	ExperimentID string         `json:"experiment_id"`
	TrialID      string         `json:"trial_id"`
	Iteration    int            `json:"iteration"`
	Config       map[string]any `json:"config"`
}

type registerRequest struct {
	TrialID string             `json:"trial_id,omitempty"`
	Config  map[string]any     `json:"config,omitempty"`
	Status  string             `json:"status,omitempty"`
	Score   map[string]float64 `json:"score,omitempty"`
}

type bulkRegisterRequest struct {
	Configs  []map[string]any     `json:"configs"`
	Scores   []optimization.Score `json:"scores"`
	Statuses []string             `json:"statuses,omitempty"`
}

type statusResponse struct {
	ExperimentID   string             `json:"experiment_id"`
	Description    string             `json:"description,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	Iteration      int                `json:"iteration"`
	MaxSuggestions int                `json:"max_suggestions"`
	NotConverged   bool               `json:"not_converged"`
	Passes         int                `json:"passes"`
	Pending        int                `json:"pending"`
	Suggested      int                `json:"suggested"`
	Columns        []string           `json:"columns"`
	BestScore      optimization.Score `json:"best_score,omitempty"`
	BestConfig     map[string]any     `json:"best_config,omitempty"`
}

func notFound(id string) error {
	return errs.Errorf("experiment %s not found", id).WithCode(http.StatusNotFound)
}

func badRequest(err error, msg string) error {
	return errs.Wrap(err, msg).WithCode(http.StatusBadRequest)
}

// classify attaches an HTTP status to optimizer errors.
func classify(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, optimization.ErrExhausted):
		return errs.Wrap(err, op).WithCode(http.StatusConflict)
	case errors.Is(err, optimization.ErrValidation), errors.Is(err, optimization.ErrConfiguration):
		return errs.Wrap(err, op).WithCode(http.StatusBadRequest)
	default:
		return errs.Wrap(err, op)
	}
}

// parseTargets accepts "a:max,b", an ordered {"a": "max"} object, or a
// list of {name, direction} objects. Object key order is precedence order.
func parseTargets(raw json.RawMessage) ([]optimization.Target, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	n := &doc
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	switch n.Kind {
	case yaml.ScalarNode:
		return optimization.ParseTargets(n.Value)
	case yaml.MappingNode:
		targets := make([]optimization.Target, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			targets = append(targets, optimization.Target{
				Name:      n.Content[i].Value,
				Direction: optimization.Direction(strings.ToLower(n.Content[i+1].Value)),
			})
		}
		return targets, nil
	case yaml.SequenceNode:
		var targets []optimization.Target
		if err := n.Decode(&targets); err != nil {
			return nil, err
		}
		return targets, nil
	default:
		return nil, errors.New("optimization_targets must be a string, object or list")
	}
}

func (s *Server) optimizerConfig(req optimizerRequest) (optimization.Config, error) {
	oc, err := s.cfg.OptimizerDefaults()
	if err != nil {
		return optimization.Config{}, err
	}
	if req.MaxSuggestions != nil {
		oc.MaxSuggestions = *req.MaxSuggestions
	}
	if req.StartWithDefaults != nil {
		oc.StartWithDefaults = *req.StartWithDefaults
	}
	if req.MaxConfigs != nil {
		oc.MaxConfigs = *req.MaxConfigs
	}
	targets, err := parseTargets(req.OptimizationTargets)
	if err != nil {
		return optimization.Config{}, badRequest(err, "invalid optimization_targets")
	}
	if targets != nil {
		oc.Targets = targets
	}
	return oc, nil
}

func (s *Server) createExperiment(ctx context.Context, req createRequest) (*Experiment, error) {
	if len(req.Tunables) == 0 {
		return nil, errs.New("tunables are required").WithCode(http.StatusBadRequest)
	}
	space, err := tunables.Parse(req.Tunables)
	if err != nil {
		return nil, badRequest(err, "invalid tunables")
	}
	oc, err := s.optimizerConfig(req.Optimizer)
	if err != nil {
		return nil, classify(err, "invalid optimizer settings")
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	opt, err := grid.New(space, oc, s.logger.Zap().With(zap.String("experiment_id", id)))
	if err != nil {
		return nil, classify(err, "create optimizer")
	}

	exp := &Experiment{
		ID:          id,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
		optimizer:   opt,
		trials:      make(map[string]*tunables.Space),
	}

	s.experimentsMu.Lock()
	defer s.experimentsMu.Unlock()
	if _, exists := s.experiments[id]; exists {
		return nil, errs.Errorf("experiment %s already exists", id).WithCode(http.StatusConflict)
	}
	if s.store != nil {
		if _, err := s.store.CreateExperiment(ctx, id, req.Description); err != nil {
			return nil, errs.Wrap(err, "persist experiment")
		}
	}
	s.experiments[id] = exp
	s.metrics.SetQueues(id, opt.PendingCount(), opt.SuggestedCount())

	s.logger.Info("Experiment created", map[string]interface{}{
		"experiment_id":   id,
		"tunables":        space.Len(),
		"grid_columns":    opt.Schema().Columns(),
		"max_suggestions": oc.MaxSuggestions,
	})
	return exp, nil
}

func (s *Server) experiment(id string) (*Experiment, error) {
	s.experimentsMu.RLock()
	defer s.experimentsMu.RUnlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, notFound(id)
	}
	return exp, nil
}

func (s *Server) suggest(id string) (*suggestResponse, error) {
	exp, err := s.experiment(id)
	if err != nil {
		return nil, err
	}
	exp.mu.Lock()
	defer exp.mu.Unlock()

	passes := exp.optimizer.Passes()
	t, err := exp.optimizer.Suggest()
	s.metrics.Restarted(exp.optimizer.Passes() - passes)
	if err != nil {
		if errors.Is(err, optimization.ErrExhausted) {
			s.metrics.Exhausted()
		}
		return nil, classify(err, "suggest")
	}
	s.metrics.Suggested()
	s.metrics.SetQueues(id, exp.optimizer.PendingCount(), exp.optimizer.SuggestedCount())

	trialID := uuid.New().String()
	exp.trials[trialID] = t
	return &suggestResponse{
		ExperimentID: id,
		TrialID:      trialID,
		Iteration:    exp.optimizer.CurrentIteration(),
		Config:       t.Values(),
	}, nil
}

// trialSpace resolves the tunables a result refers to: the outstanding
// suggestion named by trial ID, or else the posted config.
func (exp *Experiment) trialSpace(req registerRequest) (*tunables.Space, string, error) {
	if req.TrialID != "" {
		if t, ok := exp.trials[req.TrialID]; ok {
			delete(exp.trials, req.TrialID)
			return t, req.TrialID, nil
		}
		if req.Config == nil {
			return nil, "", errs.Errorf("unknown trial %s", req.TrialID).WithCode(http.StatusNotFound)
		}
	}
	if req.Config == nil {
		return nil, "", errs.New("trial_id or config is required").WithCode(http.StatusBadRequest)
	}
	t := exp.optimizer.Tunables().Copy()
	if err := t.Assign(req.Config); err != nil {
		return nil, "", badRequest(err, "invalid config")
	}
	return t, "", nil
}

func parseStatus(name string, score map[string]float64) (environment.Status, error) {
	if name == "" {
		if score == nil {
			return environment.FAILED, nil
		}
		return environment.SUCCEEDED, nil
	}
	st, err := environment.ParseStatus(name)
	if err != nil {
		return environment.UNKNOWN, badRequest(err, "invalid status")
	}
	return st, nil
}

func (s *Server) register(ctx context.Context, id string, req registerRequest) (optimization.Score, error) {
	exp, err := s.experiment(id)
	if err != nil {
		return nil, err
	}
	status, err := parseStatus(req.Status, req.Score)
	if err != nil {
		return nil, err
	}

	exp.mu.Lock()
	defer exp.mu.Unlock()

	t, trialID, err := exp.trialSpace(req)
	if err != nil {
		return nil, err
	}
	score, err := exp.optimizer.Register(t, status, req.Score)
	s.metrics.SetQueues(id, exp.optimizer.PendingCount(), exp.optimizer.SuggestedCount())
	if err != nil {
		return nil, classify(err, "register")
	}
	s.metrics.Registered(status)

	if s.store != nil {
		trial := &storage.Trial{
			ID:           trialID,
			ExperimentID: id,
			Params:       t.Values(),
			Status:       status,
			Score:        req.Score,
		}
		if err := s.store.RecordTrial(ctx, trial); err != nil {
			return nil, errs.Wrap(err, "persist trial")
		}
	}
	return score, nil
}

func (s *Server) bulkRegister(id string, req bulkRegisterRequest) (bool, error) {
	exp, err := s.experiment(id)
	if err != nil {
		return false, err
	}
	var statuses []environment.Status
	if req.Statuses != nil {
		statuses = make([]environment.Status, len(req.Statuses))
		for i, name := range req.Statuses {
			if statuses[i], err = environment.ParseStatus(name); err != nil {
				return false, badRequest(err, "invalid status")
			}
		}
	}

	exp.mu.Lock()
	defer exp.mu.Unlock()
	ok, err := exp.optimizer.BulkRegister(req.Configs, req.Scores, statuses)
	s.metrics.SetQueues(id, exp.optimizer.PendingCount(), exp.optimizer.SuggestedCount())
	return ok, classify(err, "bulk register")
}

func (s *Server) status(id string) (*statusResponse, error) {
	exp, err := s.experiment(id)
	if err != nil {
		return nil, err
	}
	exp.mu.Lock()
	defer exp.mu.Unlock()

	opt := exp.optimizer
	passes := opt.Passes()
	resp := &statusResponse{
		ExperimentID:   exp.ID,
		Description:    exp.Description,
		CreatedAt:      exp.CreatedAt,
		Iteration:      opt.CurrentIteration(),
		MaxSuggestions: opt.MaxSuggestions(),
		NotConverged:   opt.NotConverged(),
		Passes:         opt.Passes(),
		Pending:        opt.PendingCount(),
		Suggested:      opt.SuggestedCount(),
		Columns:        opt.Schema().Columns(),
	}
	s.metrics.Restarted(resp.Passes - passes)
	if score, best := opt.GetBestObservation(); best != nil {
		resp.BestScore = score
		resp.BestConfig = best.Values()
	}
	return resp, nil
}

func (s *Server) deleteExperiment(ctx context.Context, id string) error {
	s.experimentsMu.Lock()
	defer s.experimentsMu.Unlock()
	if _, ok := s.experiments[id]; !ok {
		return notFound(id)
	}
	delete(s.experiments, id)
	s.metrics.Forget(id)
	if s.store != nil {
		if err := s.store.DeleteExperiment(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return errs.Wrap(err, "delete stored experiment")
		}
	}
	s.logger.Info("Experiment deleted", map[string]interface{}{"experiment_id": id})
	return nil
}
