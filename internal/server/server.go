package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/gridtune/internal/config"
	errs "github.com/copyleftdev/gridtune/internal/errors"
	"github.com/copyleftdev/gridtune/internal/logging"
	"github.com/copyleftdev/gridtune/internal/metrics"
	"github.com/copyleftdev/gridtune/internal/storage"
)

// maxBodyBytes bounds request bodies on every endpoint.
const maxBodyBytes = 1 << 20

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
	Zap() *zap.Logger
}

// Server implements the HTTP and JSON-RPC API for grid search experiments.
// Experiments live in memory; when a store is configured, experiments and
// registered trials are also persisted.
type Server struct {
	cfg     *config.Config
	logger  Logger
	store   *storage.Store
	metrics *metrics.Collector

	experiments   map[string]*Experiment
	experimentsMu sync.RWMutex // Protects the experiments map
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithStore persists experiments and trials to store.
func WithStore(store *storage.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithMetrics records suggestion traffic on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// NewServer creates a new server instance with the given config and logger
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		experiments: make(map[string]*Experiment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/experiments", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Delete("/", s.handleDelete)
			r.Post("/suggest", s.handleSuggest)
			r.Post("/register", s.handleRegister)
			r.Post("/bulk_register", s.handleBulkRegister)
		})
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Close drops all experiments and their metric series.
func (s *Server) Close() error {
	s.experimentsMu.Lock()
	defer s.experimentsMu.Unlock()
	for id := range s.experiments {
		s.metrics.Forget(id)
	}
	clear(s.experiments)
	return nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.New("request body is required").WithCode(http.StatusBadRequest)
		}
		return badRequest(err, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", map[string]interface{}{
			"status": status,
			"error":  err.Error(),
		})
	}
	writeJSON(w, status, map[string]interface{}{
		"error":  err.Error(),
		"status": status,
	})
}

// handleCreate handles POST /api/v1/experiments
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	exp, err := s.createExperiment(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"experiment_id": exp.ID})
}

// handleSuggest handles POST /api/v1/experiments/{id}/suggest
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	resp, err := s.suggest(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRegister handles POST /api/v1/experiments/{id}/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	score, err := s.register(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"score": score})
}

// handleBulkRegister handles POST /api/v1/experiments/{id}/bulk_register
func (s *Server) handleBulkRegister(w http.ResponseWriter, r *http.Request) {
	var req bulkRegisterRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	ok, err := s.bulkRegister(chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"registered": ok})
}

// handleStatus handles GET /api/v1/experiments/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDelete handles DELETE /api/v1/experiments/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deleteExperiment(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type experimentParams struct {
	ExperimentID string `json:"experiment_id"`
}

// decodeParams accepts params either as an object or as a one-element
// array holding the object.
func decodeParams(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return errors.New("missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			return errors.New("missing required parameters")
		}
		raw = list[0]
	}
	return json.Unmarshal(raw, v)
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error
	var invalid error

	switch request.Method {
	case "experiment.create":
		var p createRequest
		if invalid = decodeParams(request.Params, &p); invalid == nil {
			var exp *Experiment
			if exp, err = s.createExperiment(r.Context(), p); err == nil {
				result = map[string]string{"experiment_id": exp.ID}
			}
		}
	case "experiment.suggest":
		var p experimentParams
		if invalid = decodeParams(request.Params, &p); invalid == nil {
			result, err = s.suggest(p.ExperimentID)
		}
	case "experiment.register":
		var p struct {
			experimentParams
			registerRequest
		}
		if invalid = decodeParams(request.Params, &p); invalid == nil {
			var score interface{}
			if score, err = s.register(r.Context(), p.ExperimentID, p.registerRequest); err == nil {
				result = map[string]interface{}{"score": score}
			}
		}
	case "experiment.bulk_register":
		var p struct {
			experimentParams
			bulkRegisterRequest
		}
		if invalid = decodeParams(request.Params, &p); invalid == nil {
			var ok bool
			if ok, err = s.bulkRegister(p.ExperimentID, p.bulkRegisterRequest); err == nil {
				result = map[string]bool{"registered": ok}
			}
		}
	case "experiment.status":
		var p experimentParams
		if invalid = decodeParams(request.Params, &p); invalid == nil {
			result, err = s.status(p.ExperimentID)
		}
	case "experiment.delete":
		var p experimentParams
		if invalid = decodeParams(request.Params, &p); invalid == nil {
			if err = s.deleteExperiment(r.Context(), p.ExperimentID); err == nil {
				result = map[string]bool{"deleted": true}
			}
		}
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if invalid != nil {
		s.respondWithError(w, rpcInvalidParams, "Invalid params: "+invalid.Error(), request.ID)
		return
	}
	if err != nil {
		s.respondWithServerError(w, err, request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.writeRPCError(w, map[string]interface{}{
		"code":    code,
		"message": message,
	}, id)
}

// respondWithServerError reports a failed method call. The HTTP status the
// REST API would have used is carried in the error data.
func (s *Server) respondWithServerError(w http.ResponseWriter, err error, id interface{}) {
	s.writeRPCError(w, map[string]interface{}{
		"code":    rpcServerError,
		"message": err.Error(),
		"data":    map[string]int{"status": errs.HTTPStatus(err)},
	}, id)
}

func (s *Server) writeRPCError(w http.ResponseWriter, rpcErr map[string]interface{}, id interface{}) {
	s.logger.Warn("Request error", map[string]interface{}{
		"status":  rpcErr["code"],
		"message": rpcErr["message"],
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcErr,
		"id":      id,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
