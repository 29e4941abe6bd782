package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apierrors "github.com/copyleftdev/smbo/internal/errors"
	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/benchmark"
	"github.com/copyleftdev/smbo/internal/optimization/smbo"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// OptimizationState represents the state of an optimization job.
// It tracks the progress, status, and results of an optimization process.
// All fields are guarded by the server's optimizations mutex.
type OptimizationState struct {
	ID           string
	Benchmark    string
	Status       string // "pending", "running", "completed", "failed", "cancelled"
	StartTime    time.Time
	EndTime      *time.Time
	Progress     float64
	Evaluations  int
	Budget       int
	BestSolution *optimization.Solution
	Error        string
	Optimizer    optimization.Optimizer
	CancelFunc   context.CancelFunc
	LastUpdated  time.Time
}

type startParams struct {
	// Objective names a benchmark function.
	Objective      string       `json:"objective"`
	Dims           int          `json:"dims"`
	Bounds         [][2]float64 `json:"bounds"`
	MaxIterations  int          `json:"max_iterations"`
	NInitialPoints int          `json:"n_initial_points"`
	Seed           int64        `json:"seed"`
}

type optimizationIDParams struct {
	OptimizationID string `json:"optimization_id"`
}

// startOptimization starts a background job running the optimization loop
// on a benchmark objective.
func (s *Server) startOptimization(p startParams) (map[string]interface{}, error) {
	if p.Objective == "" {
		return nil, apierrors.BadRequest("objective is required, available: %v", benchmark.Names())
	}
	problem, err := benchmark.Get(p.Objective, p.Dims)
	if err != nil {
		return nil, err
	}
	bounds := problem.Bounds
	if len(p.Bounds) > 0 {
		if len(p.Bounds) != len(bounds) {
			return nil, apierrors.BadRequest("%s takes %d bounds, got %d", problem.Name, len(bounds), len(p.Bounds))
		}
		bounds = p.Bounds
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = 30
	}
	if p.NInitialPoints <= 0 {
		p.NInitialPoints = 5
	}

	acq, err := s.newAcquisition()
	if err != nil {
		return nil, err
	}

	var seed int64
	if v, ok := s.seed(p.Seed).(int64); ok {
		seed = v
	}
	config := optimization.OptimizerConfig{
		Objective:      problem.Objective,
		Bounds:         bounds,
		MaxIterations:  p.MaxIterations,
		NInitialPoints: p.NInitialPoints,
		RandomSeed:     seed,
	}

	id := s.nextID("opt")
	state := &OptimizationState{
		ID:          id,
		Benchmark:   problem.Name,
		Status:      StatusPending,
		StartTime:   time.Now(),
		Budget:      p.MaxIterations + p.NInitialPoints,
		LastUpdated: time.Now(),
	}

	optimizer, err := smbo.NewOptimizer(nil, config,
		smbo.WithAcquisition(acq),
		smbo.WithInitialDesign(s.cfg.Optimization.InitialDesign),
		smbo.WithEngineOptions(s.cfg.SMBOOptions()...),
		smbo.WithOptimizerLogger(zapOf(s.logger).With(zap.String("optimization_id", id))),
		smbo.WithOptimizerMetrics(s.metrics),
		smbo.WithObserver(func(eval optimization.Evaluation) { s.observe(state, eval) }),
	)
	if err != nil {
		return nil, err
	}

	// Create a cancellable context
	ctx, cancel := context.WithCancel(context.Background())
	state.Optimizer = optimizer
	state.CancelFunc = cancel

	s.optimizationsMu.Lock()
	s.optimizations[id] = state
	s.optimizationsMu.Unlock()

	s.logger.Info("Optimization started", map[string]interface{}{
		"optimization_id": id,
		"benchmark":       problem.Name,
		"budget":          state.Budget,
	})

	s.jobs.Add(1)
	go s.runOptimization(ctx, state, config)

	return map[string]interface{}{
		"optimization_id": id,
		"status":          StatusPending,
	}, nil
}

// observe updates progress after every evaluation.
func (s *Server) observe(state *OptimizationState, eval optimization.Evaluation) {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()
	state.Evaluations = eval.Iteration + 1
	state.Progress = float64(state.Evaluations) / float64(state.Budget)
	state.LastUpdated = time.Now()
	if eval.Error == nil && (state.BestSolution == nil || eval.Solution.Value < state.BestSolution.Value) {
		state.BestSolution = eval.Solution
	}
}

// runOptimization executes the optimization process in a goroutine
func (s *Server) runOptimization(ctx context.Context, state *OptimizationState, config optimization.OptimizerConfig) {
	defer s.jobs.Done()

	s.metrics.JobStarted()
	defer s.metrics.JobFinished()

	s.optimizationsMu.Lock()
	if state.Status == StatusPending {
		state.Status = StatusRunning
	}
	s.optimizationsMu.Unlock()

	result, err := state.Optimizer.Optimize(ctx, config)

	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	switch {
	case state.Status == StatusCancelled:
	case err != nil:
		s.logger.Error("Optimization failed", map[string]interface{}{
			"optimization_id": state.ID,
			"error":           err.Error(),
		})
		state.Status = StatusFailed
		state.Error = err.Error()
	default:
		state.Status = StatusCompleted
		state.BestSolution = result.BestSolution
		state.Progress = 1
		s.logger.Info("Optimization completed", map[string]interface{}{
			"optimization_id": state.ID,
			"best_value":      result.BestSolution.Value,
			"evaluations":     len(result.History),
		})
	}
}

// optimizationStatus returns the current status and results of a job.
func (s *Server) optimizationStatus(id string) (map[string]interface{}, error) {
	if id == "" {
		return nil, apierrors.BadRequest("optimization_id is required")
	}

	s.optimizationsMu.RLock()
	defer s.optimizationsMu.RUnlock()

	state, exists := s.optimizations[id]
	if !exists {
		return nil, apierrors.NotFound("optimization %q not found", id)
	}

	response := map[string]interface{}{
		"optimization_id": state.ID,
		"benchmark":       state.Benchmark,
		"status":          state.Status,
		"progress":        state.Progress,
		"evaluations":     state.Evaluations,
		"start_time":      state.StartTime.Format(time.RFC3339),
		"last_update":     state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Error != "" {
		response["error"] = state.Error
	}
	if state.BestSolution != nil {
		response["best_solution"] = map[string]interface{}{
			"parameters": state.BestSolution.Parameters,
			"value":      state.BestSolution.Value,
		}
	}

	if state.Optimizer != nil {
		history := state.Optimizer.GetHistory()
		if len(history) > 0 {
			historyData := make([]map[string]interface{}, 0, len(history))
			for _, eval := range history {
				if eval.Solution == nil {
					continue
				}
				historyData = append(historyData, map[string]interface{}{
					"iteration":  eval.Iteration,
					"origin":     eval.Origin,
					"parameters": eval.Solution.Parameters,
					"value":      eval.Solution.Value,
				})
			}
			response["history"] = historyData
		}
	}

	return response, nil
}

// cancelOptimization cancels a running job.
func (s *Server) cancelOptimization(id string) error {
	if id == "" {
		return apierrors.BadRequest("optimization_id is required")
	}

	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	state, exists := s.optimizations[id]
	if !exists {
		return apierrors.NotFound("optimization %q not found", id)
	}

	switch state.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return apierrors.Errorf("cannot cancel optimization with status: %s", state.Status).
			WithStatus(http.StatusConflict)
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}

	state.Status = StatusCancelled
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Optimization cancelled", map[string]interface{}{
		"optimization_id": id,
	})
	return nil
}

// handleOptimize handles the HTTP POST /optimize endpoint for starting a new optimization
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var params startParams
	if err := decodeJSON(r, &params); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}

	result, err := s.startOptimization(params)
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// handleStatus handles the HTTP GET /status/{id} endpoint for checking optimization status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.optimizationStatus(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCancel handles the HTTP DELETE /optimization/{id} endpoint for canceling an optimization
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelOptimization(chi.URLParam(r, "id")); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}
