package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/copyleftdev/smbo/internal/errors"
	"github.com/copyleftdev/smbo/internal/logging"
	"github.com/copyleftdev/smbo/internal/optimization"
	"github.com/copyleftdev/smbo/internal/optimization/bayesian"
	"github.com/copyleftdev/smbo/internal/optimization/kernels"
	"github.com/copyleftdev/smbo/internal/optimization/smbo"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

const maxSuggestCount = 1000

// Study is an ask/tell optimization session over one space. Observations
// are told by the client; suggestions come from ChooseNext over the full
// history.
type Study struct {
	ID        string
	Name      string
	Space     *space.Space
	CreatedAt time.Time

	mu           sync.Mutex
	engine       *smbo.SMBO
	observations []Observation
	x            [][]float64
	y            []float64
	best         int
}

// Observation is one evaluated configuration.
type Observation struct {
	Values map[string]interface{} `json:"values"`
	Cost   float64                `json:"cost"`
}

// Suggestion is one configuration proposed to the client.
type Suggestion struct {
	Values  map[string]interface{} `json:"values"`
	Origin  string                 `json:"origin"`
	Utility float64                `json:"utility"`
}

type createStudyParams struct {
	Name string `json:"name"`
	// Space is a definition object or a YAML/JSON document string.
	Space json.RawMessage `json:"space"`
	Seed  int64           `json:"seed"`
}

type studyIDParams struct {
	StudyID string `json:"study_id"`
}

type tellParams struct {
	StudyID string                 `json:"study_id"`
	Values  map[string]interface{} `json:"values"`
	Cost    float64                `json:"cost"`
}

type suggestParams struct {
	StudyID string `json:"study_id"`
	Count   int    `json:"count"`
}

// parseSpace accepts a definition object or a string holding a YAML or
// JSON document.
func parseSpace(raw json.RawMessage) (*space.Space, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, apierrors.BadRequest("space is required")
	}
	var doc string
	if err := json.Unmarshal(raw, &doc); err == nil {
		return space.ParseYAML([]byte(doc))
	}
	return space.ParseYAML(raw)
}

// createStudy compiles the space and builds the study's engine.
func (s *Server) createStudy(name string, sp *space.Space, seed int64) (*Study, error) {
	if sp.Dim() == 0 {
		return nil, optimization.NewError(optimization.KindInvalidSpace, "space has no hyperparameters").
			WithComponent("server").WithOperation("createStudy")
	}
	acq, err := s.newAcquisition()
	if err != nil {
		return nil, err
	}

	logger := zapOf(s.logger)
	gp := bayesian.NewGP(kernels.NewMatern52Kernel(0.5, 1.0), 1e-6, bayesian.WithLogger(logger))
	opts := append(s.cfg.SMBOOptions(), smbo.WithLogger(logger), smbo.WithMetrics(s.metrics))
	engine, err := smbo.New(sp, gp, acq, s.seed(seed), opts...)
	if err != nil {
		return nil, err
	}

	st := &Study{
		ID:        s.nextID("study"),
		Name:      name,
		Space:     sp,
		CreatedAt: time.Now(),
		engine:    engine,
		best:      -1,
	}
	if st.Name == "" {
		st.Name = sp.Name()
	}

	s.studiesMu.Lock()
	s.studies[st.ID] = st
	s.studiesMu.Unlock()

	s.logger.Info("Study created", map[string]interface{}{
		"study_id":   st.ID,
		"dimensions": sp.Dim(),
	})
	return st, nil
}

func (s *Server) study(id string) (*Study, error) {
	if id == "" {
		return nil, apierrors.BadRequest("study_id is required")
	}
	s.studiesMu.RLock()
	defer s.studiesMu.RUnlock()
	st, ok := s.studies[id]
	if !ok {
		return nil, apierrors.NotFound("study %q not found", id)
	}
	return st, nil
}

func (s *Server) deleteStudy(id string) error {
	s.studiesMu.Lock()
	defer s.studiesMu.Unlock()
	if _, ok := s.studies[id]; !ok {
		return apierrors.NotFound("study %q not found", id)
	}
	delete(s.studies, id)
	return nil
}

// Tell records an observation. The best observation so far becomes the
// engine's incumbent.
func (st *Study) Tell(values map[string]interface{}, cost float64) (int, error) {
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return 0, optimization.NewErrorf(optimization.KindInvalidInput, "cost must be finite, got %v", cost).
			WithComponent("server").WithOperation("Study.Tell")
	}
	c, err := st.Space.FromValues(values)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.observations = append(st.observations, Observation{Values: st.Space.Values(c), Cost: cost})
	st.x = append(st.x, c.Array())
	st.y = append(st.y, cost)
	if st.best < 0 || cost < st.y[st.best] {
		st.best = len(st.y) - 1
		st.engine.SetIncumbent(c, cost)
	}
	return len(st.y), nil
}

// Suggest returns the first k challengers for the current history. A study
// without observations gets its default configuration followed by random
// samples.
func (st *Study) Suggest(ctx context.Context, k int) ([]Suggestion, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.x) == 0 {
		configs := []*space.Configuration{st.Space.Default()}
		if k > 1 {
			more, err := st.Space.SampleConfiguration(st.engine.RNG(), k-1)
			if err != nil {
				return nil, err
			}
			configs = append(configs, more...)
		}
		out := make([]Suggestion, 0, k)
		for i, c := range configs[:k] {
			origin := smbo.OriginRandomSearch
			if i == 0 {
				origin = smbo.OriginDefault
			}
			out = append(out, Suggestion{Values: st.Space.Values(c), Origin: origin})
		}
		return out, nil
	}

	challengers, err := st.engine.ChooseNext(ctx, st.x, st.y)
	if err != nil {
		return nil, err
	}
	defer challengers.Close()

	taken, err := challengers.Take(k)
	if err != nil {
		return nil, err
	}
	out := make([]Suggestion, len(taken))
	for i, ch := range taken {
		out[i] = Suggestion{
			Values:  st.Space.Values(ch.Config),
			Origin:  ch.Origin,
			Utility: ch.Utility,
		}
	}
	return out, nil
}

// version is the number of observations, which identifies the history a
// suggestion was computed from.
func (st *Study) version() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.y)
}

// Summary is the JSON view of a study.
func (st *Study) Summary() map[string]interface{} {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := map[string]interface{}{
		"study_id":     st.ID,
		"name":         st.Name,
		"space":        st.Space.Definition(),
		"created_at":   st.CreatedAt.Format(time.RFC3339),
		"observations": len(st.observations),
	}
	if st.best >= 0 {
		out["best"] = st.observations[st.best]
	}
	return out
}

// suggest coalesces identical concurrent asks on the same history.
func (s *Server) suggest(ctx context.Context, id string, k int) ([]Suggestion, error) {
	if k <= 0 {
		k = 1
	}
	if k > maxSuggestCount {
		return nil, apierrors.BadRequest("count must be at most %d", maxSuggestCount)
	}
	st, err := s.study(id)
	if err != nil {
		return nil, err
	}

	// The shared call serves every waiter, so it must not end with the
	// request that happened to start it.
	key := fmt.Sprintf("%s/%d/%d", id, st.version(), k)
	v, err, shared := s.asks.Do(key, func() (interface{}, error) {
		return st.Suggest(context.WithoutCancel(ctx), k)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logging.FromContext(ctx).Debug("Suggestion shared with a concurrent request", map[string]interface{}{
			"study_id": id,
		})
	}
	return v.([]Suggestion), nil
}

// handleCreateStudy handles POST /api/v1/studies. A YAML body is the space
// definition itself; a JSON body carries name, space and seed.
func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var (
		params createStudyParams
		sp     *space.Space
		err    error
	)
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		var body []byte
		if body, err = io.ReadAll(r.Body); err != nil {
			apierrors.WriteJSON(w, apierrors.BadRequest("failed to read body: %v", err))
			return
		}
		params.Name = r.URL.Query().Get("name")
		if seed := r.URL.Query().Get("seed"); seed != "" {
			if params.Seed, err = strconv.ParseInt(seed, 10, 64); err != nil {
				apierrors.WriteJSON(w, apierrors.BadRequest("invalid seed %q", seed))
				return
			}
		}
		sp, err = space.ParseYAML(body)
	} else {
		if err = decodeJSON(r, &params); err != nil {
			apierrors.WriteJSON(w, err)
			return
		}
		sp, err = parseSpace(params.Space)
	}
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}

	st, err := s.createStudy(params.Name, sp, params.Seed)
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st.Summary())
}

func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	st, err := s.study(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Summary())
}

func (s *Server) handleDeleteStudy(w http.ResponseWriter, r *http.Request) {
	if err := s.deleteStudy(chi.URLParam(r, "id")); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTell handles POST /api/v1/studies/{id}/observations.
func (s *Server) handleTell(w http.ResponseWriter, r *http.Request) {
	var obs Observation
	if err := decodeJSON(r, &obs); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	st, err := s.study(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	n, err := st.Tell(obs.Values, obs.Cost)
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"study_id":     st.ID,
		"observations": n,
	})
}

// handleSuggest handles GET /api/v1/studies/{id}/suggest?count=k.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	k := 1
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			apierrors.WriteJSON(w, apierrors.BadRequest("count must be a positive integer, got %q", v))
			return
		}
		k = n
	}

	suggestions, err := s.suggest(r.Context(), chi.URLParam(r, "id"), k)
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"study_id":    chi.URLParam(r, "id"),
		"suggestions": suggestions,
	})
}
