package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jiejieje/alien-town/internal/agent"
	"github.com/jiejieje/alien-town/internal/dispatch"
	"github.com/jiejieje/alien-town/internal/embedding"
	"github.com/jiejieje/alien-town/internal/memory"
	"github.com/jiejieje/alien-town/internal/sim"
	"github.com/jiejieje/alien-town/internal/vectorstore"
	"github.com/jiejieje/alien-town/internal/world"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers. Stepper and town are
// required; the rest degrade to 503 when absent.
type Handler struct {
	stepper    *sim.Stepper
	town       *world.Town
	dispatcher *dispatch.Dispatcher
	embedder   embedding.Provider
	retriever  *memory.Retriever
	mirror     *vectorstore.Mirror
	relations  *world.RelationGraph
	persister  sim.Persister
	logger     *zap.Logger

	runMu   sync.Mutex
	runStop context.CancelFunc
}

// NewHandler creates a new API handler.
func NewHandler(stepper *sim.Stepper, town *world.Town, logger *zap.Logger) *Handler {
	return &Handler{
		stepper:   stepper,
		town:      town,
		retriever: memory.NewRetriever(memory.DefaultRetrievalConfig()),
		logger:    logger,
	}
}

// SetDispatcher exposes the creative job surface.
func (h *Handler) SetDispatcher(d *dispatch.Dispatcher) { h.dispatcher = d }

// SetEmbedder enables the retrieval and search endpoints.
func (h *Handler) SetEmbedder(p embedding.Provider) { h.embedder = p }

// SetMirror exposes cross-agent semantic search.
func (h *Handler) SetMirror(m *vectorstore.Mirror) { h.mirror = m }

// SetRelationGraph exposes the social tie surface.
func (h *Handler) SetRelationGraph(g *world.RelationGraph) { h.relations = g }

// SetPersister enables the checkpoint and resume endpoints.
func (h *Handler) SetPersister(p sim.Persister) { h.persister = p }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/town", h.townState)

		// Simulation control
		r.Post("/step", h.stepOnce)
		r.Post("/run/start", h.startRun)
		r.Post("/run/stop", h.stopRun)
		r.Post("/checkpoint", h.saveCheckpoint)
		r.Post("/resume", h.resumeCheckpoint)

		// Residents
		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.createAgent)
		r.Get("/agents/{id}", h.getAgent)
		r.Delete("/agents/{id}", h.removeAgent)
		r.Get("/agents/{id}/memories", h.listMemories)
		r.Get("/agents/{id}/retrieve", h.retrieveMemories)
		r.Get("/agents/{id}/relations", h.listRelations)

		// Creative jobs
		r.Get("/jobs", h.listJobs)
		r.Get("/jobs/{id}", h.getJob)

		// Cross-agent semantic search
		r.Get("/search", h.searchMemories)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "world": "alien-town"})
}

func (h *Handler) townState(w http.ResponseWriter, r *http.Request) {
	agents := h.stepper.Agents()
	snapshots := make([]agent.Snapshot, 0, len(agents))
	for _, a := range agents {
		snapshots = append(snapshots, a.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tick":    h.stepper.Tick(),
		"places":  h.town.Places(),
		"agents":  snapshots,
		"pending": h.pendingJobs(),
	})
}

func (h *Handler) pendingJobs() int {
	if h.dispatcher == nil {
		return 0
	}
	return h.dispatcher.Pending()
}

func (h *Handler) stepOnce(w http.ResponseWriter, r *http.Request) {
	if err := h.stepper.Step(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"tick": h.stepper.Tick()})
}

type runRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.IntervalSeconds <= 0 {
		req.IntervalSeconds = 30
	}

	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.runStop != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already running"})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.runStop = cancel
	go h.stepper.Run(ctx, time.Duration(req.IntervalSeconds)*time.Second)
	h.logger.Info("run started", zap.Int("interval_seconds", req.IntervalSeconds))
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (h *Handler) stopRun(w http.ResponseWriter, r *http.Request) {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.runStop == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "not running"})
		return
	}
	h.runStop()
	h.runStop = nil
	h.logger.Info("run stopped", zap.Int64("tick", h.stepper.Tick()))
	writeJSON(w, http.StatusOK, map[string]int64{"tick": h.stepper.Tick()})
}

func (h *Handler) saveCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.persister == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not configured"})
		return
	}
	cp := h.stepper.Checkpoint()
	if err := h.persister.Save(r.Context(), cp); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tick": cp.Tick, "agents": len(cp.Agents)})
}

func (h *Handler) resumeCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.persister == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence not configured"})
		return
	}
	cp, err := h.persister.Load(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.stepper.Resume(cp); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sim.ErrCorruptCheckpoint) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tick": cp.Tick, "agents": len(cp.Agents)})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.stepper.Agents()
	snapshots := make([]agent.Snapshot, 0, len(agents))
	for _, a := range agents {
		snapshots = append(snapshots, a.Snapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

type createAgentRequest struct {
	Name   string   `json:"name"`
	Traits []string `json:"traits"`
	X      int      `json:"x"`
	Y      int      `json:"y"`
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	a := agent.New(req.Name, req.Traits, world.Position{X: req.X, Y: req.Y})
	if err := h.stepper.AddAgent(a); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, a.Snapshot())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.stepper.Agent(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, a.Snapshot())
}

func (h *Handler) removeAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.stepper.RemoveAgent(chi.URLParam(r, "id")); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	a, err := h.stepper.Agent(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, a.Memories.All())
}

func (h *Handler) retrieveMemories(w http.ResponseWriter, r *http.Request) {
	if h.embedder == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "embedding not configured"})
		return
	}
	a, err := h.stepper.Agent(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	k := 8
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = n
		}
	}
	vec, err := embedding.One(r.Context(), h.embedder, query)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	records := h.retriever.Retrieve(a.Memories, vec, h.stepper.Tick(), k)
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) listRelations(w http.ResponseWriter, r *http.Request) {
	if h.relations == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "relation graph not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.stepper.Agent(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	ties, err := h.relations.TiesOf(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ties)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dispatcher not configured"})
		return
	}
	writeJSON(w, http.StatusOK, h.dispatcher.Jobs())
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dispatcher not configured"})
		return
	}
	job, ok := h.dispatcher.Job(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) searchMemories(w http.ResponseWriter, r *http.Request) {
	if h.mirror == nil || h.embedder == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "semantic search not configured"})
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	k := 10
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = n
		}
	}
	vec, err := embedding.One(r.Context(), h.embedder, query)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	hits, err := h.mirror.Search(r.Context(), vec, k)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
