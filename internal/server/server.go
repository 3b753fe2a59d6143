// Package server exposes the daemon's control surface over HTTP and pushes
// bus events to WebSocket subscribers.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/COSD/internal/config"
	"github.com/COSD/internal/events"
	"github.com/COSD/internal/learning"
	"github.com/COSD/internal/productivity"
	"github.com/COSD/internal/tasks"
	"github.com/COSD/internal/types"
)

// AgentManager is the slice of the supervisor the handlers need
type AgentManager interface {
	List(limit int) []*types.Agent
	Get(id string) (*types.Agent, error)
	Terminate(id string) error
	Kill(id string) error
	Delete(id string) error
	ClearCompleted() (int, error)
	Stats() types.AgentStats
}

// Control is the slice of the scheduler the handlers need
type Control interface {
	Start() error
	Stop() error
	Pause(reason string)
	Resume()
	Status() types.StatusReport
	ForceEvaluate() error
	RunHealthCheck()
}

// Server is the HTTP control surface
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub

	cfg          *config.Config
	cfgPath      string
	bus          *events.Bus
	control      Control
	agents       AgentManager
	tasks        *tasks.Store
	learning     *learning.Store
	productivity *productivity.Store

	unsubscribe func()
}

// New wires the control surface. cfgPath is where config updates persist.
func New(cfg *config.Config, cfgPath string, bus *events.Bus, control Control, agents AgentManager,
	taskStore *tasks.Store, learn *learning.Store, prod *productivity.Store) *Server {
	s := &Server{
		hub:          NewHub(),
		cfg:          cfg,
		cfgPath:      cfgPath,
		bus:          bus,
		control:      control,
		agents:       agents,
		tasks:        taskStore,
		learning:     learn,
		productivity: prod,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/control/start", s.handleStart).Methods("POST")
	api.HandleFunc("/control/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/control/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/control/resume", s.handleResume).Methods("POST")
	api.HandleFunc("/control/evaluate", s.handleForceEvaluate).Methods("POST")
	api.HandleFunc("/control/health-check", s.handleHealthCheck).Methods("POST")

	api.HandleFunc("/tasks/{queue}", s.handleListTasks).Methods("GET")
	api.HandleFunc("/tasks/{queue}", s.handleAddTask).Methods("POST")
	api.HandleFunc("/tasks/{queue}/reorder", s.handleReorderTasks).Methods("POST")
	api.HandleFunc("/tasks/{queue}/{id}", s.handleGetTask).Methods("GET")
	api.HandleFunc("/tasks/{queue}/{id}", s.handleUpdateTask).Methods("PATCH")
	api.HandleFunc("/tasks/{queue}/{id}", s.handleDeleteTask).Methods("DELETE")
	api.HandleFunc("/tasks/{queue}/{id}/approve", s.handleApproveTask).Methods("POST")

	api.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	api.HandleFunc("/agents/stats", s.handleAgentStats).Methods("GET")
	api.HandleFunc("/agents/clear-completed", s.handleClearCompleted).Methods("POST")
	api.HandleFunc("/agents/{id}", s.handleGetAgent).Methods("GET")
	api.HandleFunc("/agents/{id}", s.handleDeleteAgent).Methods("DELETE")
	api.HandleFunc("/agents/{id}/terminate", s.handleTerminateAgent).Methods("POST")
	api.HandleFunc("/agents/{id}/kill", s.handleKillAgent).Methods("POST")

	api.HandleFunc("/learning/stats", s.handleLearningStats).Methods("GET")
	api.HandleFunc("/learning/skipped", s.handleLearningSkipped).Methods("GET")
	api.HandleFunc("/productivity/summary", s.handleProductivitySummary).Methods("GET")
	api.HandleFunc("/productivity/insights", s.handleProductivityInsights).Methods("GET")
	api.HandleFunc("/productivity/trends", s.handleProductivityTrends).Methods("GET")

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub, the bus forwarder, and the HTTP listener. It blocks
// until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)
	s.unsubscribe = s.bus.SubscribeAll(s.hub.BroadcastEvent)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("[SERVER] Listening on http://%s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener and the event forwarder
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
