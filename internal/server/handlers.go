package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/COSD/internal/coserr"
	"github.com/COSD/internal/tasks"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and streams bus events
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsBufferSize),
	}
	s.hub.Register(client)

	// New subscribers get the current status immediately
	data, _ := json.Marshal(map[string]interface{}{
		"type": "status",
		"data": s.control.Status(),
	})
	client.send <- data

	go client.readPump()
	go client.writePump()
}

// Control handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.control.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Start(); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, s.control.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Stop(); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, s.control.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "manual"
	}
	s.control.Pause(req.Reason)
	s.respondJSON(w, s.control.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control.Resume()
	s.respondJSON(w, s.control.Status())
}

func (s *Server) handleForceEvaluate(w http.ResponseWriter, r *http.Request) {
	if err := s.control.ForceEvaluate(); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, s.control.Status())
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.control.RunHealthCheck()
	s.respondJSON(w, map[string]string{"status": "ok"})
}

// Task handlers

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	queue, err := parseQueue(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, s.tasks.List(queue))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	queue, err := parseQueue(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	task, err := s.tasks.Get(queue, mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, task)
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	queue, err := parseQueue(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var req struct {
		tasks.Task
		Position tasks.Position `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task := req.Task
	if task.ID == "" {
		task.ID = tasks.NewTask(task.Description, task.Priority).ID
	}
	if task.Status == "" {
		task.Status = tasks.StatusPending
	}
	if task.Priority == "" {
		task.Priority = tasks.PriorityMedium
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	pos := req.Position
	if pos == "" {
		pos = tasks.PositionBottom
	}

	if err := s.tasks.Add(queue, &task, pos); err != nil {
		s.respondErr(w, err)
		return
	}
	created, err := s.tasks.Get(queue, task.ID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, created)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	queue, err := parseQueue(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var patch tasks.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := s.tasks.Update(queue, mux.Vars(r)["id"], patch)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	queue, err := parseQueue(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.tasks.Delete(queue, mux.Vars(r)["id"]); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleReorderTasks(w http.ResponseWriter, r *http.Request) {
	queue, err := parseQueue(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.tasks.Reorder(queue, req.IDs); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, s.tasks.List(queue))
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	queue, err := parseQueue(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	task, err := s.tasks.Approve(queue, mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, task)
}

// Agent handlers

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			limit = n
		}
	}
	s.respondJSON(w, s.agents.List(limit))
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.agents.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, agent)
}

func (s *Server) handleTerminateAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.agents.Terminate(mux.Vars(r)["id"]); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, map[string]string{"status": "terminating"})
}

func (s *Server) handleKillAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.agents.Kill(mux.Vars(r)["id"]); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, map[string]string{"status": "killing"})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.agents.Delete(mux.Vars(r)["id"]); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed, err := s.agents.ClearCompleted()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, map[string]int{"removed": removed})
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.agents.Stats())
}

// Learning and productivity handlers

func (s *Server) handleLearningStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.learning.GetAllStats())
}

func (s *Server) handleLearningSkipped(w http.ResponseWriter, r *http.Request) {
	skipped := s.learning.GetSkipped()
	if skipped == nil {
		skipped = []string{}
	}
	s.respondJSON(w, skipped)
}

func (s *Server) handleProductivitySummary(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.productivity.GetSummary())
}

func (s *Server) handleProductivityInsights(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.productivity.GetInsights())
}

func (s *Server) handleProductivityTrends(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.productivity.GetTrends())
}

// Config handlers

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	updated := *s.cfg
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated.Clamp()

	*s.cfg = updated
	if s.cfgPath != "" {
		if err := s.cfg.Save(s.cfgPath); err != nil {
			s.respondErr(w, err)
			return
		}
	}
	s.respondJSON(w, s.cfg)
}

// Helpers

func parseQueue(r *http.Request) (tasks.Queue, error) {
	switch mux.Vars(r)["queue"] {
	case string(tasks.QueueUser):
		return tasks.QueueUser, nil
	case string(tasks.QueueInternal):
		return tasks.QueueInternal, nil
	default:
		return "", coserr.New(coserr.KindValidation, "server.parseQueue", "unknown queue %q", mux.Vars(r)["queue"])
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// respondErr maps error kinds to HTTP statuses
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch coserr.KindOf(err) {
	case coserr.KindNotFound:
		status = http.StatusNotFound
	case coserr.KindValidation:
		status = http.StatusBadRequest
	case coserr.KindConflict:
		status = http.StatusConflict
	case coserr.KindExternal:
		status = http.StatusBadGateway
	}
	s.respondError(w, status, err.Error())
}
