package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/COSD/internal/config"
	"github.com/COSD/internal/coserr"
	"github.com/COSD/internal/events"
	"github.com/COSD/internal/learning"
	"github.com/COSD/internal/productivity"
	"github.com/COSD/internal/tasks"
	"github.com/COSD/internal/types"
)

type fakeControl struct {
	running bool
	paused  bool
	reason  string
	evals   int
	checks  int
}

func (f *fakeControl) Start() error {
	if f.running {
		return coserr.New(coserr.KindConflict, "fake.Start", "already running")
	}
	f.running = true
	return nil
}

func (f *fakeControl) Stop() error {
	if !f.running {
		return coserr.New(coserr.KindConflict, "fake.Stop", "not running")
	}
	f.running = false
	return nil
}

func (f *fakeControl) Pause(reason string) { f.paused, f.reason = true, reason }
func (f *fakeControl) Resume()             { f.paused, f.reason = false, "" }
func (f *fakeControl) ForceEvaluate() error {
	f.evals++
	return nil
}
func (f *fakeControl) RunHealthCheck() { f.checks++ }
func (f *fakeControl) Status() types.StatusReport {
	return types.StatusReport{Running: f.running, Paused: f.paused, PauseReason: f.reason}
}

type fakeAgents struct {
	agents map[string]*types.Agent
}

func (f *fakeAgents) List(limit int) []*types.Agent {
	out := make([]*types.Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out
}

func (f *fakeAgents) Get(id string) (*types.Agent, error) {
	if a, ok := f.agents[id]; ok {
		return a, nil
	}
	return nil, coserr.New(coserr.KindNotFound, "fake.Get", "no agent %q", id)
}

func (f *fakeAgents) Terminate(id string) error {
	if _, ok := f.agents[id]; !ok {
		return coserr.New(coserr.KindNotFound, "fake.Terminate", "no agent %q", id)
	}
	return nil
}

func (f *fakeAgents) Kill(id string) error   { return f.Terminate(id) }
func (f *fakeAgents) Delete(id string) error { return f.Terminate(id) }
func (f *fakeAgents) ClearCompleted() (int, error) {
	n := len(f.agents)
	f.agents = map[string]*types.Agent{}
	return n, nil
}
func (f *fakeAgents) Stats() types.AgentStats {
	return types.AgentStats{Total: len(f.agents)}
}

func newTestServer(t *testing.T) (*Server, *fakeControl, *fakeAgents) {
	t.Helper()
	dir := t.TempDir()

	bus := events.NewBus(nil)
	store := tasks.NewStore(bus, filepath.Join(dir, "user.yaml"), filepath.Join(dir, "internal.yaml"))
	store.Load()

	control := &fakeControl{running: true}
	agents := &fakeAgents{agents: map[string]*types.Agent{
		"agent-1": {ID: "agent-1", Status: types.StatusRunning},
	}}

	srv := New(config.Default(), filepath.Join(dir, "config.json"), bus, control, agents,
		store, learning.NewStore(""), productivity.NewStore(""))
	return srv, control, agents
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), "GET", "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var report types.StatusReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if !report.Running {
		t.Error("expected running")
	}
}

func TestControlEndpoints(t *testing.T) {
	srv, control, _ := newTestServer(t)
	h := srv.Handler()

	if rec := doJSON(t, h, "POST", "/api/control/start", nil); rec.Code != http.StatusConflict {
		t.Errorf("start while running: code %d", rec.Code)
	}
	if rec := doJSON(t, h, "POST", "/api/control/pause", map[string]string{"reason": "maintenance"}); rec.Code != http.StatusOK {
		t.Errorf("pause: code %d", rec.Code)
	}
	if !control.paused || control.reason != "maintenance" {
		t.Errorf("pause state: %+v", control)
	}
	if rec := doJSON(t, h, "POST", "/api/control/resume", nil); rec.Code != http.StatusOK {
		t.Errorf("resume: code %d", rec.Code)
	}
	if rec := doJSON(t, h, "POST", "/api/control/evaluate", nil); rec.Code != http.StatusOK {
		t.Errorf("evaluate: code %d", rec.Code)
	}
	if control.evals != 1 {
		t.Errorf("evals: %d", control.evals)
	}
	if rec := doJSON(t, h, "POST", "/api/control/stop", nil); rec.Code != http.StatusOK {
		t.Errorf("stop: code %d", rec.Code)
	}
}

func TestTaskEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/tasks/user", map[string]interface{}{
		"id":          "t1",
		"description": "fix the login flow",
		"priority":    "HIGH",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add: code %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/api/tasks/user", nil)
	var list []*tasks.Task
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ID != "t1" {
		t.Fatalf("list: %s", rec.Body.String())
	}

	rec = doJSON(t, h, "PATCH", "/api/tasks/user/t1", map[string]interface{}{
		"priority": "CRITICAL",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: code %d", rec.Code)
	}
	var updated tasks.Task
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Priority != tasks.PriorityCritical {
		t.Errorf("priority: %s", updated.Priority)
	}

	if rec := doJSON(t, h, "GET", "/api/tasks/user/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get missing: code %d", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/tasks/nonsense", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad queue: code %d", rec.Code)
	}
	if rec := doJSON(t, h, "DELETE", "/api/tasks/user/t1", nil); rec.Code != http.StatusOK {
		t.Errorf("delete: code %d", rec.Code)
	}
}

func TestApproveEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, "POST", "/api/tasks/user", map[string]interface{}{
		"id": "gated", "description": "needs signoff", "approvalRequired": true,
	})

	rec := doJSON(t, h, "POST", "/api/tasks/user/gated/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: code %d body %s", rec.Code, rec.Body.String())
	}

	// Approving twice conflicts
	if rec := doJSON(t, h, "POST", "/api/tasks/user/gated/approve", nil); rec.Code != http.StatusConflict {
		t.Errorf("double approve: code %d", rec.Code)
	}
}

func TestReorderEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	for _, id := range []string{"a", "b", "c"} {
		doJSON(t, h, "POST", "/api/tasks/user", map[string]interface{}{"id": id, "description": id})
	}

	rec := doJSON(t, h, "POST", "/api/tasks/user/reorder", map[string]interface{}{
		"ids": []string{"c", "a", "b"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reorder: code %d", rec.Code)
	}
	var list []*tasks.Task
	json.Unmarshal(rec.Body.Bytes(), &list)
	if list[0].ID != "c" || list[1].ID != "a" || list[2].ID != "b" {
		t.Errorf("order: %v %v %v", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestAgentEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	if rec := doJSON(t, h, "GET", "/api/agents/agent-1", nil); rec.Code != http.StatusOK {
		t.Errorf("get agent: code %d", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/agents/ghost", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get missing agent: code %d", rec.Code)
	}
	if rec := doJSON(t, h, "POST", "/api/agents/agent-1/terminate", nil); rec.Code != http.StatusOK {
		t.Errorf("terminate: code %d", rec.Code)
	}
	if rec := doJSON(t, h, "POST", "/api/agents/clear-completed", nil); rec.Code != http.StatusOK {
		t.Errorf("clear: code %d", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/agents/stats", nil); rec.Code != http.StatusOK {
		t.Errorf("stats: code %d", rec.Code)
	}
}

func TestConfigEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "PUT", "/api/config", map[string]interface{}{
		"maxConcurrentAgents": 5,
		"evaluationIntervalMs": -10, // invalid, must be clamped
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update config: code %d", rec.Code)
	}
	var cfg config.Config
	json.Unmarshal(rec.Body.Bytes(), &cfg)
	if cfg.MaxConcurrentAgents != 5 {
		t.Errorf("maxConcurrentAgents: %d", cfg.MaxConcurrentAgents)
	}
	if cfg.EvaluationIntervalMs <= 0 {
		t.Errorf("interval should be clamped, got %d", cfg.EvaluationIntervalMs)
	}
}

func TestWebSocketStream(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)
	unsub := srv.bus.SubscribeAll(srv.hub.BroadcastEvent)
	defer unsub()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// First frame is the status snapshot
	var first types.WSMessage
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "status" {
		t.Errorf("first frame type %q", first.Type)
	}

	// Bus events arrive as typed frames
	srv.bus.Publish(events.TopicAgentOutput, map[string]interface{}{"agentId": "a1", "line": "hello"})

	var frame types.WSMessage
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "agent:output" {
		t.Errorf("frame type %q", frame.Type)
	}
}
