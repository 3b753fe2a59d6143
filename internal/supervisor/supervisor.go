// Package supervisor owns the full lifecycle of agent child processes:
// spawn, output capture, liveness monitoring, termination, and the
// persisted record of every run.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/COSD/internal/config"
	"github.com/COSD/internal/coserr"
	"github.com/COSD/internal/events"
	"github.com/COSD/internal/learning"
	"github.com/COSD/internal/procmon"
	"github.com/COSD/internal/productivity"
	"github.com/COSD/internal/tasks"
	"github.com/COSD/internal/types"
	"github.com/COSD/internal/worktree"
)

const (
	firstLineTimeout = 2 * time.Second
	monitorInterval  = 5 * time.Second
	zombieThreshold  = 2
)

type eventKind int

const (
	evOutput eventKind = iota
	evExit
	evMonitor
	evRunning
	evTerminate
	evKill
)

// agentEvent is one message into a per-agent coordinator
type agentEvent struct {
	kind    eventKind
	at      time.Time
	line    string
	exitErr error
	stats   procmon.Stats
}

// handle is the supervisor's private view of one live agent
type handle struct {
	agent  *types.Agent // guarded by Supervisor.mu
	ring   *outputRing
	cmd    *exec.Cmd
	events chan agentEvent
	done   chan struct{}
}

// ProcessMonitor is the liveness sampler the supervisor polls for each
// live agent. procmon.Monitor is the production implementation.
type ProcessMonitor interface {
	Sample(ctx context.Context, pid int) procmon.Stats
	Forget(pid int)
}

// Supervisor manages all agents. The scheduler is the only caller of Spawn.
type Supervisor struct {
	cfg          *config.Config
	bus          *events.Bus
	store        *RecordStore
	monitor      ProcessMonitor
	worktrees    *worktree.Manager
	learning     *learning.Store
	productivity *productivity.Store
	promptsDir   string
	monitorEvery time.Duration

	// Router resolves the model for each spawn; defaults to DefaultRouter
	Router Router

	mu     sync.RWMutex
	agents map[string]*handle

	zombieMu     sync.Mutex
	zombieKilled []string
}

// New creates a supervisor
func New(cfg *config.Config, bus *events.Bus, store *RecordStore, monitor ProcessMonitor,
	worktrees *worktree.Manager, learn *learning.Store, prod *productivity.Store, promptsDir string) *Supervisor {
	return &Supervisor{
		cfg:          cfg,
		bus:          bus,
		store:        store,
		monitor:      monitor,
		worktrees:    worktrees,
		learning:     learn,
		productivity: prod,
		promptsDir:   promptsDir,
		monitorEvery: monitorInterval,
		Router:       DefaultRouter,
		agents:       make(map[string]*handle),
	}
}

// ActiveCount returns the number of non-completed agents
func (s *Supervisor) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// Active returns copies of all live agents
func (s *Supervisor) Active() []*types.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Agent, 0, len(s.agents))
	for _, h := range s.agents {
		a := h.agent.Clone()
		a.Output = h.ring.Snapshot()
		out = append(out, a)
	}
	return out
}

// HasLiveForTask reports whether any live agent references taskID
func (s *Supervisor) HasLiveForTask(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.agents {
		if h.agent.TaskID == taskID {
			return true
		}
	}
	return false
}

// List returns live agents plus up to limit archived completed ones
func (s *Supervisor) List(limit int) []*types.Agent {
	out := s.Active()
	out = append(out, s.store.LoadRecent(limit)...)
	return out
}

// Get returns one agent, live or archived
func (s *Supervisor) Get(id string) (*types.Agent, error) {
	s.mu.RLock()
	if h, ok := s.agents[id]; ok {
		a := h.agent.Clone()
		a.Output = h.ring.Snapshot()
		s.mu.RUnlock()
		return a, nil
	}
	s.mu.RUnlock()

	for _, a := range s.store.LoadRecent(0) {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, coserr.New(coserr.KindNotFound, "supervisor.Get", "no agent %q", id)
}

// Stats aggregates outcomes across archived and live agents
func (s *Supervisor) Stats() types.AgentStats {
	return s.store.Stats(s.ActiveCount())
}

// Health samples every live agent through the process monitor
func (s *Supervisor) Health() []types.AgentHealth {
	s.mu.RLock()
	live := make([]*types.Agent, 0, len(s.agents))
	for _, h := range s.agents {
		live = append(live, h.agent.Clone())
	}
	s.mu.RUnlock()

	out := make([]types.AgentHealth, 0, len(live))
	for _, a := range live {
		stats := s.monitor.Sample(context.Background(), a.PID)
		out = append(out, types.AgentHealth{
			AgentID:    a.ID,
			TaskID:     a.TaskID,
			PID:        a.PID,
			Active:     stats.Active,
			CPUPercent: stats.CPUPercent,
			RSSMB:      stats.RSSMB,
		})
	}
	return out
}

func (s *Supervisor) recordZombieKill(agentID string) {
	s.zombieMu.Lock()
	s.zombieKilled = append(s.zombieKilled, agentID)
	s.zombieMu.Unlock()
}

// DrainZombieKills returns the agents force-killed as zombies since the
// previous call, so the next health check can report them
func (s *Supervisor) DrainZombieKills() []string {
	s.zombieMu.Lock()
	defer s.zombieMu.Unlock()
	out := s.zombieKilled
	s.zombieKilled = nil
	return out
}

// Spawn launches an agent for a task and returns its id. The concurrency
// cap is enforced here as the last line of defense; the scheduler should
// already have checked it.
func (s *Supervisor) Spawn(task *tasks.Task) (string, error) {
	if s.ActiveCount() >= s.cfg.MaxConcurrentAgents {
		return "", coserr.New(coserr.KindConflict, "supervisor.Spawn", "concurrency cap %d reached", s.cfg.MaxConcurrentAgents)
	}

	now := time.Now()
	agentID := types.NewAgentID(now)
	taskType := task.Meta("taskType")
	route := s.Router(task, taskType)

	agent := &types.Agent{
		ID:        agentID,
		TaskID:    task.ID,
		Queue:     string(task.Queue),
		Status:    types.StatusInitializing,
		Phase:     types.PhaseInitializing,
		StartedAt: now,
		Metadata: types.AgentMetadata{
			Model:           route.Model,
			ModelTier:       route.Tier,
			ModelReason:     route.Reason,
			TaskDescription: task.Description,
			TaskType:        taskType,
			App:             task.Meta("app"),
			JiraTicketID:    task.Meta("jiraTicketId"),
		},
	}

	workspace := task.Meta("workspace")
	if workspace == "" {
		workspace = s.cfg.WorkspacePath
	}
	agent.Metadata.WorkspacePath = workspace

	// Worktree isolation is best-effort: on failure run in the shared tree
	if s.cfg.UseWorktrees && s.worktrees != nil && workspace != "" {
		if res, err := s.worktrees.Create(agentID, workspace, task.ID, task.Meta("baseBranch")); err != nil {
			log.Printf("[SUPERVISOR] Worktree for %s failed, spawning without isolation: %v", agentID, err)
		} else {
			agent.Metadata.SourceRepo = workspace
			agent.Metadata.WorkspacePath = res.WorktreePath
			agent.Metadata.WorktreeBranch = res.BranchName
		}
	}

	h := &handle{
		agent:  agent,
		ring:   newOutputRing(s.cfg.OutputBufferBytes),
		events: make(chan agentEvent, 64),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.agents[agentID] = h
	s.mu.Unlock()
	s.saveLive()

	if s.learning != nil && taskType != "" {
		s.learning.OnAttemptSync(taskType, route.Model, string(route.Tier))
	}

	if err := s.launch(h, task); err != nil {
		log.Printf("[SUPERVISOR] Spawn of %s failed: %v", agentID, err)
		s.finalize(h, types.AgentResult{Success: false, Error: "spawn_failed", ExitCode: -1})
		return agentID, nil
	}

	go s.coordinate(h)
	return agentID, nil
}

// launch builds the argv from the configured template and starts the child
func (s *Supervisor) launch(h *handle, task *tasks.Task) error {
	promptPath, err := WritePrompt(s.promptsDir, h.agent.ID, task.Description)
	if err != nil {
		return err
	}

	argv := make([]string, 0, len(s.cfg.DefaultAgentCommand))
	replacer := strings.NewReplacer(
		"{promptPath}", promptPath,
		"{workspace}", h.agent.Metadata.WorkspacePath,
		"{model}", h.agent.Metadata.Model,
	)
	for _, arg := range s.cfg.DefaultAgentCommand {
		argv = append(argv, replacer.Replace(arg))
	}
	if len(argv) == 0 {
		return coserr.New(coserr.KindValidation, "supervisor.launch", "defaultAgentCommand is empty")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if h.agent.Metadata.WorkspacePath != "" {
		cmd.Dir = h.agent.Metadata.WorkspacePath
	}
	prepareCommand(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return coserr.Wrap(coserr.KindChildProcess, "supervisor.launch", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return coserr.Wrap(coserr.KindChildProcess, "supervisor.launch", err)
	}

	if err := cmd.Start(); err != nil {
		return coserr.Wrap(coserr.KindChildProcess, "supervisor.launch", err)
	}

	h.cmd = cmd
	s.mu.Lock()
	h.agent.PID = cmd.Process.Pid
	s.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	for _, pipe := range []io.Reader{stdout, stderr} {
		go func(r io.Reader) {
			defer readers.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				h.events <- agentEvent{kind: evOutput, at: time.Now(), line: scanner.Text()}
			}
		}(pipe)
	}

	// Exit is reported only after both readers drain, so the coordinator
	// sees every output line before the exit event
	go func() {
		readers.Wait()
		err := cmd.Wait()
		h.events <- agentEvent{kind: evExit, at: time.Now(), exitErr: err}
	}()

	return nil
}

// coordinate is the per-agent event loop. All state transitions for one
// agent happen here, in arrival order.
func (s *Supervisor) coordinate(h *handle) {
	firstLine := time.NewTimer(firstLineTimeout)
	defer firstLine.Stop()
	monitor := time.NewTicker(s.monitorEvery)
	defer monitor.Stop()

	go func() {
		select {
		case <-firstLine.C:
			h.events <- agentEvent{kind: evRunning, at: time.Now()}
		case <-h.done:
		}
	}()
	go func() {
		for {
			select {
			case <-monitor.C:
				stats := s.monitor.Sample(context.Background(), s.pidOf(h))
				select {
				case h.events <- agentEvent{kind: evMonitor, at: time.Now(), stats: stats}:
				case <-h.done:
					return
				}
			case <-h.done:
				return
			}
		}
	}()

	zombieScore := 0
	killReason := ""

	for ev := range h.events {
		switch ev.kind {
		case evOutput:
			s.markRunning(h)
			h.ring.Append(ev.at, ev.line)
			s.bus.Publish(events.TopicAgentOutput, map[string]interface{}{
				"agentId":   h.agent.ID,
				"line":      ev.line,
				"timestamp": ev.at,
			})

		case evRunning:
			s.markRunning(h)

		case evMonitor:
			if !ev.stats.Active {
				zombieScore++
				if zombieScore >= zombieThreshold && killReason == "" {
					log.Printf("[SUPERVISOR] Agent %s looks dead (%d inactive samples), force-killing", h.agent.ID, zombieScore)
					killReason = "zombie"
					s.recordZombieKill(h.agent.ID)
					s.forceKill(h)
				}
				continue
			}
			zombieScore = 0
			if s.cfg.MaxProcessMemoryMb > 0 && ev.stats.RSSMB > float64(s.cfg.MaxProcessMemoryMb) && killReason == "" {
				log.Printf("[SUPERVISOR] Agent %s exceeds memory limit (%.0f MB), force-killing", h.agent.ID, ev.stats.RSSMB)
				killReason = "memory_limit"
				s.forceKill(h)
			}

		case evTerminate:
			if killReason != "" {
				continue
			}
			killReason = "terminated"
			s.terminateThenKill(h)

		case evKill:
			if killReason != "" {
				continue
			}
			killReason = "killed"
			s.forceKill(h)

		case evExit:
			// A child can exit before its first line and before the
			// firstLine timer; agent:spawned still precedes agent:completed
			s.markRunning(h)
			result := buildResult(h.agent.StartedAt, ev.exitErr, killReason)
			s.finalize(h, result)
			return
		}
	}
}

func (s *Supervisor) pidOf(h *handle) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return h.agent.PID
}

// markRunning flips initializing to running exactly once and publishes
// agent:spawned
func (s *Supervisor) markRunning(h *handle) {
	s.mu.Lock()
	if h.agent.Status != types.StatusInitializing {
		s.mu.Unlock()
		return
	}
	h.agent.Status = types.StatusRunning
	h.agent.Phase = types.PhaseWorking
	agent := h.agent.Clone()
	s.mu.Unlock()

	s.saveLive()
	s.bus.Publish(events.TopicAgentSpawned, map[string]interface{}{
		"agentId": agent.ID,
		"taskId":  agent.TaskID,
		"pid":     agent.PID,
		"model":   agent.Metadata.Model,
	})
}

// buildResult translates an exit into the agent result. A signal death
// reports the signal number as the exit code.
func buildResult(startedAt time.Time, exitErr error, killReason string) types.AgentResult {
	duration := time.Since(startedAt).Milliseconds()
	exitCode := 0
	if exitErr != nil {
		exitCode = -1
		if ee, ok := exitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
			if exitCode == -1 {
				if sig, ok := exitSignal(ee.ProcessState); ok {
					exitCode = sig
				}
			}
		}
	}

	switch {
	case killReason != "":
		return types.AgentResult{Success: false, Error: killReason, DurationMs: duration, ExitCode: exitCode}
	case exitErr != nil:
		return types.AgentResult{Success: false, Error: fmt.Sprintf("exit code %d", exitCode), DurationMs: duration, ExitCode: exitCode}
	default:
		return types.AgentResult{Success: true, DurationMs: duration, ExitCode: 0}
	}
}

// finalize completes an agent: persist the record, clean the worktree,
// update the learning and productivity stores, and only then publish
// agent:completed
func (s *Supervisor) finalize(h *handle, result types.AgentResult) {
	now := time.Now()

	s.mu.Lock()
	agent := h.agent
	agent.Status = types.StatusCompleted
	agent.CompletedAt = &now
	agent.Result = &result
	agent.Output = h.ring.Snapshot()
	delete(s.agents, agent.ID)
	record := agent.Clone()
	s.mu.Unlock()

	close(h.done)
	s.monitor.Forget(record.PID)

	s.saveLive()
	if err := s.store.Archive(record); err != nil {
		log.Printf("[SUPERVISOR] Archiving agent %s failed: %v", record.ID, err)
	}

	if record.Metadata.WorktreeBranch != "" && record.Metadata.SourceRepo != "" && s.worktrees != nil {
		if err := s.worktrees.Remove(record.ID, record.Metadata.SourceRepo, record.Metadata.WorktreeBranch, result.Success); err != nil {
			log.Printf("[SUPERVISOR] Worktree cleanup for %s failed: %v", record.ID, err)
		}
	}

	taskType := record.Metadata.TaskType
	if s.learning != nil && taskType != "" {
		s.learning.OnCompleteSync(taskType, learning.Outcome{
			Success:       result.Success,
			DurationMs:    result.DurationMs,
			ErrorCategory: result.Error,
			ModelTier:     string(record.Metadata.ModelTier),
		})
	}
	if s.productivity != nil {
		s.productivity.OnTaskCompletedSync(record)
	}

	s.bus.Publish(events.TopicAgentDone, map[string]interface{}{
		"agentId":    record.ID,
		"taskId":     record.TaskID,
		"queue":      record.Queue,
		"success":    result.Success,
		"error":      result.Error,
		"durationMs": result.DurationMs,
		"app":        record.Metadata.App,
		"taskType":   taskType,
	})
}

// Terminate asks an agent to exit gracefully, escalating to force-kill
// after the configured grace period
func (s *Supervisor) Terminate(id string) error {
	return s.signalAgent(id, evTerminate)
}

// Kill force-kills an agent immediately
func (s *Supervisor) Kill(id string) error {
	return s.signalAgent(id, evKill)
}

func (s *Supervisor) signalAgent(id string, kind eventKind) error {
	s.mu.RLock()
	h, ok := s.agents[id]
	s.mu.RUnlock()
	if !ok {
		return coserr.New(coserr.KindNotFound, "supervisor.signal", "no live agent %q", id)
	}

	select {
	case h.events <- agentEvent{kind: kind, at: time.Now()}:
		return nil
	case <-h.done:
		return coserr.New(coserr.KindConflict, "supervisor.signal", "agent %q already completed", id)
	}
}

// terminateThenKill sends SIGTERM and schedules a SIGKILL after T_grace
// unless the agent exits first
func (s *Supervisor) terminateThenKill(h *handle) {
	pid := s.pidOf(h)
	if pid <= 0 {
		return
	}
	if err := signalTerminate(pid); err != nil {
		log.Printf("[SUPERVISOR] SIGTERM to %d failed: %v", pid, err)
	}
	go func() {
		select {
		case <-h.done:
		case <-time.After(s.cfg.GracefulTerminate()):
			log.Printf("[SUPERVISOR] Agent %s ignored SIGTERM, escalating", h.agent.ID)
			signalKill(pid)
		}
	}()
}

func (s *Supervisor) forceKill(h *handle) {
	pid := s.pidOf(h)
	if pid <= 0 {
		return
	}
	if err := signalKill(pid); err != nil {
		log.Printf("[SUPERVISOR] SIGKILL to %d failed: %v", pid, err)
	}
}

// Delete removes one completed agent's record. Live agents must be killed
// first.
func (s *Supervisor) Delete(id string) error {
	s.mu.RLock()
	_, live := s.agents[id]
	s.mu.RUnlock()
	if live {
		return coserr.New(coserr.KindConflict, "supervisor.Delete", "agent %q is still live", id)
	}
	return s.store.DeleteCompleted(id)
}

// ClearCompleted drops all archived agent records
func (s *Supervisor) ClearCompleted() (int, error) {
	return s.store.ClearCompleted()
}

// Shutdown terminates every live agent and waits up to drain for them to
// finish, force-killing stragglers
func (s *Supervisor) Shutdown(drain time.Duration) {
	s.mu.RLock()
	handles := make([]*handle, 0, len(s.agents))
	for _, h := range s.agents {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	for _, h := range handles {
		s.signalAgent(h.agent.ID, evTerminate)
	}

	deadline := time.Now().Add(drain)
	for _, h := range handles {
		select {
		case <-h.done:
		case <-time.After(time.Until(deadline)):
			log.Printf("[SUPERVISOR] Drain timeout, force-killing %s", h.agent.ID)
			s.forceKill(h)
			<-h.done
		}
	}
}

// RecoverOrphans reconciles live.json from a previous run: records whose
// pid is gone become completed with error "orphaned"; still-running pids
// are killed since no handle can supervise them anymore.
func (s *Supervisor) RecoverOrphans() int {
	orphans := s.store.LoadLive()
	if len(orphans) == 0 {
		return 0
	}

	recovered := 0
	for _, agent := range orphans {
		if agent.Status == types.StatusCompleted {
			continue
		}
		if agent.PID > 0 && procmon.Alive(agent.PID) {
			log.Printf("[SUPERVISOR] Killing orphaned agent %s (pid %d) from previous run", agent.ID, agent.PID)
			signalKill(agent.PID)
		}

		now := time.Now()
		agent.Status = types.StatusCompleted
		agent.CompletedAt = &now
		agent.Result = &types.AgentResult{
			Success:    false,
			Error:      "orphaned",
			DurationMs: now.Sub(agent.StartedAt).Milliseconds(),
			ExitCode:   -1,
		}
		if err := s.store.Archive(agent); err != nil {
			log.Printf("[SUPERVISOR] Archiving orphan %s failed: %v", agent.ID, err)
		}
		recovered++
	}

	s.saveLive()
	return recovered
}

// saveLive rewrites live.json from the current agent map
func (s *Supervisor) saveLive() {
	s.mu.RLock()
	agents := make([]*types.Agent, 0, len(s.agents))
	for _, h := range s.agents {
		agents = append(agents, h.agent.Clone())
	}
	s.mu.RUnlock()

	if err := s.store.SaveLive(agents); err != nil {
		log.Printf("[SUPERVISOR] Saving live.json failed: %v", err)
	}
}

// ActiveAgentIDs returns the ids of live agents, for worktree orphan sweeps
func (s *Supervisor) ActiveAgentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids
}
