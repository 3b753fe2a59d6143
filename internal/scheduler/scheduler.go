// Package scheduler runs the evaluation loop: every interval it picks
// admissible pending tasks, routes them through the supervisor, and applies
// the outcome back to the task queues and the per-app cooldowns.
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/COSD/internal/config"
	"github.com/COSD/internal/coserr"
	"github.com/COSD/internal/events"
	"github.com/COSD/internal/learning"
	"github.com/COSD/internal/tasks"
	"github.com/COSD/internal/types"
)

const journalRetention = 7 * 24 * time.Hour

// AgentRunner is the slice of the supervisor the scheduler needs
type AgentRunner interface {
	Spawn(task *tasks.Task) (string, error)
	ActiveCount() int
	HasLiveForTask(taskID string) bool
	Health() []types.AgentHealth
	DrainZombieKills() []string
}

// Journal is the slice of the event store the daily cleanup job needs
type Journal interface {
	Cleanup(olderThan time.Duration) error
}

// Scheduler owns the evaluation loop and the pause state
type Scheduler struct {
	cfg      *config.Config
	bus      *events.Bus
	tasks    *tasks.Store
	learning *learning.Store
	runner   AgentRunner
	activity *ActivityStore
	journal  Journal

	// Classify derives the task type for unlabeled tasks; defaults to
	// DefaultClassifier
	Classify Classifier

	mu          sync.Mutex
	running     bool
	paused      bool
	pauseReason string
	cancel      context.CancelFunc
	unsubscribe func()
	cron        *cron.Cron
	force       chan struct{}
}

// New creates a scheduler. journal may be nil when no event journal is wired.
func New(cfg *config.Config, bus *events.Bus, taskStore *tasks.Store,
	learn *learning.Store, runner AgentRunner, activity *ActivityStore, journal Journal) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		bus:      bus,
		tasks:    taskStore,
		learning: learn,
		runner:   runner,
		activity: activity,
		journal:  journal,
		Classify: DefaultClassifier,
		force:    make(chan struct{}, 1),
	}
}

// Start launches the evaluation loop and the periodic jobs
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return coserr.New(coserr.KindConflict, "scheduler.Start", "already running")
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.unsubscribe = s.bus.Subscribe(events.TopicAgentDone, s.onAgentDone)

	s.cron = cron.New()
	s.cron.AddFunc("@every "+s.cfg.HealthCheckInterval().String(), s.RunHealthCheck)
	if s.journal != nil {
		s.cron.AddFunc("5 0 * * *", s.cleanupJournal)
	}
	s.cron.Start()
	s.mu.Unlock()

	go s.run(ctx)
	log.Printf("[SCHEDULER] Started (interval %s)", s.cfg.EvaluationInterval())
	s.publishStatus()
	return nil
}

// Stop halts the loop. Live agents are the supervisor's problem.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return coserr.New(coserr.KindConflict, "scheduler.Stop", "not running")
	}
	s.running = false
	s.cancel()
	s.cron.Stop()
	s.unsubscribe()
	s.mu.Unlock()

	log.Printf("[SCHEDULER] Stopped")
	s.publishStatus()
	return nil
}

// Pause keeps the loop ticking but stops it from spawning
func (s *Scheduler) Pause(reason string) {
	s.mu.Lock()
	s.paused = true
	s.pauseReason = reason
	s.mu.Unlock()

	log.Printf("[SCHEDULER] Paused: %s", reason)
	s.publishStatus()
}

// Resume lifts a pause
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.pauseReason = ""
	s.mu.Unlock()

	log.Printf("[SCHEDULER] Resumed")
	s.publishStatus()
	s.kick()
}

// Status reports the scheduler and queue state
func (s *Scheduler) Status() types.StatusReport {
	s.mu.Lock()
	running, paused, reason := s.running, s.paused, s.pauseReason
	s.mu.Unlock()

	pendingUser, pendingInt := s.tasks.Counts()
	return types.StatusReport{
		Running:      running,
		Paused:       paused,
		PauseReason:  reason,
		ActiveAgents: s.runner.ActiveCount(),
		PendingUser:  pendingUser,
		PendingInt:   pendingInt,
	}
}

// ForceEvaluate runs one evaluation pass immediately
func (s *Scheduler) ForceEvaluate() error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return coserr.New(coserr.KindConflict, "scheduler.ForceEvaluate", "not running")
	}
	s.evaluate()
	s.publishStatus()
	return nil
}

// kick nudges the loop without blocking
func (s *Scheduler) kick() {
	select {
	case s.force <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.EvaluationInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.force:
		}
		s.evaluate()
		s.publishStatus()
	}
}

// evaluate fills free agent slots with the highest-ranked admissible tasks
func (s *Scheduler) evaluate() {
	s.mu.Lock()
	if !s.running || s.paused {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	candidates := s.admissible()
	for _, c := range candidates {
		if s.runner.ActiveCount() >= s.cfg.MaxConcurrentAgents {
			return
		}
		s.dispatch(c)
	}
}

// candidate is one schedulable task with its manual queue position
type candidate struct {
	task     *tasks.Task
	taskType string
	index    int
}

// admissible returns pending tasks that pass every gate, ordered by
// priority, queue, manual position, then age
func (s *Scheduler) admissible() []candidate {
	skipped := make(map[string]bool)
	for _, t := range s.learning.GetSkipped() {
		skipped[t] = true
	}
	now := time.Now()
	warned := make(map[string]bool)

	var out []candidate
	for _, queue := range []tasks.Queue{tasks.QueueUser, tasks.QueueInternal} {
		for i, task := range s.tasks.List(queue) {
			if task.Status != tasks.StatusPending || !task.Runnable() {
				continue
			}
			if s.runner.HasLiveForTask(task.ID) {
				continue
			}
			taskType := s.Classify(task)
			if skipped[taskType] {
				if !warned[taskType] {
					warned[taskType] = true
					s.bus.Publish(events.TopicLog, types.LogEntry{
						Level:    "warn",
						Category: "skipped",
						Message:  "task type " + taskType + " held back due to low success rate",
					})
				}
				continue
			}
			if s.activity.InCooldown(task.Meta("app"), now) {
				continue
			}
			out = append(out, candidate{task: task, taskType: taskType, index: i})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := a.task.Priority.Rank(), b.task.Priority.Rank(); ra != rb {
			return ra > rb
		}
		if a.task.Queue != b.task.Queue {
			return a.task.Queue == tasks.QueueUser
		}
		if a.task.Queue == b.task.Queue && a.index != b.index {
			return a.index < b.index
		}
		return a.task.CreatedAt.Before(b.task.CreatedAt)
	})
	return out
}

// dispatch marks a task in progress and hands it to the supervisor. The
// in-progress mark happens first so a crash cannot double-spawn the task.
func (s *Scheduler) dispatch(c candidate) {
	status := tasks.StatusInProgress
	patch := tasks.Patch{Status: &status}
	if c.task.Meta("taskType") == "" {
		patch.Metadata = map[string]interface{}{"taskType": c.taskType}
	}

	updated, err := s.tasks.Update(c.task.Queue, c.task.ID, patch)
	if err != nil {
		log.Printf("[SCHEDULER] Marking task %s in progress failed: %v", c.task.ID, err)
		return
	}

	agentID, err := s.runner.Spawn(updated)
	if err != nil {
		log.Printf("[SCHEDULER] Spawn for task %s refused: %v", c.task.ID, err)
		pending := tasks.StatusPending
		s.tasks.Update(c.task.Queue, c.task.ID, tasks.Patch{Status: &pending})
		return
	}

	// An agent can complete synchronously inside Spawn, in which case
	// onAgentDone already settled the task; a settled task must not keep
	// a back-reference to the finished agent
	if cur, err := s.tasks.Get(c.task.Queue, c.task.ID); err == nil && cur.Status == tasks.StatusInProgress {
		s.tasks.Update(c.task.Queue, c.task.ID, tasks.Patch{CurrentAgentID: &agentID})
	}
	s.activity.RecordAttempt(updated.Meta("app"), time.Now())
	log.Printf("[SCHEDULER] Dispatched task %s (%s) as agent %s", c.task.ID, c.taskType, agentID)
}

// onAgentDone settles the task and the app cooldown when an agent finishes.
// It runs synchronously on the publisher's goroutine, so stats the
// supervisor wrote before publishing are already visible.
func (s *Scheduler) onAgentDone(e *events.Event) {
	payload, ok := e.Payload.(map[string]interface{})
	if !ok {
		return
	}
	taskID, _ := payload["taskId"].(string)
	queue, _ := payload["queue"].(string)
	success, _ := payload["success"].(bool)
	app, _ := payload["app"].(string)
	taskType, _ := payload["taskType"].(string)
	if taskID == "" || queue == "" {
		return
	}

	// Failed tasks go back to pending for another attempt
	status := tasks.StatusCompleted
	if !success {
		status = tasks.StatusPending
	}
	noAgent := ""
	if _, err := s.tasks.Update(tasks.Queue(queue), taskID, tasks.Patch{
		Status:         &status,
		CurrentAgentID: &noAgent,
	}); err != nil {
		log.Printf("[SCHEDULER] Settling task %s failed: %v", taskID, err)
	}

	multiplier := s.learning.GetAdaptiveCooldown(taskType)
	s.activity.RecordResult(app, success, s.cfg.AppCooldown(), multiplier, time.Now())

	s.kick()
}

// RunHealthCheck publishes a health:check event with current metrics
func (s *Scheduler) RunHealthCheck() {
	s.mu.Lock()
	running, paused, reason := s.running, s.paused, s.pauseReason
	s.mu.Unlock()

	pendingUser, pendingInt := s.tasks.Counts()
	active := s.runner.ActiveCount()
	skipped := s.learning.GetSkipped()
	agentHealth := s.runner.Health()

	var issues []types.HealthIssue
	for _, ah := range agentHealth {
		if !ah.Active {
			issues = append(issues, types.HealthIssue{
				Category: "agent",
				Type:     "unresponsive",
				Severity: "warning",
				Message:  "agent " + ah.AgentID + " (task " + ah.TaskID + ") is not responding",
			})
		}
	}
	for _, agentID := range s.runner.DrainZombieKills() {
		issues = append(issues, types.HealthIssue{
			Category: "agent",
			Type:     "zombie_killed",
			Severity: "warning",
			Message:  "agent " + agentID + " was force-killed after going unresponsive",
		})
	}
	if paused {
		issues = append(issues, types.HealthIssue{
			Category: "scheduler",
			Type:     "paused",
			Severity: "info",
			Message:  "scheduler is paused: " + reason,
		})
	}
	if !running {
		issues = append(issues, types.HealthIssue{
			Category: "scheduler",
			Type:     "stopped",
			Severity: "warning",
			Message:  "scheduler is not running",
		})
	}
	for _, taskType := range skipped {
		issues = append(issues, types.HealthIssue{
			Category: "learning",
			Type:     "skipped_task_type",
			Severity: "warning",
			Message:  "task type " + taskType + " is skipped due to low success rate",
		})
	}
	if pendingUser+pendingInt > 0 && active == 0 && running && !paused {
		issues = append(issues, types.HealthIssue{
			Category: "queue",
			Type:     "idle_backlog",
			Severity: "info",
			Message:  "pending tasks are waiting for the next evaluation",
		})
	}

	report := types.HealthReport{
		CheckedAt:    time.Now(),
		ActiveAgents: active,
		Metrics: map[string]interface{}{
			"pendingUser":     pendingUser,
			"pendingInternal": pendingInt,
			"activeAgents":    active,
			"skippedTypes":    skipped,
			"agents":          agentHealth,
		},
		Issues: issues,
	}
	s.bus.Publish(events.TopicHealthCheck, report)
}

func (s *Scheduler) cleanupJournal() {
	if err := s.journal.Cleanup(journalRetention); err != nil {
		log.Printf("[SCHEDULER] Journal cleanup failed: %v", err)
	}
}

func (s *Scheduler) publishStatus() {
	s.bus.Publish(events.TopicStatus, s.Status())
}
