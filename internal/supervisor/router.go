package supervisor

import (
	"strings"

	"github.com/COSD/internal/tasks"
	"github.com/COSD/internal/types"
)

// Route names the model decision for one spawn
type Route struct {
	Model  string
	Tier   types.ModelTier
	Reason string
}

// Router resolves which model an agent should run with. The policy is
// replaceable; DefaultRouter is used when none is configured.
type Router func(task *tasks.Task, taskType string) Route

var tierModels = map[types.ModelTier]string{
	types.TierHeavy:  "claude-opus",
	types.TierMedium: "claude-sonnet",
	types.TierLight:  "claude-haiku",
}

var heavyTaskTypes = map[string]bool{
	"architecture": true,
	"database":     true,
}

var lightTaskTypes = map[string]bool{
	"formatting":    true,
	"typo":          true,
	"documentation": true,
}

// DefaultRouter picks a tier from priority and task type, then a model for
// that tier. An explicit model in task metadata always wins.
func DefaultRouter(task *tasks.Task, taskType string) Route {
	if model := task.Meta("model"); model != "" {
		return Route{
			Model:  model,
			Tier:   tierForModel(model),
			Reason: "explicit model in task metadata",
		}
	}

	switch {
	case task.Priority == tasks.PriorityCritical:
		return Route{Model: tierModels[types.TierHeavy], Tier: types.TierHeavy, Reason: "critical priority"}
	case heavyTaskTypes[taskType]:
		return Route{Model: tierModels[types.TierHeavy], Tier: types.TierHeavy, Reason: "task type " + taskType}
	case lightTaskTypes[taskType]:
		return Route{Model: tierModels[types.TierLight], Tier: types.TierLight, Reason: "task type " + taskType}
	default:
		return Route{Model: tierModels[types.TierMedium], Tier: types.TierMedium, Reason: "default tier"}
	}
}

func tierForModel(model string) types.ModelTier {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "opus"):
		return types.TierHeavy
	case strings.Contains(m, "haiku"):
		return types.TierLight
	default:
		return types.TierMedium
	}
}
