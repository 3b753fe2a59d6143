package supervisor

import (
	"sync"
	"time"

	"github.com/COSD/internal/types"
)

// outputRing keeps the tail of an agent's output bounded by a byte budget.
// Whole lines are dropped from the front; a line is never split.
type outputRing struct {
	mu       sync.Mutex
	lines    []types.OutputLine
	bytes    int
	maxBytes int
	total    int
}

func newOutputRing(maxBytes int) *outputRing {
	if maxBytes <= 0 {
		maxBytes = 256 * 1024
	}
	return &outputRing{maxBytes: maxBytes}
}

// Append adds one line, evicting oldest lines past the budget.
// An oversized single line is kept alone so output never silently vanishes.
func (r *outputRing) Append(at time.Time, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = append(r.lines, types.OutputLine{Timestamp: at, Line: line})
	r.bytes += len(line)
	r.total++

	for len(r.lines) > 1 && r.bytes > r.maxBytes {
		r.bytes -= len(r.lines[0].Line)
		r.lines = r.lines[1:]
	}
}

// Snapshot copies the retained tail
func (r *outputRing) Snapshot() []types.OutputLine {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.OutputLine, len(r.lines))
	copy(out, r.lines)
	return out
}

// TotalLines counts every line ever appended, including evicted ones
func (r *outputRing) TotalLines() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
