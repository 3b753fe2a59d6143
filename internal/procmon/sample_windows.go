//go:build windows

package procmon

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Windows fallback: tasklist gives liveness and memory but no cpu%
func (m *Monitor) sampleOS(pid int) (Stats, error) {
	out, err := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH").Output()
	if err != nil {
		return Stats{PID: pid}, nil
	}

	line := strings.TrimSpace(string(out))
	if line == "" || strings.Contains(line, "No tasks") {
		return Stats{PID: pid}, nil
	}

	// "name","pid","session","session#","mem usage"
	cols := strings.Split(line, "\",\"")
	stats := Stats{Active: true, PID: pid, State: "R"}
	if len(cols) >= 5 {
		mem := strings.Trim(cols[4], "\" ")
		mem = strings.TrimSuffix(mem, " K")
		mem = strings.ReplaceAll(mem, ",", "")
		mem = strings.ReplaceAll(mem, ".", "")
		if kb, err := strconv.ParseFloat(mem, 64); err == nil {
			stats.RSSMB = kb / 1024
		}
	}
	return stats, nil
}
