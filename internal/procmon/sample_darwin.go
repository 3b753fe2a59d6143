//go:build darwin

package procmon

import (
	"os/exec"
	"strconv"
	"strings"
)

// macOS has no /proc; ps already computes cpu% and rss for us
func (m *Monitor) sampleOS(pid int) (Stats, error) {
	out, err := exec.Command("ps", "-o", "state=,pcpu=,rss=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		// ps exits non-zero when the pid does not exist
		return Stats{PID: pid}, nil
	}

	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) < 3 {
		return Stats{PID: pid}, nil
	}

	state := fields[0]
	if strings.HasPrefix(state, "Z") {
		return Stats{PID: pid, State: state}, nil
	}

	cpu, _ := strconv.ParseFloat(fields[1], 64)
	rssKB, _ := strconv.ParseFloat(fields[2], 64)

	return Stats{
		Active:     true,
		PID:        pid,
		State:      state,
		CPUPercent: cpu,
		RSSMB:      rssKB / 1024,
	}, nil
}
