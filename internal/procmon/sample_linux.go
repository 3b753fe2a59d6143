//go:build linux

package procmon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Linux exposes everything we need in /proc/<pid>/stat. Field positions are
// counted after the "(comm)" token because comm may contain spaces.
const clockTicksPerSecond = 100

func (m *Monitor) sampleOS(pid int) (Stats, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return Stats{PID: pid}, nil
	}

	line := string(data)
	end := strings.LastIndexByte(line, ')')
	if end < 0 {
		return Stats{PID: pid}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(line[end+1:])
	// fields[0] is state (stat field 3); utime/stime are fields 14/15,
	// rss (pages) is field 24
	if len(fields) < 22 {
		return Stats{PID: pid}, fmt.Errorf("short stat for pid %d", pid)
	}

	state := fields[0]
	utime, _ := strconv.ParseUint(fields[11], 10, 64)
	stime, _ := strconv.ParseUint(fields[12], 10, 64)
	rssPages, _ := strconv.ParseInt(fields[21], 10, 64)

	if state == "Z" || state == "X" {
		return Stats{PID: pid, State: state}, nil
	}

	return Stats{
		Active:     true,
		PID:        pid,
		State:      state,
		CPUPercent: m.cpuPercent(pid, utime+stime, clockTicksPerSecond),
		RSSMB:      float64(rssPages) * float64(os.Getpagesize()) / (1024 * 1024),
	}, nil
}
