package main

import (
	"fmt"
	"strings"

	"github.com/drewfead/hermes/internal/control"
)

const (
	reset = "\033[0m"
	bold  = "\033[1m"

	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	gray   = "\033[90m"
)

const (
	checkMark = "✓"
	bullet    = "●"
)

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func statusColor(status string) string {
	switch status {
	case "running":
		return cyan
	case "queued":
		return yellow
	case "completed":
		return green
	case "failed":
		return red
	default:
		return gray
	}
}

func printJobTable(jobs []*control.JobInfo) {
	fmt.Printf("%s%-10s %-24s %-10s %s%s\n", bold, "JOB", "KEY", "STATUS", "TEXT", reset)
	fmt.Println(gray + strings.Repeat("─", 78) + reset)
	for _, j := range jobs {
		fmt.Printf("%-10s %-24s %s%-10s%s %s\n",
			j.ID,
			truncate(j.Key, 24),
			statusColor(j.Status), j.Status, reset,
			truncate(j.Text, 32))
	}
}

func printSessionTable(sessions []*control.SessionInfo) {
	fmt.Printf("%s%-24s %-10s %-16s %-6s %s%s\n", bold, "KEY", "SESSION", "MODEL", "BUSY", "LAST ACTIVE", reset)
	fmt.Println(gray + strings.Repeat("─", 84) + reset)
	for _, s := range sessions {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		busy := gray + "idle" + reset
		if s.Busy {
			busy = cyan + "busy" + reset
		}
		model := s.Model
		if model == "" {
			model = gray + "default" + reset
		}
		fmt.Printf("%-24s %-10s %-16s %-15s %s\n",
			truncate(s.Key, 24), id, truncate(model, 16), busy, s.LastActive)
	}
}
