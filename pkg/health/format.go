package health

import (
	"fmt"
	"strings"
)

// Format renders a report as the plain-text status message shown by the CLI
// and GET /health/text
func Format(r *Report, groupCount int) string {
	var b strings.Builder

	b.WriteString("[Summary system health]\n")
	if r.Healthy {
		b.WriteString("Status: healthy\n")
	} else {
		b.WriteString("Status: degraded\n")
	}
	fmt.Fprintf(&b, "Scheduler: %s\n", choose(r.Scheduler.Running, "running", "stopped"))
	fmt.Fprintf(&b, "Scheduled jobs: %d\n", r.Scheduler.JobsCount)
	fmt.Fprintf(&b, "Queue processor: %s\n", choose(r.Queue.ProcessorActive, "active", "stopped"))
	fmt.Fprintf(&b, "Queue size: %d\n", r.Queue.QueueSize)
	fmt.Fprintf(&b, "Configured groups: %d\n", groupCount)

	for _, d := range r.Dependencies {
		fmt.Fprintf(&b, "Dependency %s: %s\n", d.Name, choose(d.Healthy, "reachable", "unreachable"))
	}

	writeSection(&b, "Warnings", r.Warnings)
	writeSection(&b, "Errors", r.Errors)
	writeSection(&b, "Repairs applied", r.RepairsApplied)

	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func choose(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
