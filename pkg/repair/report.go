package repair

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/digest/pkg/health"
)

// Status summarizes a repair run
type Status string

const (
	StatusNothingToRepair Status = "nothing_to_repair"
	StatusSuccess         Status = "success"
	StatusPartial         Status = "partial"
)

// Report is the outcome of one repair run. It is not modified after Run returns.
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Status     Status         `json:"status"`
	Repairs    []string       `json:"repairs"`
	Errors     []string       `json:"errors"`
	Health     *health.Report `json:"health,omitempty"`
}

func deriveStatus(r *Report) Status {
	switch {
	case len(r.Repairs) == 0 && len(r.Errors) == 0:
		return StatusNothingToRepair
	case len(r.Errors) == 0:
		return StatusSuccess
	default:
		return StatusPartial
	}
}

// Format renders a report as the plain-text message printed by `digest repair`
func Format(r *Report) string {
	if r.Status == StatusNothingToRepair {
		return "system is healthy, nothing to repair\n"
	}

	var b strings.Builder
	b.WriteString("[System repair report]\n")

	if len(r.Repairs) > 0 {
		b.WriteString("\nRepairs applied:\n")
		for _, item := range r.Repairs {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	if len(r.Errors) > 0 {
		b.WriteString("\nErrors during repair:\n")
		for _, item := range r.Errors {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}

	if r.Status == StatusSuccess {
		b.WriteString("\nrepair completed, please re-check system status\n")
	} else {
		b.WriteString("\nrepair partially completed, errors remain\n")
	}
	return b.String()
}
