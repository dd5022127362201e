package reconciler

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/cuemby/digest/pkg/types"
)

// JobLister lists the names of all jobs registered in the scheduler
type JobLister interface {
	JobNames() []string
}

// KeyLister enumerates every key in the configuration store
type KeyLister interface {
	ListGroupKeys() ([]string, error)
}

// AuditResult lists the differences between scheduled and configured groups.
// Both slices are sorted.
type AuditResult struct {
	// Missing holds store keys that have no registered summary job
	Missing []string `json:"missing"`

	// Orphaned holds summary job names whose key is not in the store
	Orphaned []string `json:"orphaned"`
}

// Consistent reports whether scheduler and store agree
func (r AuditResult) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Orphaned) == 0
}

// Auditor compares registered summary jobs against the configuration store.
// It only reads; corrections are left to the caller.
type Auditor struct {
	jobs  JobLister
	store KeyLister
}

// NewAuditor creates an auditor
func NewAuditor(jobs JobLister, store KeyLister) *Auditor {
	return &Auditor{jobs: jobs, store: store}
}

// Audit returns the missing and orphaned jobs. Jobs outside the summary
// prefix are ignored.
func (a *Auditor) Audit(ctx context.Context) (AuditResult, error) {
	if err := ctx.Err(); err != nil {
		return AuditResult{}, err
	}

	keys, err := a.store.ListGroupKeys()
	if err != nil {
		return AuditResult{}, errors.Wrap(err, "failed to list group keys")
	}

	expected := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		expected[key] = struct{}{}
	}

	registered := make(map[string]struct{})
	result := AuditResult{Missing: []string{}, Orphaned: []string{}}

	for _, name := range a.jobs.JobNames() {
		key, ok := types.KeyFromJobName(name)
		if !ok {
			continue
		}
		registered[key] = struct{}{}
		if _, ok := expected[key]; !ok {
			result.Orphaned = append(result.Orphaned, name)
		}
	}

	for key := range expected {
		if _, ok := registered[key]; !ok {
			result.Missing = append(result.Missing, key)
		}
	}

	sort.Strings(result.Missing)
	sort.Strings(result.Orphaned)
	return result, nil
}
