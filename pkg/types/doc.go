/*
Package types defines the core data model shared by every digest component.

The model is small on purpose: a group is identified by a numeric GroupID, its
schedule lives in a GroupConfig persisted by the storage package, and the
scheduler registers exactly one Job per group under a name derived from the
group key. When a job fires it produces a SummaryTask that travels through the
work queue to the consumer.

# Naming

Job names and store keys map 1:1:

	store key "123456"  <->  job name "summary_group_123456"

JobName and KeyFromJobName implement the mapping; the JobNamePrefix scopes the
subsystem's jobs so unrelated scheduled work is never considered during
reconciliation. Store keys that are not plain decimal digits are invalid and are
removed by the store cleanup.

# Usage

	id, err := types.ParseGroupID("123456")
	if err != nil {
		return err
	}
	cfg := &types.GroupConfig{Hour: 22, Minute: 30, LeastMessageCount: 200}
	if err := cfg.Validate(); err != nil {
		return err
	}
	name := types.GroupJobName(id) // "summary_group_123456"

The job fires daily at cfg.Hour:cfg.Minute:id.Second().
*/
package types
