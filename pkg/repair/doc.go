/*
Package repair runs the on-demand repair of the digest pipeline and reports
what it fixed.

A run executes five stages in a fixed order:

	1. consumer   restart the supervised queue consumer
	2. scheduler  start the job scheduler if it is stopped
	3. store      remove invalid group records
	4. jobs       audit, recreate missing jobs, remove orphaned jobs
	5. health     take a final health snapshot and keep its repairs

Every stage runs regardless of how the previous ones went. A stage that
returns an error or panics contributes one error entry naming the stage; in
the jobs stage each failed item gets its own entry and the loop carries on.
Groups deleted between the audit and the recreate are skipped silently.

The consumer is restarted on every run, but the restart only counts as a
repair when there was no live instance or the old one had to be abandoned.
A healthy pipeline therefore reports nothing_to_repair.

The report status is derived from its two lists:

	nothing_to_repair  no repairs, no errors
	success            repairs, no errors
	partial            at least one error

Run only returns an error, ErrOrchestratorUnavailable, when it cannot start
at all: a nil or closed orchestrator, or one missing a dependency. Concurrent
runs are serialized.
*/
package repair
