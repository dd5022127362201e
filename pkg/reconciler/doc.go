/*
Package reconciler compares the summary jobs registered in the scheduler with
the groups configured in the store, and runs the periodic background health
pass.

# Audit

The Auditor computes two sorted lists:

	Missing   store keys with no summary_group_<key> job
	Orphaned  summary_group_<key> jobs whose key is not in the store

Jobs without the summary_group_ prefix belong to someone else and are
ignored. Every store key is expected, including malformed ones; the repair
path cleans the store before auditing so those rarely survive to this point.
Auditing has no side effects and returns the same result when nothing
changed in between.

# Loop

Loop calls a PassFunc every interval (10 minutes by default). A failing or
panicking pass is logged and the loop keeps going. Each pass gets a context
bounded by the interval and cancelled on Stop.

	loop := reconciler.NewLoop(10*time.Minute, func(ctx context.Context) error {
		_, err := checker.Check(ctx)
		return err
	})
	loop.Start()
	defer loop.Stop()
*/
package reconciler
