/*
Package scheduler keeps the named recurring jobs of the digest pipeline.

Jobs run on a robfig/cron runner with a seconds field. Every configured group
gets one daily summary job named summary_group_<id> firing at
hour:minute:second, where second is the group ID modulo 60 so that groups
sharing a time slot do not all fire in the same second. A firing job enqueues
a SummaryTask; it never does the summary work itself.

The scheduler can be stopped and started again without losing registered jobs.
Job registration is independent of whether the runner is started, which lets
the repair path re-register missing jobs before starting a stopped scheduler.

# Usage

	sched := scheduler.NewScheduler(queue, time.UTC)
	if _, err := sched.LoadGroups(ctx, store); err != nil {
		log.Logger.Warn().Err(err).Msg("some groups could not be scheduled")
	}
	_ = sched.Start()
	defer sched.Stop()

	job, err := sched.UpsertGroupJob(ctx, 1001, &types.GroupConfig{
		Hour: 21, Minute: 30, LeastMessageCount: 50,
	})
*/
package scheduler
