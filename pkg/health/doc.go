/*
Package health produces health snapshots of the digest pipeline.

A Checker looks at four things:

  - the job scheduler: is it running, how many jobs are registered
  - the supervised queue consumer: is an instance alive, what did the last one
    exit with
  - job consistency: missing and orphaned summary jobs, through the auditor
  - registered dependency probes, such as the summarizer webhook

With Options.AutoRepair the checker also fixes what is safe to fix on the
spot: it starts a stopped scheduler, respawns a dead consumer and removes
orphaned jobs. Every fix is listed in Report.RepairsApplied. Missing jobs are
only reported; recreating them is the repair orchestrator's job.

A report is healthy only when it carries no warnings and no errors and both
the scheduler and the consumer are running. A check that had to repair
something is therefore never healthy; the next one usually is.

# Dependency probes

A dependency turns unhealthy after Config.Retries failed probes in a row and
healthy again after one success. Unhealthy dependencies add a warning.

	checker.AddProbe("summarizer", health.NewHTTPProbe(webhookURL), health.Config{
		Timeout: 5 * time.Second,
		Retries: 3,
	})

# Text output

Format renders a report as the plain-text message printed by `digest health`
and served at GET /health/text.
*/
package health
