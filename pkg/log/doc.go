/*
Package log provides structured logging for digest using zerolog.

The package keeps a single global zerolog.Logger that every component derives a
child logger from. Until Init is called the global logger discards output, which
keeps package tests quiet.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,      // false selects the human console writer
		Output:     os.Stdout, // defaults to stdout
		Version:    "1.0.0",   // added to every entry when set
	})

Levels are parsed by zerolog and set globally. Empty or unknown values fall
back to info.

# Component Loggers

	logger := log.WithComponent("supervisor")
	logger.Info().Str("instance", id).Msg("Consumer started")

	gl := log.WithGroupID(42)
	gl.Warn().Msg("Failed to enqueue summary task")

	tl := log.WithTask(task)
	tl.Info().Msg("Summary due")

Fields used across the codebase:

  - component: supervisor, scheduler, reconciler, repair, health, queue, api
  - group_id: numeric group identifier
  - run_id: repair run identifier
  - task_id: summary task identifier
  - job: scheduler job name

# Log Output Examples

JSON:

	{"level":"info","component":"repair","run_id":"3b1f...","repairs":2,"errors":0,"time":"2025-10-10T10:00:00Z","message":"Repair run finished"}

Console:

	2025-10-10T10:00:00Z INF Repair run finished component=repair errors=0 repairs=2 run_id=3b1f...
*/
package log
