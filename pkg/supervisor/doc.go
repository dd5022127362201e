/*
Package supervisor keeps exactly one instance of a long-running task alive
and replaces it on demand.

The supervisor never looks tasks up at runtime. Each spawned instance is
tracked through a handle holding its cancel function, a done channel and its
start time, and at most one handle is current. Instances run on the
supervisor's own base context, so a restart requested from an HTTP handler
does not die with the request.

# Restart

	1. cancel the current instance (if any)
	2. wait for it to exit, at most GracePeriod (default 2s)
	3. spawn one new instance

An instance that ignores cancellation past the grace period is abandoned: the
restart still succeeds, the event is logged and counted in
digest_consumer_abandoned_total. Restarts are serialized, so concurrent callers
cannot leave two instances running.

Panics inside an instance are recovered and kept as the instance's exit error,
visible through Status and picked up by EnsureRunning on the next health
check.

# Usage

	sup := supervisor.New(consumer.Run, supervisor.Config{
		Name:        types.ConsumerName,
		GracePeriod: 2 * time.Second,
		Publisher:   broker,
	})
	sup.EnsureRunning()
	defer sup.Stop(ctx)

	if out := sup.Restart(); !out.Success {
		log.Logger.Error().Err(out.Err).Msg("restart failed")
	}
*/
package supervisor
