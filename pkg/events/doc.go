/*
Package events provides an in-process publish/subscribe broker for digest
pipeline events.

Components publish what they changed (a consumer restart, a recreated job, a
finished repair run) and subscribers such as the serve command's event logger
receive them asynchronously. Publish never blocks the publisher: when the
broker is stopped or its 100-event buffer is full the event is dropped and
counted. Each subscriber has its own 50-event buffer; a slow subscriber misses
events instead of stalling the others.

# Event Types

	repair.started       a repair run began
	repair.completed     a repair run finished (metadata: status, repairs, errors)
	consumer.restarted   a new consumer instance was spawned
	consumer.failed      a consumer restart failed
	job.created          a missing summary job was recreated
	job.removed          an orphaned summary job was removed
	groups.cleaned       invalid group records were removed from the store
	health.degraded      a health check returned an unhealthy verdict

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			logger.Info().Str("type", string(ev.Type)).Msg(ev.Message)
		}
	}()

	broker.Publish(events.NewEvent(events.EventJobRemoved, "removed orphaned job", nil))
*/
package events
