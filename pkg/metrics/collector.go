package metrics

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the pipeline used to refresh gauges
type Snapshot struct {
	Groups           int
	Jobs             int
	SchedulerRunning bool
	QueueSize        int
	ConsumerActive   bool
}

// SnapshotFunc produces the current pipeline snapshot
type SnapshotFunc func() (Snapshot, error)

// Collector periodically refreshes gauge metrics
type Collector struct {
	source   SnapshotFunc
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(source SnapshotFunc, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector. It is safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect refreshes all gauges once. Errors leave the previous values in place.
func (c *Collector) Collect() {
	snap, err := c.source()
	if err != nil {
		return
	}

	GroupsTotal.Set(float64(snap.Groups))
	ScheduledJobs.Set(float64(snap.Jobs))
	SchedulerRunning.Set(BoolGauge(snap.SchedulerRunning))
	QueueSize.Set(float64(snap.QueueSize))
	ConsumerActive.Set(BoolGauge(snap.ConsumerActive))
}
