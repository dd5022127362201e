package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/digest/pkg/log"
)

// DefaultInterval is how often the background health pass runs
const DefaultInterval = 10 * time.Minute

// PassFunc is one background health pass
type PassFunc func(ctx context.Context) error

// Loop runs a health pass on a fixed interval until stopped
type Loop struct {
	interval time.Duration
	pass     PassFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewLoop creates a loop. A non-positive interval uses DefaultInterval.
func NewLoop(interval time.Duration, pass PassFunc) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		interval: interval,
		pass:     pass,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("reconciler"),
	}
}

// Start begins the loop in the background
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
	l.logger.Info().Dur("interval", l.interval).Msg("Health loop started")
}

// Stop stops the loop and waits for a running pass to finish
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runPass()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Loop) runPass() {
	ctx, cancel := context.WithTimeout(context.Background(), l.interval)
	defer cancel()

	go func() {
		select {
		case <-l.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("Health pass panicked")
		}
	}()

	if err := l.pass(ctx); err != nil {
		l.logger.Error().Err(err).Msg("Health pass failed")
	}
}
