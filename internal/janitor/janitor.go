// Package janitor periodically removes expired rows and entries from stores
// that do not expire them natively.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Purger deletes expired entries and reports how many were removed.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Janitor runs Purge on a fixed interval until closed.
type Janitor struct {
	name     string
	purger   Purger
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Start launches a janitor for purger. A non-positive interval disables it
// and returns nil.
func Start(name string, purger Purger, interval time.Duration, logger *slog.Logger) *Janitor {
	if purger == nil || interval <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		name:     name,
		purger:   purger,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
	j.wg.Add(1)
	go j.run()
	return j
}

// Close stops the background goroutine and waits for it to exit. It is safe
// to call on a nil Janitor and more than once.
func (j *Janitor) Close() {
	if j == nil {
		return
	}
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.done)
	}
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	n, err := j.purger.Purge(ctx)
	if err != nil {
		j.logger.Warn("Purge failed", "store", j.name, "error", err)
		return
	}
	if n > 0 {
		j.logger.Debug("Purged expired entries", "store", j.name, "removed", n)
	}
}
