package metrics

import (
	"time"

	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

// Collector refreshes inventory gauges from the store
type Collector struct {
	store  *storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store *storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes every gauge once. Exported so tests and handlers can
// force a refresh outside the ticker.
func (c *Collector) Collect() {
	stats, err := c.store.GetStats()
	if err != nil {
		return
	}

	// Set every known status explicitly so emptied statuses drop to zero
	// instead of reporting the last non-zero value.
	for _, status := range []types.ChallengeStatus{
		types.ChallengeDisabled,
		types.ChallengeQueued,
		types.ChallengeAssigned,
		types.ChallengeWaiting,
	} {
		ChallengesTotal.WithLabelValues(string(status)).Set(float64(stats.ChallengesByStatus[status]))
	}

	for _, status := range []types.RunnerStatus{
		types.RunnerOnline,
		types.RunnerOffline,
		types.RunnerBusy,
	} {
		RunnersTotal.WithLabelValues(string(status)).Set(float64(stats.RunnersByStatus[status]))
	}

	RunnersDisabled.Set(float64(stats.RunnersDisabled))
	FilesTotal.Set(float64(stats.Files))

	paused, err := c.store.Paused()
	if err != nil {
		return
	}
	if paused {
		SystemPaused.Set(1)
	} else {
		SystemPaused.Set(0)
	}
}
