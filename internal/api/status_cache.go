package api

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const cacheStopTimeout = 5 * time.Second

// StatusCache refreshes the status response in the background so
// /api/status answers from memory instead of fanning out warehouse
// queries on every page load.
type StatusCache struct {
	log      *slog.Logger
	interval time.Duration
	fetch    func(context.Context) *StatusResponse

	mu     sync.RWMutex
	status *StatusResponse

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStatusCache(log *slog.Logger, interval time.Duration, fetch func(context.Context) *StatusResponse) *StatusCache {
	ctx, cancel := context.WithCancel(context.Background())
	return &StatusCache{
		log:      log,
		interval: interval,
		fetch:    fetch,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start performs an initial synchronous refresh so the cache is warm, then
// begins the background refresh loop.
func (c *StatusCache) Start() {
	c.log.Info("api: starting status cache", "interval", c.interval)
	c.refresh()

	c.wg.Add(1)
	go c.refreshLoop()
}

// Stop cancels the refresh loop and waits for it to exit.
func (c *StatusCache) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info("api: status cache stopped")
	case <-time.After(cacheStopTimeout):
		c.log.Warn("api: status cache stop timed out, continuing shutdown")
	}
}

// Get returns the cached status, or nil before the first refresh.
func (c *StatusCache) Get() *StatusResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *StatusCache) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.refresh()
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *StatusCache) refresh() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, 15*time.Second)
	defer cancel()

	resp := c.fetch(ctx)

	c.mu.Lock()
	c.status = resp
	c.mu.Unlock()

	c.log.Debug("api: status cache refreshed", "elapsed", time.Since(start))
}
