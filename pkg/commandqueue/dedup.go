package commandqueue

import (
	"context"
	"sync"
	"time"
)

const defaultDedupTTL = 5 * time.Minute

// dedupCache remembers finished task results by request ID so that
// redelivered queue invocations do not run twice.
type dedupCache struct {
	mu      sync.RWMutex
	entries map[string]dedupEntry
	ttl     time.Duration
	cancel  context.CancelFunc
}

type dedupEntry struct {
	result   taskResult
	storedAt time.Time
}

func newDedupCache(parent context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	ctx, cancel := context.WithCancel(parent)
	dc := &dedupCache{
		entries: make(map[string]dedupEntry),
		ttl:     ttl,
		cancel:  cancel,
	}
	go dc.evictLoop(ctx)
	return dc
}

func (dc *dedupCache) Stop() { dc.cancel() }

func (dc *dedupCache) Get(requestID string) (taskResult, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	entry, ok := dc.entries[requestID]
	if !ok || time.Since(entry.storedAt) > dc.ttl {
		return taskResult{}, false
	}
	return entry.result, true
}

func (dc *dedupCache) Set(requestID string, result taskResult) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.entries[requestID] = dedupEntry{result: result, storedAt: time.Now()}
}

func (dc *dedupCache) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dc.mu.Lock()
			now := time.Now()
			for id, entry := range dc.entries {
				if now.Sub(entry.storedAt) > dc.ttl {
					delete(dc.entries, id)
				}
			}
			dc.mu.Unlock()
		}
	}
}
