package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultCleanupAge      = 7 * 24 * time.Hour
	DefaultCleanupInterval = 24 * time.Hour
)

// Cleanup deletes terminal sessions past their retention age.
type Cleanup struct {
	store    Store
	age      time.Duration
	interval time.Duration
	log      zerolog.Logger
	stopCh   chan struct{}
	running  bool
}

func NewCleanup(store Store, age, interval time.Duration, logger zerolog.Logger) *Cleanup {
	if age == 0 {
		age = DefaultCleanupAge
	}
	if interval == 0 {
		interval = DefaultCleanupInterval
	}
	return &Cleanup{
		store:    store,
		age:      age,
		interval: interval,
		log:      logger.With().Str("component", "session_cleanup").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic cleanup loop.
func (c *Cleanup) Start() error {
	if c.running {
		return fmt.Errorf("session: cleanup is already running")
	}
	c.running = true
	go c.run()
	c.log.Info().Dur("cleanup_age", c.age).Msg("session cleanup started")
	return nil
}

// Stop halts the cleanup loop.
func (c *Cleanup) Stop() error {
	if !c.running {
		return fmt.Errorf("session: cleanup is not running")
	}
	close(c.stopCh)
	c.running = false
	c.log.Info().Msg("session cleanup stopped")
	return nil
}

func (c *Cleanup) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	if err := c.CleanupNow(context.Background()); err != nil {
		c.log.Error().Err(err).Msg("failed to clean up old sessions")
	}

	for {
		select {
		case <-ticker.C:
			if err := c.CleanupNow(context.Background()); err != nil {
				c.log.Error().Err(err).Msg("failed to clean up old sessions")
			}
		case <-c.stopCh:
			return
		}
	}
}

// CleanupNow deletes terminal sessions older than the retention age.
func (c *Cleanup) CleanupNow(ctx context.Context) error {
	deleted, err := c.store.DeleteExpired(ctx, time.Now().Add(-c.age))
	if err != nil {
		return err
	}
	if deleted > 0 {
		c.log.Info().Int("deleted", deleted).Msg("expired sessions removed")
	}
	return nil
}
