package main

import (
	"strings"
	"sync"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
	"conveyor/internal/scheduler"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the queue database for the duration of fn. SQLite WAL mode
// lets CLI access coexist with a running daemon.
func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// withScheduler runs fn against a scheduler over a freshly opened store.
// Notifications are suppressed: operator commands report to the terminal.
func (c *commandContext) withScheduler(fn func(*scheduler.Scheduler) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return c.withStore(func(store *queue.Store) error {
		return fn(scheduler.New(cfg, store, logging.NewNop(), notifications.NewNop()))
	})
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
