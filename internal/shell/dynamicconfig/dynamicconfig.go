// Package dynamicconfig provides tunable settings loaded from a watched
// YAML file. Values can change while the server runs; callers read them
// per use instead of caching them at startup.
package dynamicconfig

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// =============================================================================
// Keys and Defaults
// =============================================================================

const (
	KeyTaskLeaseDuration     = "task.lease_duration"
	KeyTaskPollTimeout       = "task.poll_timeout"
	KeyTimerResolution       = "timer.resolution"
	KeyReaperInterval        = "reaper.interval"
	KeyReaperBatchSize       = "reaper.batch_size"
	KeySupervisorInterval    = "stack.supervisor_interval"
	KeyMaxConcurrentLaunches = "stack.max_concurrent_launches"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTaskLeaseDuration, "30s")
	v.SetDefault(KeyTaskPollTimeout, "30s")
	v.SetDefault(KeyTimerResolution, "1s")
	v.SetDefault(KeyReaperInterval, "10s")
	v.SetDefault(KeyReaperBatchSize, 100)
	v.SetDefault(KeySupervisorInterval, "15s")
	v.SetDefault(KeyMaxConcurrentLaunches, 2)
}

// =============================================================================
// Config
// =============================================================================

// Config is a live view over the dynamic configuration file. All getters
// are safe for concurrent use.
type Config struct {
	mu          sync.RWMutex
	v           *viper.Viper
	logger      *slog.Logger
	subscribers []chan struct{}
}

// New loads the dynamic configuration from path and watches it for
// changes. An empty path yields a config that only serves defaults.
func New(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	setDefaults(v)

	c := &Config{
		v:      v,
		logger: logger.With("component", "dynamicconfig"),
	}

	if path == "" {
		return c, nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		c.mu.Lock()
		// viper already re-read the file; just log and fan out.
		c.logger.Info("dynamic config reloaded", "file", e.Name)
		subs := make([]chan struct{}, len(c.subscribers))
		copy(subs, c.subscribers)
		c.mu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	v.WatchConfig()

	c.logger.Info("dynamic config loaded", "file", path)
	return c, nil
}

// Subscribe returns a channel that receives a tick after each reload.
// The channel is buffered; slow consumers miss intermediate reloads but
// always see the latest values when they next read.
func (c *Config) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch
}

// =============================================================================
// Typed Getters
// =============================================================================

func (c *Config) duration(key string, fallback time.Duration) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.v.GetDuration(key)
	if d <= 0 {
		return fallback
	}
	return d
}

func (c *Config) count(key string, fallback int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.v.GetInt(key)
	if n <= 0 {
		return fallback
	}
	return n
}

// TaskLeaseDuration is how long a polled task stays leased without a
// heartbeat before the reaper reclaims it.
func (c *Config) TaskLeaseDuration() time.Duration {
	return c.duration(KeyTaskLeaseDuration, 30*time.Second)
}

// TaskPollTimeout caps how long a long-poll request parks before
// returning empty.
func (c *Config) TaskPollTimeout() time.Duration {
	return c.duration(KeyTaskPollTimeout, 30*time.Second)
}

// TimerResolution is the tick interval of the timer worker.
func (c *Config) TimerResolution() time.Duration {
	return c.duration(KeyTimerResolution, time.Second)
}

// ReaperInterval is the tick interval of the lease reaper.
func (c *Config) ReaperInterval() time.Duration {
	return c.duration(KeyReaperInterval, 10*time.Second)
}

// ReaperBatchSize limits how many expired leases one reaper tick handles.
func (c *Config) ReaperBatchSize() int {
	return c.count(KeyReaperBatchSize, 100)
}

// SupervisorInterval is the tick interval of the stack supervisor.
func (c *Config) SupervisorInterval() time.Duration {
	return c.duration(KeySupervisorInterval, 15*time.Second)
}

// MaxConcurrentLaunches bounds how many stacks launch at once.
func (c *Config) MaxConcurrentLaunches() int {
	return c.count(KeyMaxConcurrentLaunches, 2)
}
