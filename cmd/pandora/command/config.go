package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-pandora/internal/driver"
)

// Config describes one pandora process. A process runs a shard, a directory,
// or both behind the same listener.
type Config struct {
	FlushInterval string           `json:"flush_interval"`
	EvictInterval string           `json:"evict_interval,omitempty"`
	Listener      ListenerConfig   `json:"listener"`
	Nats          NatsConfig       `json:"nats"`
	Shard         *ShardConfig     `json:"shard,omitempty"`
	Directory     *DirectoryConfig `json:"directory,omitempty"`
}

func (c *Config) Validate() error {
	el := errors.NewErrorList()

	flush, err := time.ParseDuration(c.FlushInterval)
	if err != nil {
		el.Add(fmt.Errorf("parsing flush_interval: %w", err))
	} else if flush < time.Second {
		el.Add(fmt.Errorf("flush_interval must be at least 1 second"))
	}
	if c.EvictInterval != "" {
		evict, err := time.ParseDuration(c.EvictInterval)
		if err != nil {
			el.Add(fmt.Errorf("parsing evict_interval: %w", err))
		} else if evict < flush {
			el.Add(fmt.Errorf("evict_interval must not be shorter than flush_interval"))
		}
	}

	if c.Shard == nil && c.Directory == nil {
		el.Add(fmt.Errorf("at least one of shard or directory must be configured"))
	}

	el.Add(c.Listener.validate())
	el.Add(c.Nats.validate())
	if c.Shard != nil {
		el.Add(c.Shard.validate())
	}
	if c.Directory != nil {
		el.Add(c.Directory.validate())
	}

	return el.Err()
}

func (c *Config) driverOpts() []driver.DriverOpt {
	var opts []driver.DriverOpt
	if d, err := time.ParseDuration(c.FlushInterval); err == nil {
		opts = append(opts, driver.WithFlushInterval(d))
	}
	if d, err := time.ParseDuration(c.EvictInterval); err == nil {
		opts = append(opts, driver.WithEvictInterval(d))
	}
	return opts
}

// processName names this process to the NATS server.
func (c *Config) processName() string {
	if c.Shard != nil {
		return c.Shard.ServerID
	}
	if c.Directory != nil {
		return c.Directory.ServerID
	}
	return "pandora"
}
