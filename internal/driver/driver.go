package driver

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultFlushInterval = time.Second * 2
	DefaultEvictInterval = time.Second * 30
)

// SpaceHost is a process holding active spaces, such as a shard.
type SpaceHost interface {
	// Flush writes changed spaces and characters to the directory.
	Flush(context.Context) error
	// Evict deactivates spaces that are empty and fully saved.
	Evict(context.Context) error
}

// Driver paces the persistence of every host: frequent flushes, and a
// slower sweep that unloads idle spaces.
type Driver struct {
	flushInterval time.Duration
	evictInterval time.Duration
	hosts         []SpaceHost
}

func NewDriver(hosts []SpaceHost, opts ...DriverOpt) *Driver {
	d := &Driver{
		flushInterval: DefaultFlushInterval,
		evictInterval: DefaultEvictInterval,
		hosts:         hosts,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Driver) Start(ctx context.Context) error {
	flush := time.NewTicker(d.flushInterval)
	defer flush.Stop()
	evict := time.NewTicker(d.evictInterval)
	defer evict.Stop()

	slog.InfoContext(ctx, "driver started",
		"flush", d.flushInterval.String(),
		"evict", d.evictInterval.String(),
		"hosts", len(d.hosts))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-flush.C:
			if err := d.Flush(ctx); err != nil {
				return err
			}
		case <-evict.C:
			if err := d.Evict(ctx); err != nil {
				return err
			}
		}
	}
}

// Flush flushes every host, stopping at the first error.
func (d *Driver) Flush(ctx context.Context) error {
	for _, h := range d.hosts {
		if err := h.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Evict sweeps every host, stopping at the first error.
func (d *Driver) Evict(ctx context.Context) error {
	for _, h := range d.hosts {
		if err := h.Evict(ctx); err != nil {
			return err
		}
	}
	return nil
}
