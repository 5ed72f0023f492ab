package driver

import "time"

type DriverOpt func(*Driver)

// WithFlushInterval sets how often changed state is written back.
func WithFlushInterval(interval time.Duration) DriverOpt {
	return func(d *Driver) {
		d.flushInterval = interval
	}
}

// WithEvictInterval sets how often idle spaces are unloaded. A space is only
// unloaded once a flush has saved it, so this should not be shorter than the
// flush interval.
func WithEvictInterval(interval time.Duration) DriverOpt {
	return func(d *Driver) {
		d.evictInterval = interval
	}
}
