package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pixil98/go-testutil"
)

type countingHost struct {
	flushes  atomic.Int32
	evicts   atomic.Int32
	flushErr error
	evictErr error
}

func (h *countingHost) Flush(context.Context) error {
	h.flushes.Add(1)
	return h.flushErr
}

func (h *countingHost) Evict(context.Context) error {
	h.evicts.Add(1)
	return h.evictErr
}

func TestDriver_FlushAndEvict(t *testing.T) {
	tests := map[string]struct {
		hosts     []*countingHost
		run       func(*Driver) error
		expCounts []int32
		expErr    string
	}{
		"flush all hosts": {
			hosts:     []*countingHost{{}, {}},
			run:       func(d *Driver) error { return d.Flush(context.Background()) },
			expCounts: []int32{1, 1},
		},
		"flush stops at first error": {
			hosts:     []*countingHost{{flushErr: fmt.Errorf("flush failed")}, {}},
			run:       func(d *Driver) error { return d.Flush(context.Background()) },
			expCounts: []int32{1, 0},
			expErr:    "flush failed",
		},
		"evict all hosts": {
			hosts:     []*countingHost{{}, {}},
			run:       func(d *Driver) error { return d.Evict(context.Background()) },
			expCounts: []int32{1, 1},
		},
		"evict stops at first error": {
			hosts:     []*countingHost{{evictErr: fmt.Errorf("evict failed")}, {}},
			run:       func(d *Driver) error { return d.Evict(context.Background()) },
			expCounts: []int32{1, 0},
			expErr:    "evict failed",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			hosts := make([]SpaceHost, len(tt.hosts))
			for i, h := range tt.hosts {
				hosts[i] = h
			}

			err := tt.run(NewDriver(hosts))
			if tt.expErr != "" {
				testutil.AssertErrorContains(t, err, tt.expErr)
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			for i, h := range tt.hosts {
				testutil.AssertEqual(t, fmt.Sprintf("host %d calls", i), h.flushes.Load()+h.evicts.Load(), tt.expCounts[i])
			}
		})
	}
}

func TestDriver_StartPacesFlushAndEvict(t *testing.T) {
	h := &countingHost{}
	d := NewDriver([]SpaceHost{h},
		WithFlushInterval(5*time.Millisecond),
		WithEvictInterval(50*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.evicts.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("driver did not evict")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("driver did not stop")
	}

	if h.flushes.Load() <= h.evicts.Load() {
		t.Errorf("expected more flushes than evictions, got %d and %d", h.flushes.Load(), h.evicts.Load())
	}
}

func TestDriver_StartReturnsHostError(t *testing.T) {
	tests := map[string]struct {
		host   *countingHost
		expErr string
	}{
		"flush": {
			host:   &countingHost{flushErr: fmt.Errorf("directory gone")},
			expErr: "directory gone",
		},
		"evict": {
			host:   &countingHost{evictErr: fmt.Errorf("space stuck")},
			expErr: "space stuck",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			d := NewDriver([]SpaceHost{tt.host}, WithFlushInterval(time.Millisecond), WithEvictInterval(time.Millisecond))
			err := d.Start(context.Background())
			testutil.AssertErrorContains(t, err, tt.expErr)
		})
	}
}
