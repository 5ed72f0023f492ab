package command

import (
	"fmt"

	"github.com/pixil98/go-pandora/internal/directory"
	"github.com/pixil98/go-pandora/internal/driver"
	"github.com/pixil98/go-pandora/internal/listener"
	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-service"
)

const (
	routeClient    = "/client"
	routeShard     = "/shard"
	routeDirectory = "/directory"
)

func BuildWorkers(config interface{}) (service.WorkerList, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unable to cast config")
	}

	workers := service.WorkerList{}
	var routes []listener.ConnectionManagerOpt
	var listenerOpts []listener.WebSocketListenerOpt

	// Room broadcasts and shared client membership
	name := cfg.processName()
	transport, natsWorker, err := cfg.Nats.buildTransport(name)
	if err != nil {
		return nil, fmt.Errorf("creating nats transport: %w", err)
	}
	workers["nats"] = natsWorker

	if cfg.Directory != nil {
		registry := network.NewRegistry(cfg.Directory.ServerID)
		bus, err := cfg.Nats.buildBus(transport, registry)
		if err != nil {
			return nil, fmt.Errorf("creating directory bus: %w", err)
		}

		dir, err := cfg.Directory.buildServer(
			directory.WithRegistry(registry),
			directory.WithGroupSender(bus),
		)
		if err != nil {
			return nil, fmt.Errorf("creating directory: %w", err)
		}
		if err := bus.ShareRoom(dir.ClientRoom()); err != nil {
			return nil, fmt.Errorf("sharing client room: %w", err)
		}

		routes = append(routes,
			listener.WithRoute(routeShard, dir.AcceptShard),
			listener.WithRoute(routeDirectory, dir.AcceptClient),
		)
		workers["directory-bus"] = bus
	}

	if cfg.Shard != nil {
		registry := network.NewRegistry(cfg.Shard.ServerID)
		bus, err := cfg.Nats.buildBus(transport, registry)
		if err != nil {
			return nil, fmt.Errorf("creating shard bus: %w", err)
		}

		// Persistence
		remote := cfg.Shard.buildDirectory()

		s, err := cfg.Shard.buildShard(registry, remote, bus)
		if err != nil {
			return nil, fmt.Errorf("creating shard: %w", err)
		}
		routes = append(routes, listener.WithRoute(routeClient, s.Accept))
		// A directory served by this process would never become reachable.
		if cfg.Directory == nil {
			listenerOpts = append(listenerOpts, listener.WithWaitFor(remote.WaitReady))
		}

		workers["shard-bus"] = bus
		workers["directory-client"] = remote
		workers["shard"] = s
		workers["driver"] = driver.NewDriver([]driver.SpaceHost{s}, cfg.driverOpts()...)
	}

	workers["listener"] = cfg.Listener.BuildListener(routes, listenerOpts...)

	return workers, nil
}
