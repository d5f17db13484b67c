package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/viper"

	"github.com/jg-phare/mcphub/pkg/config"
	"github.com/jg-phare/mcphub/pkg/manager"
	"github.com/jg-phare/mcphub/pkg/router"
	"github.com/jg-phare/mcphub/pkg/tools"
)

const lockAcquireTimeout = 5 * time.Second

// hub bundles the pieces every subcommand works with: the loaded
// configuration, the connection manager, and the routers built on top of it.
type hub struct {
	cfgPath   string
	cfg       *config.Config
	logger    *slog.Logger
	manager   *manager.Manager
	commands  *router.Router
	registry  *tools.Registry
	discovery *tools.Discovery
	tools     *tools.Router

	lock *flock.Flock
}

// newHub loads the configuration named by --config / MCPHUB_CONFIG and wires
// the manager and routers. No servers are spawned yet.
func newHub() (*hub, error) {
	cfgPath := viper.GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	m := manager.New(cfg, manager.WithLogger(logger))
	registry := tools.NewRegistry()

	return &hub{
		cfgPath:   cfgPath,
		cfg:       cfg,
		logger:    logger,
		manager:   m,
		commands:  router.New(m, logger),
		registry:  registry,
		discovery: tools.NewDiscovery(m, registry, logger),
		tools:     tools.NewRouter(m, registry, logger),
	}, nil
}

// acquireLock takes the per-configuration instance lock so two hub processes
// never spawn the same configured servers.
func (h *hub) acquireLock(ctx context.Context) error {
	h.lock = flock.New(h.cfgPath + ".lock")

	lctx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	locked, err := h.lock.TryLockContext(lctx, 100*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("another hub instance is using %s", h.cfgPath)
	}
	return nil
}

// connectAll locks the configuration and spawns every active server.
func (h *hub) connectAll(ctx context.Context) error {
	if err := h.acquireLock(ctx); err != nil {
		return err
	}
	if conns := h.manager.ConnectAll(ctx); len(conns) == 0 {
		return fmt.Errorf("no servers could be started")
	}
	return nil
}

// connectOne locks the configuration and spawns a single server.
func (h *hub) connectOne(ctx context.Context, name string) error {
	if err := h.acquireLock(ctx); err != nil {
		return err
	}
	_, err := h.manager.Connect(ctx, name)
	return err
}

// connectGroup locks the configuration and spawns a group's members,
// best-effort.
func (h *hub) connectGroup(ctx context.Context, groupName string) error {
	group, ok := h.cfg.Group(groupName)
	if !ok {
		return fmt.Errorf("group %q not configured", groupName)
	}
	if err := h.acquireLock(ctx); err != nil {
		return err
	}
	for _, name := range group.Servers {
		if _, err := h.manager.Connect(ctx, name); err != nil {
			h.logger.Error("skipping server", "server", name, "error", err)
		}
	}
	return nil
}

// watchConfig blocks on the configuration file watcher, applying each
// successful reload to the manager and rediscovering tools on the servers
// that joined.
func (h *hub) watchConfig(ctx context.Context, pumped map[string]bool) error {
	return config.Watch(ctx, h.cfgPath,
		func(cfg *config.Config) {
			h.logger.Info("configuration changed, reloading")
			h.manager.Reload(cfg)
			h.manager.ConnectAll(ctx)

			// Prune tools whose server did not survive the reload.
			for _, id := range h.registry.IDs() {
				server, _, _ := strings.Cut(id, ".")
				if _, ok := h.manager.Get(server); !ok {
					h.registry.Unregister(server)
				}
			}

			h.discovery.DiscoverAll(ctx)
			h.pumpNotifications(pumped)
		},
		func(err error) {
			h.logger.Error("ignoring invalid configuration", "error", err)
		})
}

// close tears down every connection and releases the instance lock.
func (h *hub) close() {
	h.manager.DisconnectAll()
	if h.lock != nil {
		_ = h.lock.Unlock()
	}
}
