//go:build linux

package main

import (
	"context"
	"time"

	"github.com/shadowmesh/tunnelmesh/pkg/events"
	"github.com/shadowmesh/tunnelmesh/pkg/logging"
	"github.com/shadowmesh/tunnelmesh/pkg/netutil"
)

// startAdapterWatcher prefers the netlink-backed LinkWatcher on Linux,
// falling back to the polling Watcher if the netlink subscription itself
// fails to start (e.g. insufficient capabilities in a container).
func startAdapterWatcher(ctx context.Context, bus *events.Bus, pollInterval time.Duration) (stop func()) {
	lw := netutil.NewLinkWatcher(bus)
	if err := lw.Start(ctx); err == nil {
		return lw.Stop
	} else {
		logging.Warnf("peerd: netlink adapter watcher unavailable (%v), falling back to polling", err)
	}

	w := netutil.NewWatcher(bus, pollInterval)
	w.Start(ctx)
	return w.Stop
}
