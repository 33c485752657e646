//go:build !linux

package main

import (
	"context"
	"time"

	"github.com/shadowmesh/tunnelmesh/pkg/events"
	"github.com/shadowmesh/tunnelmesh/pkg/netutil"
)

// startAdapterWatcher uses the portable polling Watcher on platforms
// without a netlink-backed implementation.
func startAdapterWatcher(ctx context.Context, bus *events.Bus, pollInterval time.Duration) (stop func()) {
	w := netutil.NewWatcher(bus, pollInterval)
	w.Start(ctx)
	return w.Stop
}
