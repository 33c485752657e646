//go:build !linux

package netutil

import (
	"context"
	"errors"

	"github.com/shadowmesh/tunnelmesh/pkg/events"
)

// ErrLinkWatcherUnsupported is returned by LinkWatcher.Start on platforms
// with no netlink equivalent; callers fall back to Watcher's polling loop.
var ErrLinkWatcherUnsupported = errors.New("netutil: netlink link watcher is Linux-only")

// LinkWatcher is a stub on non-Linux platforms so cmd/peerd can reference
// the same type regardless of GOOS and fail over to Watcher at runtime.
type LinkWatcher struct{}

// NewLinkWatcher returns a stub watcher; Start always fails.
func NewLinkWatcher(bus *events.Bus) *LinkWatcher { return &LinkWatcher{} }

func (w *LinkWatcher) Start(ctx context.Context) error { return ErrLinkWatcherUnsupported }

func (w *LinkWatcher) Stop() {}
