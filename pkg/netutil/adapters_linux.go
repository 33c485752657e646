//go:build linux

package netutil

import (
	"context"
	"sync"

	"github.com/shadowmesh/tunnelmesh/pkg/events"
	"github.com/vishvananda/netlink"
)

// LinkWatcher publishes a KindAdapterChanged event the instant the kernel
// reports a link add/remove/update, via netlink.LinkSubscribe, instead of
// polling net.Interfaces() on a timer like Watcher does. cmd/peerd prefers
// this backend when running on Linux.
type LinkWatcher struct {
	bus *events.Bus

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewLinkWatcher returns a netlink-backed watcher publishing to bus.
func NewLinkWatcher(bus *events.Bus) *LinkWatcher {
	return &LinkWatcher{bus: bus}
}

// Start subscribes to link updates in a background goroutine. A no-op if
// already running.
func (w *LinkWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	updates := make(chan netlink.LinkUpdate)
	done := make(chan struct{})
	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return err
	}

	w.running = true
	w.done = done
	w.wg.Add(1)
	go w.run(ctx, updates)
	return nil
}

func (w *LinkWatcher) run(ctx context.Context, updates chan netlink.LinkUpdate) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			w.bus.Publish(events.Event{
				Kind:        events.KindAdapterChanged,
				AdapterName: update.Link.Attrs().Name,
			})
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the subscription and blocks until its goroutine has exited.
func (w *LinkWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.done)
	w.mu.Unlock()
	w.wg.Wait()
}
