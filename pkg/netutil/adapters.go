// Package netutil implements the Adapters collaborator (SPEC_FULL.md
// §6.2): a watcher that publishes an events.Event each time a network
// adapter appears, disappears, or changes its address set. pkg/connmgr
// subscribes to these to reap active tunnels whose local address has
// disappeared.
package netutil

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/shadowmesh/tunnelmesh/pkg/events"
)

// Watcher polls net.Interfaces() at interval and diffs the result against
// its last snapshot, publishing a KindAdapterChanged event on bus for
// every interface whose name, flags, or address set changed. This is the
// portable backend; adapters_linux.go replaces the polling loop with a
// netlink subscription on Linux, where one exists.
//
// Grounded on pkg/crypto/rotation.RotationTimer's start/stop-with-context
// shape: a ticker-driven goroutine, a stop channel for an explicit Stop,
// and context cancellation as the second way out.
type Watcher struct {
	bus      *events.Bus
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	snapshot map[string]string // adapter name -> stable fingerprint
}

// NewWatcher returns a Watcher that publishes to bus, polling every
// interval.
func NewWatcher(bus *events.Bus, interval time.Duration) *Watcher {
	return &Watcher{bus: bus, interval: interval, snapshot: make(map[string]string)}
}

// Start begins polling in a background goroutine. A no-op if already
// running. The goroutine exits when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})

	w.wg.Add(1)
	go w.run(ctx, w.stopChan)
}

func (w *Watcher) run(ctx context.Context, stop chan struct{}) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll()
	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the watcher and blocks until its goroutine has exited.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopChan)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) poll() {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	current := make(map[string]string, len(ifaces))
	for _, iface := range ifaces {
		current[iface.Name] = fingerprint(iface)
	}

	w.mu.Lock()
	prev := w.snapshot
	w.snapshot = current
	w.mu.Unlock()

	for name, fp := range current {
		if prevFP, ok := prev[name]; !ok || prevFP != fp {
			w.bus.Publish(events.Event{Kind: events.KindAdapterChanged, AdapterName: name})
		}
	}
	for name := range prev {
		if _, ok := current[name]; !ok {
			w.bus.Publish(events.Event{Kind: events.KindAdapterChanged, AdapterName: name})
		}
	}
}

func fingerprint(iface net.Interface) string {
	addrs, err := iface.Addrs()
	if err != nil {
		return iface.Flags.String()
	}
	strs := make([]string, 0, len(addrs))
	for _, a := range addrs {
		strs = append(strs, a.String())
	}
	sort.Strings(strs)

	fp := iface.Flags.String()
	for _, s := range strs {
		fp += "|" + s
	}
	return fp
}
