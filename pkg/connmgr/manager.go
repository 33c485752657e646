// Package connmgr implements the connection manager (spec.md §4.6): it
// owns every Tunnel a daemon process holds, dialing new ones, promoting
// handshakes as they land, and reaping tunnels that go idle, outlive
// their pending window, or ride a network adapter that disappears.
// Grounded on the teacher's pkg/daemonmgr, generalized from one
// hard-coded peer connection to a host-id-keyed collection of many.
package connmgr

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/shadowmesh/tunnelmesh/pkg/crypto/rotation"
	"github.com/shadowmesh/tunnelmesh/pkg/events"
	"github.com/shadowmesh/tunnelmesh/pkg/logging"
	"github.com/shadowmesh/tunnelmesh/pkg/socket"
	"github.com/shadowmesh/tunnelmesh/pkg/tunnel"
)

// Config bundles a Manager's timer intervals and the collaborators every
// Tunnel it creates or adopts shares.
type Config struct {
	Period        time.Duration // timer tick interval, default 5s
	MaxPendingAge time.Duration // default 25s
	MaxIdleAge    time.Duration // default 10s
	// RotationInterval drives a background key rotation of every active
	// tunnel; 0 disables automatic rotation (a peer's own
	// ClientKeyExchange still triggers rotation on the receiving side
	// regardless, per spec.md §4.5).
	RotationInterval time.Duration
	Tunnel           tunnel.Config
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = 5 * time.Second
	}
	if c.MaxPendingAge <= 0 {
		c.MaxPendingAge = 25 * time.Second
	}
	if c.MaxIdleAge <= 0 {
		c.MaxIdleAge = 10 * time.Second
	}
	return c
}

// pendingEntry tracks a dial or accept in flight, keyed by the host id
// the caller expects (dial side) or "" until the peer identifies itself
// (accept side never populates pendingByHost today, see Adopt's doc).
type pendingEntry struct {
	hostID  string
	addr    string
	created time.Time
	cancel  context.CancelFunc
}

// Manager holds every Tunnel a process has active or in flight, keeping
// the invariant that a host id appears in at most one of pendingByHost
// and activeByHost at any time (spec.md §4.6).
type Manager struct {
	cfg Config
	bus *events.Bus

	mu            sync.Mutex
	pendingByHost map[string]*pendingEntry
	pendingList   []*pendingEntry
	activeByHost  map[string]*tunnel.Tunnel

	sub      *events.Subscription
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool

	rotTimer *rotation.RotationTimer
}

// New builds a Manager. Call Start to begin its timer and event loops.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:           cfg,
		bus:           cfg.Tunnel.Bus,
		pendingByHost: make(map[string]*pendingEntry),
		activeByHost:  make(map[string]*tunnel.Tunnel),
	}
}

// Start begins the periodic reap/heartbeat sweep and, if the Manager was
// built with an event bus, the subscriber loop that promotes completed
// handshakes and reacts to adapter and discovery events. Call once.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	if m.bus != nil {
		m.sub = m.bus.Subscribe(64)
		m.wg.Add(1)
		go m.eventLoop()
	}

	m.wg.Add(1)
	go m.tickLoop(ctx)

	if m.cfg.RotationInterval > 0 {
		m.rotTimer = rotation.NewRotationTimer(m.cfg.RotationInterval, m.rotateActive)
		m.rotTimer.Start(ctx)
	}
}

// rotateActive asks every currently active tunnel to begin a key
// rotation (pkg/crypto/rotation.RotationTimer's callback). A Tunnel not
// in WAIT_DATA rejects the request with ErrNotEstablished, which is
// expected churn during a handshake and not worth logging.
func (m *Manager) rotateActive() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, t := range m.Active() {
		if err := t.Rotate(ctx); err != nil && err != tunnel.ErrNotEstablished {
			logging.Warnf("connmgr: rotating key with %s: %v", t.PeerHostID(), err)
		}
	}
}

// Stop halts the timer and event loops and waits for them to exit. It
// does not close any tunnel the Manager holds.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	if m.sub != nil {
		m.sub.Close()
	}
	if m.rotTimer != nil {
		m.rotTimer.Stop()
	}
	m.wg.Wait()
}

// Connect dials addr expecting to reach hostID, registering the attempt
// as pending immediately. A no-op if hostID is already active or already
// has a dial in flight (spec.md §4.6's idempotent connect); an inbound
// handshake still running inside Adopt is not tracked by host id, so it
// does not make Connect a no-op.
// The dial itself runs in the background; Promote moves the resulting
// Tunnel into the active set once the handshake completes.
func (m *Manager) Connect(hostID, addr string) error {
	m.mu.Lock()
	if _, ok := m.activeByHost[hostID]; ok {
		m.mu.Unlock()
		return nil
	}
	if _, ok := m.pendingByHost[hostID]; ok {
		m.mu.Unlock()
		return nil
	}
	dialCtx, cancel := context.WithTimeout(context.Background(), m.cfg.MaxPendingAge)
	entry := &pendingEntry{hostID: hostID, addr: addr, created: time.Now(), cancel: cancel}
	m.pendingByHost[hostID] = entry
	m.pendingList = append(m.pendingList, entry)
	m.mu.Unlock()

	sock, err := socket.DialTCP(dialCtx, addr)
	if err != nil {
		cancel()
		m.forgetPending(hostID)
		return fmt.Errorf("connmgr: dial %s: %w", addr, err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		tun, err := tunnel.DialInitiator(dialCtx, sock, m.cfg.Tunnel, hostID)
		if err != nil {
			sock.Close()
			m.forgetPending(hostID)
			logging.Warnf("connmgr: handshake with %s (%s) failed: %v", hostID, addr, err)
			return
		}
		m.Promote(tun)
	}()
	return nil
}

// Adopt completes the accepting side of a handshake over sock and, on
// success, registers the resulting Tunnel as active. Call once per
// connection handed off by a listener. Unlike Connect, the peer's host
// id isn't known until the handshake finishes, so an accepted connection
// has no pendingByHost entry of its own; spec.md §4.6's pending_list is
// approximated here by bounding the handshake itself with MaxPendingAge
// rather than tracking a pre-identification placeholder.
func (m *Manager) Adopt(ctx context.Context, sock socket.StreamSocket) (*tunnel.Tunnel, error) {
	acceptCtx, cancel := context.WithTimeout(ctx, m.cfg.MaxPendingAge)
	defer cancel()

	tun, err := tunnel.AcceptResponder(acceptCtx, sock, m.cfg.Tunnel)
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("connmgr: accept: %w", err)
	}
	m.Promote(tun)
	return tun, nil
}

// Promote moves tun into the active set keyed by its peer's host id,
// clearing any pending entry for that host (spec.md §4.6's
// promote_pending). Safe to call more than once for the same tunnel.
func (m *Manager) Promote(tun *tunnel.Tunnel) {
	hostID := tun.PeerHostID()

	m.mu.Lock()
	if entry, ok := m.pendingByHost[hostID]; ok {
		delete(m.pendingByHost, hostID)
		m.removeFromPendingListLocked(entry)
	}
	m.activeByHost[hostID] = tun
	m.mu.Unlock()

	logging.Infof("connmgr: %s connected (%s)", hostID, tun.RemoteAddr())
}

// Get returns the active tunnel to hostID, if any.
func (m *Manager) Get(hostID string) (*tunnel.Tunnel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.activeByHost[hostID]
	return t, ok
}

// Reap closes and forgets the tunnel to hostID, wherever it sits across
// the pending and active collections (spec.md §4.6).
func (m *Manager) Reap(hostID string) {
	t := m.forget(hostID)
	if t != nil {
		t.Close()
	}
}

// forget removes hostID's bookkeeping from both collections without
// closing anything, returning the active tunnel removed, if any. Used
// both by Reap (which then closes it) and by the KindTunnelClosed
// handler (whose tunnel is already closed).
func (m *Manager) forget(hostID string) *tunnel.Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, wasActive := m.activeByHost[hostID]
	delete(m.activeByHost, hostID)
	if entry, ok := m.pendingByHost[hostID]; ok {
		delete(m.pendingByHost, hostID)
		m.removeFromPendingListLocked(entry)
	}
	if !wasActive {
		return nil
	}
	return t
}

func (m *Manager) forgetPending(hostID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.pendingByHost[hostID]; ok {
		delete(m.pendingByHost, hostID)
		m.removeFromPendingListLocked(entry)
	}
}

func (m *Manager) removeFromPendingListLocked(e *pendingEntry) {
	for i, x := range m.pendingList {
		if x == e {
			m.pendingList = append(m.pendingList[:i], m.pendingList[i+1:]...)
			return
		}
	}
}

// Active returns a snapshot of every currently active tunnel.
func (m *Manager) Active() []*tunnel.Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*tunnel.Tunnel, 0, len(m.activeByHost))
	for _, t := range m.activeByHost {
		out = append(out, t)
	}
	return out
}

func (m *Manager) tickLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick implements spec.md §4.6's timer sweep: pending attempts older
// than MaxPendingAge are cancelled, active tunnels silent for more than
// 2*MaxIdleAge are torn down, and active tunnels silent for more than
// MaxIdleAge but less than that are prodded with a heartbeat.
func (m *Manager) tick() {
	now := time.Now()

	m.mu.Lock()
	var stale []*pendingEntry
	for _, e := range m.pendingList {
		if now.Sub(e.created) > m.cfg.MaxPendingAge {
			stale = append(stale, e)
		}
	}
	actives := make([]*tunnel.Tunnel, 0, len(m.activeByHost))
	for _, t := range m.activeByHost {
		actives = append(actives, t)
	}
	m.mu.Unlock()

	for _, e := range stale {
		e.cancel()
	}

	for _, t := range actives {
		idle := now.Sub(t.LastRecv())
		if idle > 2*m.cfg.MaxIdleAge {
			logging.Infof("connmgr: reaping %s: idle %s", t.PeerHostID(), idle)
			t.Close()
			continue
		}
		if now.Sub(t.LastSent()) > m.cfg.MaxIdleAge {
			hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := t.SendHeartbeat(hbCtx)
			cancel()
			if err != nil {
				logging.Warnf("connmgr: heartbeat to %s failed: %v", t.PeerHostID(), err)
				t.Close()
			}
		}
	}
}

func (m *Manager) eventLoop() {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-m.sub.C:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) handleEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindTunnelClosed:
		m.forget(ev.HostID)
	case events.KindAdapterChanged:
		m.reapAdapterTunnels(ev.AdapterName)
	case events.KindPeerDiscovered:
		m.handlePeerDiscovered(ev)
	}
}

// handlePeerDiscovered implements spec.md §4.7 step 4's tie-break: of
// the two peers that just found each other, only the one with the
// numerically lower host id actually dials, so both sides don't race
// symmetric connects. Comparison is lexicographic over the host id
// string, a deterministic total order regardless of how host ids are
// minted.
func (m *Manager) handlePeerDiscovered(ev events.Event) {
	if ev.Addr == "" {
		return
	}
	if m.cfg.Tunnel.HostID >= ev.HostID {
		return
	}
	if err := m.Connect(ev.HostID, ev.Addr); err != nil {
		logging.Warnf("connmgr: connect to discovered peer %s failed: %v", ev.HostID, err)
	}
}

// reapAdapterTunnels implements spec.md §5's adapter-change reaction.
// pkg/netutil reports only that some adapter's addresses changed, not
// which addresses it used to have, so rather than diffing one adapter's
// before/after set, this checks every active tunnel's local address
// against the machine's current address set as a whole: a tunnel bound
// to an address that is no longer present anywhere must have been
// riding the adapter that just lost it.
func (m *Manager) reapAdapterTunnels(adapterName string) {
	current := allHostAddrs()

	m.mu.Lock()
	var toClose []*tunnel.Tunnel
	for hostID, t := range m.activeByHost {
		if !current[hostAddr(t.LocalAddr())] {
			toClose = append(toClose, t)
			delete(m.activeByHost, hostID)
		}
	}
	m.mu.Unlock()

	for _, t := range toClose {
		logging.Infof("connmgr: reaping %s: local address gone after %s changed", t.PeerHostID(), adapterName)
		t.Close()
	}
}

// allHostAddrs returns every IP address currently bound to any local
// interface.
func allHostAddrs() map[string]bool {
	set := make(map[string]bool)
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return set
	}
	for _, a := range addrs {
		if ip, _, err := net.ParseCIDR(a.String()); err == nil {
			set[ip.String()] = true
		}
	}
	return set
}

func hostAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
