// Package discovery implements the broadcast peer-discovery protocol
// (spec.md §4.7): a three-message UDP exchange, framed and encrypted
// like any other wire frame but carrying no session header, that lets
// hosts on the same subnet find each other without a rendezvous server.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/shadowmesh/tunnelmesh/pkg/events"
	"github.com/shadowmesh/tunnelmesh/pkg/logging"
	"github.com/shadowmesh/tunnelmesh/pkg/socket"
	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

// DefaultPort is the fixed UDP port the protocol broadcasts and listens
// on (spec.md §4.7 calls for "a fixed port" without naming one; every
// host on a subnet must agree on the same value).
const DefaultPort = 47623

// errNoBroadcastAddrs is returned by Initiate/replyBeacon when the host
// has no IPv4 broadcast-capable adapter up.
var errNoBroadcastAddrs = errors.New("discovery: no IPv4 broadcast-capable adapters found")

// Config bundles a Listener's collaborators.
type Config struct {
	HostID string
	// ListeningTCPPort is this host's own tunnel listener port, advertised
	// to a discovered peer via Ping so it can dial back (spec.md §4.7
	// step 3).
	ListeningTCPPort uint16
	// Cipher is the pre-shared key every discovery datagram is framed
	// under; spec.md §4.7 requires discovery frames to be encrypted like
	// any other (§4.1) despite carrying no session header.
	Cipher  wire.Cipher
	Catalog *wire.Catalog
	Bus     *events.Bus
	// Port overrides DefaultPort. 0 selects DefaultPort; a negative value
	// requests an OS-assigned ephemeral port (used by tests so multiple
	// Listeners in one process don't fight over DefaultPort).
	Port int
}

func (c Config) port() int {
	switch {
	case c.Port < 0:
		return 0
	case c.Port == 0:
		return DefaultPort
	default:
		return c.Port
	}
}

// Listener drives the receive side of the protocol over one UDP socket:
// answering InitiateDiscovery with a Beacon, Beacon with a Ping, and
// publishing PeerDiscovered on Ping (spec.md §4.7 steps 2-4). Initiate
// drives the send side of step 1.
type Listener struct {
	cfg  Config
	sock *socket.UDPSocket
	ring wire.KeyRing
	wg   sync.WaitGroup
}

// Listen binds the discovery UDP socket and starts the receive loop.
func Listen(cfg Config) (*Listener, error) {
	sock, err := socket.ListenUDP(fmt.Sprintf(":%d", cfg.port()))
	if err != nil {
		return nil, fmt.Errorf("discovery: listen: %w", err)
	}
	l := &Listener{cfg: cfg, sock: sock, ring: singleCipherRing{c: cfg.Cipher}}
	l.wg.Add(1)
	go l.recvLoop()
	return l, nil
}

// Close stops the receive loop and releases the socket.
func (l *Listener) Close() error {
	err := l.sock.Close()
	l.wg.Wait()
	return err
}

// Initiate broadcasts InitiateDiscovery to every directly attached IPv4
// broadcast address (spec.md §4.7 step 1).
func (l *Listener) Initiate(ctx context.Context) error {
	return l.broadcastAll(ctx, &wire.InitiateDiscovery{HostID: l.cfg.HostID})
}

func (l *Listener) broadcastAll(ctx context.Context, msg wire.Message) error {
	framed, err := wire.EncodeFrame(l.cfg.Cipher, nil, false, msg, l.cfg.Catalog)
	if err != nil {
		return fmt.Errorf("discovery: framing %s: %w", msg.Type(), err)
	}

	addrs, err := broadcastAddrs()
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return errNoBroadcastAddrs
	}

	var firstErr error
	for _, addr := range addrs {
		dest := net.JoinHostPort(addr, strconv.Itoa(l.cfg.port()))
		if err := l.sock.WriteTo(ctx, framed, dest); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Listener) recvLoop() {
	defer l.wg.Done()
	ctx := context.Background()
	for {
		data, from, err := l.sock.ReadFrom(ctx)
		if err != nil {
			return
		}
		l.handleDatagram(ctx, data, from)
	}
}

func (l *Listener) handleDatagram(ctx context.Context, data []byte, from string) {
	decoded, err := wire.DecodeFrame(data, l.ring, l.cfg.Catalog, false)
	if err != nil {
		// Malformed or undecryptable datagrams are silently dropped
		// (spec.md §4.7's stated failure mode).
		return
	}

	switch m := decoded.Message.(type) {
	case *wire.InitiateDiscovery:
		if m.HostID == l.cfg.HostID {
			return
		}
		if err := l.broadcastAll(ctx, &wire.Beacon{HostID: l.cfg.HostID}); err != nil {
			logging.Warnf("discovery: broadcasting beacon: %v", err)
		}
	case *wire.Beacon:
		if m.HostID == l.cfg.HostID {
			return
		}
		l.replyPing(ctx, from)
	case *wire.Ping:
		if m.HostID == l.cfg.HostID {
			return
		}
		l.publishPeer(m, from)
	}
}

func (l *Listener) replyPing(ctx context.Context, to string) {
	msg := &wire.Ping{HostID: l.cfg.HostID, ListeningTCPPort: l.cfg.ListeningTCPPort}
	framed, err := wire.EncodeFrame(l.cfg.Cipher, nil, false, msg, l.cfg.Catalog)
	if err != nil {
		logging.Warnf("discovery: framing ping: %v", err)
		return
	}
	if err := l.sock.WriteTo(ctx, framed, to); err != nil {
		logging.Warnf("discovery: sending ping to %s: %v", to, err)
	}
}

func (l *Listener) publishPeer(m *wire.Ping, from string) {
	if l.cfg.Bus == nil {
		return
	}
	host, _, err := net.SplitHostPort(from)
	if err != nil {
		host = from
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(m.ListeningTCPPort)))
	l.cfg.Bus.Publish(events.Event{Kind: events.KindPeerDiscovered, HostID: m.HostID, Addr: addr})
}

// broadcastAddrs returns the IPv4 broadcast address of every up,
// non-loopback, broadcast-capable local adapter.
func broadcastAddrs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("discovery: listing interfaces: %w", err)
	}

	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || len(ipNet.Mask) != net.IPv4len {
				continue
			}
			bcast := make(net.IP, net.IPv4len)
			for i := range ip4 {
				bcast[i] = ip4[i] | ^ipNet.Mask[i]
			}
			out = append(out, bcast.String())
		}
	}
	return out, nil
}

// singleCipherRing adapts one pre-shared wire.Cipher into a wire.KeyRing
// so DecodeFrame can look it up by key-id; discovery traffic never
// installs or rotates keys, so the mutating operations are unsupported.
type singleCipherRing struct{ c wire.Cipher }

func (r singleCipherRing) CipherFor(id wire.KeyID) (wire.Cipher, bool) {
	if r.c != nil && id == r.c.KeyID() {
		return r.c, true
	}
	return nil, false
}

func (r singleCipherRing) RandomCipher() wire.Cipher { return r.c }

func (r singleCipherRing) AddCipherKey([]byte) (wire.Cipher, error) {
	return nil, errors.New("discovery: key-ring does not support installing keys")
}

func (r singleCipherRing) EvictCipherID(wire.KeyID) {}

func (r singleCipherRing) CreateKeyExchange() (wire.KeyExchange, error) {
	return nil, errors.New("discovery: key-ring does not support key exchange")
}

func (r singleCipherRing) CipherSuite() string { return "" }
