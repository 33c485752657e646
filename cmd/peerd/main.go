// Command peerd is the production tunnel daemon: it wires a connection
// manager, a tunnel acceptor, an optional broadcast-discovery listener,
// and a network-adapter watcher together and exposes a local control API
// for peerctl (cmd/peerctl) to drive.
//
// Grounded on cmd/shadowmesh-daemon/main.go's shape (YAML config argument,
// signal-driven graceful shutdown) generalized from one hardcoded peer to
// a host-id-keyed mesh.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/shadowmesh/tunnelmesh/pkg/connmgr"
	"github.com/shadowmesh/tunnelmesh/pkg/crypto/keystore"
	"github.com/shadowmesh/tunnelmesh/pkg/discovery"
	"github.com/shadowmesh/tunnelmesh/pkg/events"
	"github.com/shadowmesh/tunnelmesh/pkg/logging"
	"github.com/shadowmesh/tunnelmesh/pkg/socket"
	"github.com/shadowmesh/tunnelmesh/pkg/tunnel"
	"github.com/shadowmesh/tunnelmesh/shared/crypto"
	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	configPath := os.Args[1]

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peerd: loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := validateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "peerd: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level := logging.INFO
	switch cfg.Daemon.LogLevel {
	case "debug":
		level = logging.DEBUG
	case "warn":
		level = logging.WARN
	case "error":
		level = logging.ERROR
	}
	if err := logging.InitDefaultLogger("peerd", level, ""); err != nil {
		fmt.Fprintf(os.Stderr, "peerd: initializing logger: %v\n", err)
		os.Exit(1)
	}

	logging.Infof("peerd v%s starting, host id %q", version, cfg.Daemon.HostID)

	key, err := hex.DecodeString(cfg.Encryption.Key)
	if err != nil {
		logging.Fatalf("peerd: decoding encryption.key: %v", err)
	}

	ring := crypto.NewKeyRing()
	if _, err := ring.AddCipherKey(key); err != nil {
		logging.Fatalf("peerd: installing pre-shared key: %v", err)
	}

	identity, err := loadOrCreateIdentity(cfg)
	if err != nil {
		logging.Fatalf("peerd: loading identity: %v", err)
	}

	catalog := wire.NewCatalog()
	wire.RegisterDefaultTypes(catalog)

	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := connmgr.New(connmgr.Config{
		Period:           cfg.connMgrPeriod(),
		MaxPendingAge:    cfg.connMgrMaxPending(),
		MaxIdleAge:       cfg.connMgrMaxIdle(),
		RotationInterval: cfg.connMgrRotationInterval(),
		Tunnel: tunnel.Config{
			HostID:   cfg.Daemon.HostID,
			Ring:     ring,
			Catalog:  catalog,
			Identity: identity,
			Bus:      bus,
		},
	})
	mgr.Start(ctx)
	defer mgr.Stop()

	stopWatcher := startAdapterWatcher(ctx, bus, cfg.connMgrPeriod())
	defer stopWatcher()

	ln, err := socket.ListenTCP(cfg.Daemon.TunnelAddress)
	if err != nil {
		logging.Fatalf("peerd: listening on %s: %v", cfg.Daemon.TunnelAddress, err)
	}
	defer ln.Close()
	go acceptLoop(ctx, ln, mgr)

	var disc *discovery.Listener
	if cfg.Discovery.Enabled {
		tcpPort, err := tunnelPort(cfg.Daemon.TunnelAddress)
		if err != nil {
			logging.Fatalf("peerd: parsing tunnel_address: %v", err)
		}
		// ring already holds this key from the AddCipherKey call above;
		// AddCipherKey is idempotent on key-id, so this just fetches it back.
		pskCipher, err := ring.AddCipherKey(key)
		if err != nil {
			logging.Fatalf("peerd: fetching pre-shared cipher: %v", err)
		}
		disc, err = discovery.Listen(discovery.Config{
			HostID:           cfg.Daemon.HostID,
			ListeningTCPPort: tcpPort,
			Cipher:           pskCipher,
			Catalog:          catalog,
			Bus:              bus,
			Port:             cfg.Discovery.Port,
		})
		if err != nil {
			logging.Fatalf("peerd: starting discovery listener: %v", err)
		}
		defer disc.Close()
		discPort := cfg.Discovery.Port
		if discPort == 0 {
			discPort = discovery.DefaultPort
		}
		logging.Infof("discovery listener up on port %d", discPort)
	}

	if cfg.Peer.Address != "" && cfg.Peer.HostID != "" {
		if err := mgr.Connect(cfg.Peer.HostID, cfg.Peer.Address); err != nil {
			logging.Warnf("peerd: dialing configured peer %s: %v", cfg.Peer.HostID, err)
		}
	}

	api := newControlAPI(cfg.Daemon.ListenAddress, mgr, disc)
	go func() {
		if err := api.Start(); err != nil {
			logging.Errorf("control API: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logging.Infof("shutdown signal received")
	if err := api.Stop(); err != nil {
		logging.Warnf("stopping control API: %v", err)
	}
}

func acceptLoop(ctx context.Context, ln *socket.TCPListener, mgr *connmgr.Manager) {
	for {
		sock, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			if _, err := mgr.Adopt(ctx, sock); err != nil {
				logging.Warnf("peerd: adopting inbound connection from %s: %v", sock.RemoteAddr(), err)
			}
		}()
	}
}

func loadOrCreateIdentity(cfg *Config) (*crypto.Identity, error) {
	if cfg.Identity.KeyPath == "" {
		return crypto.NewIdentity(cfg.Daemon.HostID)
	}
	if !keystore.Exists(cfg.Identity.KeyPath) {
		return nil, fmt.Errorf("identity key %s does not exist; run peerctl genkey first", cfg.Identity.KeyPath)
	}
	kp, err := keystore.Load(cfg.Identity.Passphrase, cfg.Identity.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading identity keystore: %w", err)
	}
	return crypto.FromKeypair(cfg.Daemon.HostID, kp), nil
}

func tunnelPort(addr string) (uint16, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return 0, fmt.Errorf("parsing port %q: %w", portStr, err)
	}
	return port, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `peerd v%s

Usage:
  peerd <config-file>

Configuration file format (YAML):
  daemon:
    listen_address: "127.0.0.1:9090"
    tunnel_address: "0.0.0.0:9001"
    log_level: "info"
    host_id: "my-host"

  encryption:
    key: "0123456789abcdef..."  # 64 hex chars (32 bytes)

  discovery:
    enabled: true
    port: 47623

  peer:
    address: ""      # optional static peer to dial at startup
    host_id: ""

`, version)
}
