// Command tapbridge is a thin demo showing a Tunnel carrying an arbitrary
// byte stream: it reads raw frames off a TAP device and forwards each one
// as a DataPacket payload, and writes whatever it receives back from the
// peer straight onto the device. Payload contents are never interpreted;
// this only proves the transport, not a Layer 2 VPN.
//
// Grounded on the teacher's frameRouterOutbound/frameRouterInbound
// goroutine pair (pkg/daemonmgr/manager.go), generalized from its
// encryption-pipeline channel hop to a direct Tunnel.Send/Recv call.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shadowmesh/tunnelmesh/pkg/logging"
	"github.com/shadowmesh/tunnelmesh/pkg/socket"
	"github.com/shadowmesh/tunnelmesh/pkg/tap"
	"github.com/shadowmesh/tunnelmesh/pkg/tunnel"
	"github.com/shadowmesh/tunnelmesh/shared/crypto"
	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

func main() {
	var (
		hostID     = flag.String("host-id", "", "this host's id")
		peerHostID = flag.String("peer-host-id", "", "expected peer host id; dial mode only")
		listenAddr = flag.String("listen", "", "accept a tunnel on this address instead of dialing")
		dialAddr   = flag.String("dial", "", "dial a tunnel at this address")
		keyHex     = flag.String("key", "", "64 hex character pre-shared key")
		tapName    = flag.String("tap-name", "", "requested TAP interface name")
	)
	flag.Parse()

	if *hostID == "" || *keyHex == "" || (*listenAddr == "") == (*dialAddr == "") {
		fmt.Fprintln(os.Stderr, "usage: tapbridge -host-id=... -key=<64 hex chars> (-listen=addr | -dial=addr)")
		os.Exit(1)
	}

	if err := logging.InitDefaultLogger("tapbridge", logging.INFO, ""); err != nil {
		fmt.Fprintf(os.Stderr, "tapbridge: initializing logger: %v\n", err)
		os.Exit(1)
	}

	key, err := hex.DecodeString(*keyHex)
	if err != nil {
		logging.Fatalf("tapbridge: decoding key: %v", err)
	}

	ring := crypto.NewKeyRing()
	if _, err := ring.AddCipherKey(key); err != nil {
		logging.Fatalf("tapbridge: installing key: %v", err)
	}

	catalog := wire.NewCatalog()
	wire.RegisterDefaultTypes(catalog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tunCfg := tunnel.Config{HostID: *hostID, Ring: ring, Catalog: catalog}

	var tun *tunnel.Tunnel
	if *listenAddr != "" {
		ln, err := socket.ListenTCP(*listenAddr)
		if err != nil {
			logging.Fatalf("tapbridge: listening on %s: %v", *listenAddr, err)
		}
		defer ln.Close()
		logging.Infof("tapbridge: awaiting a connection on %s", *listenAddr)
		sock, err := ln.Accept()
		if err != nil {
			logging.Fatalf("tapbridge: accept: %v", err)
		}
		tun, err = tunnel.AcceptResponder(ctx, sock, tunCfg)
		if err != nil {
			logging.Fatalf("tapbridge: handshake: %v", err)
		}
	} else {
		sock, err := socket.DialTCP(ctx, *dialAddr)
		if err != nil {
			logging.Fatalf("tapbridge: dialing %s: %v", *dialAddr, err)
		}
		tun, err = tunnel.DialInitiator(ctx, sock, tunCfg, *peerHostID)
		if err != nil {
			logging.Fatalf("tapbridge: handshake: %v", err)
		}
	}
	defer tun.Close()
	logging.Infof("tapbridge: tunnel established with %q", tun.PeerHostID())

	device, err := tap.New(tap.Config{Name: *tapName})
	if err != nil {
		logging.Fatalf("tapbridge: opening TAP device: %v", err)
	}
	device.Start()
	defer device.Stop()
	logging.Infof("tapbridge: TAP device %s up", device.Name())

	go outboundLoop(ctx, tun, device)
	go inboundLoop(ctx, tun, device)
	go func() {
		for err := range device.ErrorChannel() {
			logging.Warnf("tapbridge: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logging.Infof("tapbridge: shutting down")
}

// outboundLoop routes frames from the TAP device into the tunnel.
func outboundLoop(ctx context.Context, tun *tunnel.Tunnel, device *tap.Device) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-device.ReadChannel():
			if !ok {
				return
			}
			if err := tun.Send(ctx, frame); err != nil {
				logging.Warnf("tapbridge: send: %v", err)
			}
		}
	}
}

// inboundLoop routes frames received over the tunnel back onto the TAP
// device.
func inboundLoop(ctx context.Context, tun *tunnel.Tunnel, device *tap.Device) {
	for {
		frame, err := tun.Recv(ctx)
		if err != nil {
			logging.Warnf("tapbridge: recv: %v", err)
			return
		}
		select {
		case device.WriteChannel() <- frame:
		case <-ctx.Done():
			return
		}
	}
}
