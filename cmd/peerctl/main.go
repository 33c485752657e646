// Command peerctl is the operator-facing CLI for a running peerd
// daemon: it generates and stores identity keypairs, and drives a
// daemon's control API to connect peers and inspect status.
//
// Grounded on client/cli/main.go's command set (start/stop/status/
// connect/peers), rebuilt on spf13/cobra since the teacher pulls it in
// without ever wiring a cobra.Command anywhere in the corpus.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shadowmesh/tunnelmesh/pkg/crypto/hybrid"
	"github.com/shadowmesh/tunnelmesh/pkg/crypto/keystore"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:     "peerctl",
		Short:   "Operate a tunnelmesh peerd daemon",
		Version: version,
	}

	root.AddCommand(newGenKeyCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newConnectCmd())
	root.AddCommand(newDiscoverCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newGenKeyCmd() *cobra.Command {
	var outPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new identity keypair and store it encrypted on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keystore.Exists(outPath) && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", outPath)
			}

			passphrase, err := readPassphrase("Passphrase (min 12 chars): ")
			if err != nil {
				return err
			}

			kp, err := hybrid.GenerateHybridKeypair()
			if err != nil {
				return fmt.Errorf("generating keypair: %w", err)
			}
			if err := keystore.Save(kp, passphrase, outPath); err != nil {
				return fmt.Errorf("saving keystore: %w", err)
			}
			fmt.Printf("identity keypair written to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "identity.keystore", "path to write the encrypted keystore")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the daemon's active tunnels",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Status  string `json:"status"`
				Tunnels []struct {
					PeerHostID string `json:"peer_host_id"`
					RemoteAddr string `json:"remote_addr"`
					State      string `json:"state"`
				} `json:"tunnels"`
			}
			if err := getJSON(addr, "/status", &resp); err != nil {
				return err
			}
			if len(resp.Tunnels) == 0 {
				fmt.Println("no active tunnels")
				return nil
			}
			for _, t := range resp.Tunnels {
				fmt.Printf("%-20s %-22s %s\n", t.PeerHostID, t.RemoteAddr, t.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:9090", "daemon control API address")
	return cmd
}

func newConnectCmd() *cobra.Command {
	var addr, hostID, peerAddr string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Ask the daemon to dial a peer directly",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"host_id": hostID, "address": peerAddr}
			return postJSON(addr, "/connect", body)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:9090", "daemon control API address")
	cmd.Flags().StringVar(&hostID, "host-id", "", "peer's host id")
	cmd.Flags().StringVar(&peerAddr, "peer-addr", "", "peer's dialable ip:port")
	cmd.MarkFlagRequired("host-id")
	cmd.MarkFlagRequired("peer-addr")
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Ask the daemon to broadcast a discovery probe on its subnet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(addr, "/discover", map[string]string{})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:9090", "daemon control API address")
	return cmd
}

func getJSON(baseAddr, path string, out interface{}) error {
	resp, err := http.Get(strings.TrimRight(baseAddr, "/") + path)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(baseAddr, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(strings.TrimRight(baseAddr, "/")+path, "application/json", strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.Status != "success" {
		return fmt.Errorf("daemon: %s", result.Message)
	}
	fmt.Println(result.Message)
	return nil
}

func readPassphrase(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
