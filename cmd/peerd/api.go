package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shadowmesh/tunnelmesh/pkg/connmgr"
	"github.com/shadowmesh/tunnelmesh/pkg/discovery"
	"github.com/shadowmesh/tunnelmesh/pkg/logging"
)

// controlAPI is the daemon's local HTTP control surface, grounded on the
// teacher's DaemonAPI (pkg/daemonmgr/api_server.go): a peerctl process
// talks to a running peerd over this instead of touching its internals
// directly.
type controlAPI struct {
	mgr       *connmgr.Manager
	discovery *discovery.Listener // nil if discovery.enabled is false
	server    *http.Server
}

func newControlAPI(addr string, mgr *connmgr.Manager, disc *discovery.Listener) *controlAPI {
	api := &controlAPI{mgr: mgr, discovery: disc}

	mux := http.NewServeMux()
	mux.HandleFunc("/connect", api.handleConnect)
	mux.HandleFunc("/status", api.handleStatus)
	mux.HandleFunc("/health", api.handleHealth)
	mux.HandleFunc("/discover", api.handleDiscover)

	api.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return api
}

func (api *controlAPI) Start() error {
	logging.Infof("control API listening on %s", api.server.Addr)
	if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control API: %w", err)
	}
	return nil
}

func (api *controlAPI) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return api.server.Shutdown(ctx)
}

// ConnectRequest asks the daemon to dial a peer directly, bypassing
// discovery.
type ConnectRequest struct {
	HostID  string `json:"host_id"`
	Address string `json:"address"`
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (api *controlAPI) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.sendJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Message: err.Error()})
		return
	}
	if req.HostID == "" || req.Address == "" {
		api.sendJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Message: "host_id and address are required"})
		return
	}

	if err := api.mgr.Connect(req.HostID, req.Address); err != nil {
		api.sendJSON(w, http.StatusInternalServerError, apiResponse{Status: "error", Message: err.Error()})
		return
	}
	api.sendJSON(w, http.StatusOK, apiResponse{Status: "success", Message: fmt.Sprintf("dialing %s at %s", req.HostID, req.Address)})
}

// TunnelStatus describes one active tunnel for /status.
type TunnelStatus struct {
	PeerHostID string `json:"peer_host_id"`
	RemoteAddr string `json:"remote_addr"`
	State      string `json:"state"`
}

type statusResponse struct {
	Status  string         `json:"status"`
	Tunnels []TunnelStatus `json:"tunnels"`
}

func (api *controlAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	active := api.mgr.Active()
	tunnels := make([]TunnelStatus, 0, len(active))
	for _, t := range active {
		tunnels = append(tunnels, TunnelStatus{
			PeerHostID: t.PeerHostID(),
			RemoteAddr: t.RemoteAddr(),
			State:      t.State().String(),
		})
	}
	api.sendJSON(w, http.StatusOK, statusResponse{Status: "success", Tunnels: tunnels})
}

func (api *controlAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	api.sendJSON(w, http.StatusOK, apiResponse{Status: "healthy"})
}

func (api *controlAPI) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if api.discovery == nil {
		api.sendJSON(w, http.StatusConflict, apiResponse{Status: "error", Message: "discovery is disabled in this daemon's config"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := api.discovery.Initiate(ctx); err != nil {
		api.sendJSON(w, http.StatusInternalServerError, apiResponse{Status: "error", Message: err.Error()})
		return
	}
	api.sendJSON(w, http.StatusOK, apiResponse{Status: "success", Message: "broadcast sent"})
}

func (api *controlAPI) sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warnf("control API: encoding response: %v", err)
	}
}
