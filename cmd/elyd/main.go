// Command elyd runs a single Elysium mesh node: it loads or creates a
// local identity, starts the mesh listener and background maintenance
// loops, and serves the control and messenger HTTP APIs, following the
// env-driven bring-up and graceful-shutdown style of repram's
// cmd/cluster-node.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/elysium-mesh/elysium/internal/api"
	"github.com/elysium-mesh/elysium/internal/config"
	"github.com/elysium-mesh/elysium/internal/identity"
	"github.com/elysium-mesh/elysium/internal/node"
)

func main() {
	cfg := config.FromEnv()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatalf("elyd: create data dir: %v", err)
	}
	id, err := identity.LoadOrCreate(filepath.Join(cfg.DataDir, "identity.json"), cfg.IdentityPassphrase)
	if err != nil {
		log.Fatalf("elyd: load identity: %v", err)
	}

	n, err := node.New(cfg, id)
	if err != nil {
		log.Fatalf("elyd: create node: %v", err)
	}
	if err := n.Start(); err != nil {
		log.Fatalf("elyd: start node: %v", err)
	}

	log.Printf("elyd: node %s listening on %s", n.Address(), cfg.ListenAddr)
	log.Printf("elyd: bootstrap peers: %v", cfg.BootstrapPeers)

	apiServer := api.NewServer(n)
	router := apiServer.Router()

	controlSrv := &http.Server{Addr: cfg.ControlAPIAddr, Handler: router}
	messengerSrv := &http.Server{Addr: cfg.MessengerAPIAddr, Handler: router}

	go func() {
		log.Printf("elyd: control API listening on %s", cfg.ControlAPIAddr)
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("elyd: control API stopped: %v", err)
		}
	}()
	go func() {
		log.Printf("elyd: messenger API listening on %s", cfg.MessengerAPIAddr)
		if err := messengerSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("elyd: messenger API stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("elyd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	controlSrv.Shutdown(shutdownCtx)
	messengerSrv.Shutdown(shutdownCtx)
	apiServer.Close()

	if err := n.Stop(); err != nil {
		log.Printf("elyd: node stop: %v", err)
	}
}
