// Package node wires every Elysium subsystem — identity, transport,
// peer management, routing, content fetch, inbox, naming, bundles —
// into one running mesh participant. It plays the role meshlink_core's
// node.rs Node plays: the thing that owns the listener, the dial loop,
// per-connection handshakes, and the background maintenance tasks, all
// built from the lower-level packages grounded package-by-package in
// DESIGN.md.
package node

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/elysium-mesh/elysium/internal/config"
	"github.com/elysium-mesh/elysium/internal/content"
	"github.com/elysium-mesh/elysium/internal/discovery"
	"github.com/elysium-mesh/elysium/internal/identity"
	"github.com/elysium-mesh/elysium/internal/inbox"
	"github.com/elysium-mesh/elysium/internal/logging"
	"github.com/elysium-mesh/elysium/internal/meshlink"
	"github.com/elysium-mesh/elysium/internal/naming"
	"github.com/elysium-mesh/elysium/internal/peer"
	"github.com/elysium-mesh/elysium/internal/router"
	"github.com/elysium-mesh/elysium/internal/store"
	"github.com/elysium-mesh/elysium/internal/transport"
)

// Node is one running Elysium mesh participant.
type Node struct {
	Cfg *config.Config
	ID  *identity.Identity

	Peers    *peer.Manager
	Router   *router.Router
	Inbox    *inbox.Store
	Names    *naming.Registry
	Content  *content.Store
	Waiters  *content.Waiters
	Registry *transport.Registry

	kv          store.Store
	backoff     *transport.Backoff
	dialLimiter *transport.DialLimiter
	dialQueue   *dialQueue
	listener    *transport.Listener

	sessionMu   sync.RWMutex
	sessionKeys map[string][]byte

	pingMu   sync.Mutex
	pingWait map[string]pendingPing

	routingLogger *router.Logger
	events        *broadcaster
	discovery     *discovery.Manager

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type pendingPing struct {
	sentAt time.Time
	ch     chan time.Duration
}

// New assembles a Node from cfg and id, opening its durable store under
// cfg.DataDir.
func New(cfg *config.Config, id *identity.Identity) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, meshlink.Wrap(meshlink.KindIO, "create data dir", err)
	}
	kv, err := store.OpenFileBacked(filepath.Join(cfg.DataDir, "store.log"))
	if err != nil {
		return nil, err
	}

	var routingLogger *router.Logger
	if cfg.RoutingLogDir != "" {
		routingLogger, err = router.NewLogger(cfg.RoutingLogDir)
		if err != nil {
			logging.Warn("node: routing logger disabled: %v", err)
		}
	}

	r := router.New(id.NodeID, cfg.DedupWindow, cfg.DedupRetention)
	r.SetLogger(routingLogger)

	n := &Node{
		Cfg:         cfg,
		ID:          id,
		Peers:       peer.NewManager(id.NodeID, listenPort(cfg.ListenAddr)),
		Router:      r,
		Inbox:       inbox.NewWithCapacity(cfg.InboxCapacity),
		Names:       naming.New(kv),
		Content:     content.NewStore(kv),
		Waiters:     content.NewWaiters(),
		Registry:    transport.NewRegistry(),
		kv:            kv,
		backoff:       transport.NewBackoff(cfg.ConnectBackoffBase, cfg.ConnectBackoffMax),
		dialLimiter:   transport.NewDialLimiter(cfg.MaxConnectInFlight),
		dialQueue:     newDialQueue(),
		sessionKeys:   make(map[string][]byte),
		pingWait:      make(map[string]pendingPing),
		routingLogger: routingLogger,
		events:        newBroadcaster(),
		stopCh:        make(chan struct{}),
	}
	return n, nil
}

func listenPort(addr string) uint16 {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return uint16(port)
}

// Start binds the listener and launches every background loop.
func (n *Node) Start() error {
	ln, err := transport.Listen(n.Cfg.ListenAddr)
	if err != nil {
		return err
	}
	n.listener = ln

	n.wg.Add(4)
	go n.acceptLoop()
	go n.dialLoop()
	go n.maintenanceLoop()
	go n.cacheSaveLoop()

	if n.Cfg.EnableDiscovery {
		pubDER, err := n.ID.Manager.PublicKeyDER()
		if err != nil {
			return err
		}
		n.discovery = discovery.New(n.ID.NodeID, listenPort(n.Cfg.ListenAddr), pubDER, n.Cfg.DiscoveryPort)
		if err := n.discovery.Start(); err != nil {
			logging.Warn("node: LAN discovery disabled: %v", err)
			n.discovery = nil
		} else {
			n.wg.Add(1)
			go n.discoveryLoop()
		}
	}

	logging.Info("node: %s listening on %s", n.ID.Address(), n.Cfg.ListenAddr)
	return nil
}

// discoveryLoop folds LAN-discovered peers into the dial queue as they
// arrive.
func (n *Node) discoveryLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case p, ok := <-n.discovery.Peers:
			if !ok {
				return
			}
			n.seedDialTarget(p.Address.String())
		}
	}
}

// Stop closes the listener, signals every background loop to exit, and
// waits for them to finish.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		if n.listener != nil {
			n.listener.Close()
		}
		if n.discovery != nil {
			n.discovery.Stop()
		}
	})
	n.wg.Wait()
	if n.routingLogger != nil {
		if err := n.routingLogger.Close(); err != nil {
			logging.Warn("node: routing logger close: %v", err)
		}
	}
	return n.kv.Close()
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				logging.Warn("node: accept failed: %v", err)
				return
			}
		}
		go n.handleInbound(conn)
	}
}

func (n *Node) maintenanceLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			removed := n.Peers.RemoveStale(n.Cfg.PeerStaleTimeout)
			if removed > 0 {
				logging.Debug("node: pruned %d stale peers", removed)
			}
		}
	}
}

func (n *Node) cacheSaveLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	path := filepath.Join(n.Cfg.DataDir, "peers.json")
	for {
		select {
		case <-n.stopCh:
			_ = n.Peers.SaveCache(path)
			return
		case <-ticker.C:
			if err := n.Peers.SaveCache(path); err != nil {
				logging.Warn("node: peer cache save failed: %v", err)
			}
		}
	}
}

// Address returns this node's ely:// address.
func (n *Node) Address() string { return n.ID.Address() }

// Subscribe registers for node lifecycle/message events (used by the
// messenger API's SSE stream). Call the returned func to unsubscribe.
func (n *Node) Subscribe() (<-chan Event, func()) {
	return n.events.subscribe()
}
