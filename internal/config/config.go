// Package config assembles node configuration from environment variables,
// the same env-var-driven pattern repram's cluster-node entrypoint uses,
// with defaults pulled from meshlink_core's original config.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of a running Elysium node.
type Config struct {
	ListenAddr string
	DataDir    string

	BootstrapPeers []string

	MaxConnections      int
	MaxConnectInFlight  int
	ConnectBackoffBase  time.Duration
	ConnectBackoffMax   time.Duration
	PeerStaleTimeout    time.Duration
	MaxConnectAttempts  int
	RetryInterval       time.Duration

	DedupWindow      time.Duration
	DedupRetention   time.Duration
	DefaultTTL       uint8
	MaxForwardPeers  int
	ContentFetchTTL  uint8

	InboxCapacity int

	ControlAPIAddr   string
	MessengerAPIAddr string
	EnableMetrics    bool

	EnableDiscovery bool
	DiscoveryPort   int

	RoutingLogDir string

	IdentityPassphrase string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// FromEnv builds a Config from environment variables, falling back to
// meshlink_core's documented defaults for anything unset.
func FromEnv() *Config {
	var bootstrap []string
	if raw := os.Getenv("ELYSIUM_BOOTSTRAP_PEERS"); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				bootstrap = append(bootstrap, addr)
			}
		}
	}

	return &Config{
		ListenAddr:         getenv("ELYSIUM_LISTEN_ADDR", "0.0.0.0:7700"),
		DataDir:            getenv("ELYSIUM_DATA_DIR", "./data"),
		BootstrapPeers:     bootstrap,
		MaxConnections:     getenvInt("ELYSIUM_MAX_CONNECTIONS", 24),
		MaxConnectInFlight: getenvInt("ELYSIUM_MAX_CONNECT_IN_FLIGHT", 16),
		ConnectBackoffBase: getenvDuration("ELYSIUM_CONNECT_BACKOFF_BASE", 1*time.Second),
		ConnectBackoffMax:  getenvDuration("ELYSIUM_CONNECT_BACKOFF_MAX", 120*time.Second),
		PeerStaleTimeout:   getenvDuration("ELYSIUM_PEER_STALE_TIMEOUT", 120*time.Second),
		MaxConnectAttempts: getenvInt("ELYSIUM_MAX_CONNECT_ATTEMPTS", 5),
		RetryInterval:      getenvDuration("ELYSIUM_RETRY_INTERVAL", 5*time.Second),
		DedupWindow:        getenvDuration("ELYSIUM_DEDUP_WINDOW", 60*time.Second),
		DedupRetention:     getenvDuration("ELYSIUM_DEDUP_RETENTION", 300*time.Second),
		DefaultTTL:         uint8(getenvInt("ELYSIUM_DEFAULT_TTL", 10)),
		MaxForwardPeers:    getenvInt("ELYSIUM_MAX_FORWARD_PEERS", 3),
		ContentFetchTTL:    uint8(getenvInt("ELYSIUM_CONTENT_FETCH_TTL", 8)),
		InboxCapacity:      getenvInt("ELYSIUM_INBOX_CAPACITY", 500),
		ControlAPIAddr:     getenv("ELYSIUM_CONTROL_API_ADDR", "127.0.0.1:7701"),
		MessengerAPIAddr:   getenv("ELYSIUM_MESSENGER_API_ADDR", "127.0.0.1:7702"),
		EnableMetrics:      getenvBool("ELYSIUM_ENABLE_METRICS", true),
		EnableDiscovery:    getenvBool("ELYSIUM_ENABLE_DISCOVERY", false),
		DiscoveryPort:      getenvInt("ELYSIUM_DISCOVERY_PORT", 7703),
		RoutingLogDir:      getenv("ELYSIUM_ROUTING_LOG_DIR", ""),
		IdentityPassphrase: os.Getenv("ELYSIUM_IDENTITY_PASSPHRASE"),
	}
}
