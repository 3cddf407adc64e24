// Package api exposes a running node over HTTP, generalizing the
// teacher's single-store PUT/GET API (internal/node/server.go,
// middleware.go in the original tree) into Elysium's two HTTP surfaces:
// a control API for local tooling (status, peers, names, contacts,
// bundles) and a messenger API (send, inbox, content, profile, ping,
// plus an SSE event stream) a client UI talks to.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elysium-mesh/elysium/internal/content"
	"github.com/elysium-mesh/elysium/internal/inbox"
	"github.com/elysium-mesh/elysium/internal/naming"
	"github.com/elysium-mesh/elysium/internal/node"
)

// Server wraps a *node.Node with the control and messenger HTTP APIs,
// Prometheus instrumentation, and the shared security middleware.
type Server struct {
	n      *node.Node
	reg    *prometheus.Registry
	uptime time.Time

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	securityMW *SecurityMiddleware
}

// ErrorResponse is the JSON body written on any handler failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds a Server over n, registering its metrics against a
// fresh prometheus.Registry (kept private to this Server rather than
// the global default registry, so multiple Servers in one process —
// e.g. in tests — don't collide on metric registration).
func NewServer(n *node.Node) *Server {
	reg := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "elysium_api_requests_total",
		Help: "Total number of HTTP requests served by the node's API.",
	}, []string{"method", "endpoint", "status"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "elysium_api_request_duration_seconds",
		Help: "HTTP request duration in seconds, by endpoint.",
	}, []string{"method", "endpoint"})

	reg.MustRegister(requestTotal, requestDuration)
	reg.MustRegister(prometheus.NewGoCollector())

	return &Server{
		n:               n,
		reg:             reg,
		uptime:          time.Now(),
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		securityMW:      NewSecurityMiddleware(reg, 100, 200, 10*1024*1024),
	}
}

// Router builds the combined control + messenger API mux.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.securityMW.Middleware)
	r.Use(TimeoutMiddleware(30 * time.Second))

	r.HandleFunc("/health", s.instrument("health", s.healthHandler)).Methods("GET")
	r.HandleFunc("/status", s.instrument("status", s.statusHandler)).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})).Methods("GET")

	peers := r.PathPrefix("/peers").Subrouter()
	peers.HandleFunc("", s.instrument("peers_list", s.peersHandler)).Methods("GET")

	ping := r.PathPrefix("/ping").Subrouter()
	ping.HandleFunc("/{node_id}", s.instrument("ping", s.pingHandler)).Methods("POST")

	msg := r.PathPrefix("/messages").Subrouter()
	msg.Use(MaxRequestSizeMiddleware(1 * 1024 * 1024))
	msg.HandleFunc("", s.instrument("send_message", s.sendMessageHandler)).Methods("POST")

	inbox := r.PathPrefix("/inbox").Subrouter()
	inbox.HandleFunc("", s.instrument("inbox_list", s.inboxListHandler)).Methods("GET")
	inbox.HandleFunc("/watch", s.instrument("inbox_watch", s.inboxWatchHandler)).Methods("GET")
	inbox.HandleFunc("/conversations", s.instrument("conversations", s.conversationsHandler)).Methods("GET")
	inbox.HandleFunc("/conversations/{conversation_id}", s.instrument("inbox_conversation", s.inboxConversationHandler)).Methods("GET")

	contentAPI := r.PathPrefix("/content").Subrouter()
	contentAPI.Use(MaxRequestSizeMiddleware(10 * 1024 * 1024))
	contentAPI.HandleFunc("/{key}", s.instrument("content_put", s.contentPutHandler)).Methods("PUT")
	contentAPI.HandleFunc("/{key}", s.instrument("content_fetch", s.contentFetchHandler)).Methods("GET")

	profile := r.PathPrefix("/profile").Subrouter()
	profile.HandleFunc("", s.instrument("profile_publish", s.profilePublishHandler)).Methods("PUT")
	profile.HandleFunc("/{node_id}", s.instrument("profile_fetch", s.profileFetchHandler)).Methods("GET")

	names := r.PathPrefix("/names").Subrouter()
	names.HandleFunc("", s.instrument("names_publish", s.namesPublishHandler)).Methods("PUT")
	names.HandleFunc("/{name}", s.instrument("names_resolve", s.namesResolveHandler)).Methods("GET")

	contacts := r.PathPrefix("/contacts").Subrouter()
	contacts.HandleFunc("", s.instrument("contacts_list", s.contactsListHandler)).Methods("GET")
	contacts.HandleFunc("", s.instrument("contacts_add", s.contactsAddHandler)).Methods("POST")

	bundles := r.PathPrefix("/bundles").Subrouter()
	bundles.Use(MaxRequestSizeMiddleware(10 * 1024 * 1024))
	bundles.HandleFunc("/export", s.instrument("bundle_export", s.bundleExportHandler)).Methods("POST")
	bundles.HandleFunc("/import", s.instrument("bundle_import", s.bundleImportHandler)).Methods("POST")

	events := r.PathPrefix("/events").Subrouter()
	events.HandleFunc("", s.eventsHandler).Methods("GET")

	return r
}

func (s *Server) instrument(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(wrapped, r)
		s.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		s.requestTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(wrapped.statusCode)).Inc()
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"node_id":    s.n.ID.NodeID,
		"address":    s.n.Address(),
		"uptime":     time.Since(s.uptime).String(),
		"peer_count": len(s.n.Peers.Connected()),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc": m.Alloc,
			"sys":   m.Sys,
			"numgc": m.NumGC,
		},
	})
}

type peerView struct {
	NodeID          string  `json:"node_id"`
	Address         string  `json:"address,omitempty"`
	State           string  `json:"state"`
	ProtocolVersion uint8   `json:"protocol_version"`
	LatencyMS       float64 `json:"latency_ms,omitempty"`
	Reliability     float64 `json:"reliability"`
}

func (s *Server) peersHandler(w http.ResponseWriter, r *http.Request) {
	all := s.n.Peers.All()
	out := make([]peerView, 0, len(all))
	for _, p := range all {
		snap := p.Metrics.Snapshot()
		view := peerView{
			NodeID:          p.NodeID,
			State:           p.State.String(),
			ProtocolVersion: p.ProtocolVersion,
			Reliability:     snap.ReliabilityRatio,
		}
		if p.Address != nil {
			view.Address = p.Address.String()
		}
		if snap.HasLatency {
			view.LatencyMS = snap.LatencyMS
		}
		out = append(out, view)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) pingHandler(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["node_id"]
	rtt, err := s.n.Ping(nodeID, 5*time.Second)
	if err != nil {
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rtt_ms": float64(rtt.Microseconds()) / 1000.0})
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Data []byte `json:"data"`
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	messageID := s.n.SendMessage(req.To, req.Data)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"message_id": messageID})
}

func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.n.Inbox.Conversations())
}

func (s *Server) inboxConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversation_id"]
	s.writeJSON(w, http.StatusOK, s.n.Inbox.ListConversation(conversationID))
}

// inboxListHandler serves list_inbox: every message with seq > since
// across all conversations, oldest first, capped at limit.
func (s *Server) inboxListHandler(w http.ResponseWriter, r *http.Request) {
	since := parseSince(r)
	limit := parseLimit(r, inbox.MaxListLimit)
	s.writeJSON(w, http.StatusOK, s.n.Inbox.List(since, limit))
}

// inboxWatchHandler serves watch_inbox: a long-poll that blocks until a
// message newer than since arrives or timeout_ms elapses, capped at 60s.
func (s *Server) inboxWatchHandler(w http.ResponseWriter, r *http.Request) {
	since := parseSince(r)
	limit := parseLimit(r, inbox.MaxListLimit)
	timeout := parseTimeout(r, 30*time.Second)
	if timeout > 60*time.Second {
		timeout = 60 * time.Second
	}
	s.writeJSON(w, http.StatusOK, s.n.Inbox.Watch(since, timeout, limit))
}

type contentPutRequest struct {
	Data []byte `json:"data"`
}

func (s *Server) contentPutHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var req contentPutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.n.Content.Put(key, req.Data); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) contentFetchHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	timeout := parseTimeout(r, 5*time.Second)
	resp, err := s.n.FetchContent(key, timeout)
	if err != nil {
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) profilePublishHandler(w http.ResponseWriter, r *http.Request) {
	var profile content.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.n.PublishProfile(profile); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) profileFetchHandler(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["node_id"]
	timeout := parseTimeout(r, 5*time.Second)
	profile, err := s.n.FetchProfile(nodeID, timeout)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

type namePublishRequest struct {
	Name   string `json:"name"`
	NodeID string `json:"node_id"`
}

func (s *Server) namesPublishHandler(w http.ResponseWriter, r *http.Request) {
	var req namePublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.n.Names.Publish(req.Name, req.NodeID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) namesResolveHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rec, ok, err := s.n.Names.Resolve(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "name not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) contactsListHandler(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.n.Names.List(naming.KindContact)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, contacts)
}

type contactAddRequest struct {
	Nickname string `json:"nickname"`
	NodeID   string `json:"node_id"`
}

func (s *Server) contactsAddHandler(w http.ResponseWriter, r *http.Request) {
	var req contactAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.n.Names.AddContact(req.Nickname, req.NodeID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bundleExportRequest struct {
	ConversationID string `json:"conversation_id"`
	Path           string `json:"path"`
	TTLSeconds     int    `json:"ttl_seconds"`
}

func (s *Server) bundleExportHandler(w http.ResponseWriter, r *http.Request) {
	var req bundleExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.n.ExportBundle(req.ConversationID, req.Path, ttl); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type bundleImportRequest struct {
	Path string `json:"path"`
}

func (s *Server) bundleImportHandler(w http.ResponseWriter, r *http.Request) {
	var req bundleImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.n.ImportBundle(req.Path)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// eventsHandler streams the node's lifecycle/message events as
// server-sent events, for a messenger UI to render live without polling.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := s.n.Subscribe()
	defer unsubscribe()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func parseTimeout(r *http.Request, fallback time.Duration) time.Duration {
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

// parseSince reads the ?since= query param used by the global inbox
// list/watch endpoints, defaulting to 0 (everything retained).
func parseSince(r *http.Request) uint64 {
	if raw := r.URL.Query().Get("since"); raw != "" {
		if since, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return since
		}
	}
	return 0
}

// parseLimit reads the ?limit= query param, falling back to fallback
// when absent, zero, or malformed.
func parseLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			return limit
		}
	}
	return fallback
}

// Close releases the server's background resources (rate limiter sweep).
func (s *Server) Close() error {
	s.securityMW.Close()
	return nil
}
