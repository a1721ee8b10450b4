package control

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/simgunz/udp-ip-stack/internal/config"
	"github.com/simgunz/udp-ip-stack/internal/engine"
	"github.com/simgunz/udp-ip-stack/internal/transport"
	"github.com/simgunz/udp-ip-stack/internal/util"
	"github.com/simgunz/udp-ip-stack/internal/version"
)

const (
	maxRPCBodyBytes   = 1 << 20
	rpcRatePerSecond  = 5
	rpcRateBurst      = 10
	defaultListLimit  = 20
	maxListLimit      = 1000
	wsTokenPrefix     = "udpbench-token."
	wsPrimaryProtocol = "udpbench"
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 30 * time.Second
)

// Engine is the subset of *engine.Engine driven over RPC.
type Engine interface {
	StartHostToRemoteTest(target netip.AddrPort, packetCount int64) (string, error)
	StartRemoteToHostTest(target netip.AddrPort, packetCount int64, interPacketDelay int64) (string, error)
	Status() engine.Status
}

// ResultLister is satisfied by *history.Store.
type ResultLister interface {
	Recent(ctx context.Context, limit int) ([]engine.Result, error)
}

type ControlServer struct {
	cfg       config.ControlConfig
	remote    config.RemoteConfig
	test      config.TestConfig
	hostname  string
	engine    Engine
	metrics   http.Handler
	history   ResultLister
	hub       *EventHub
	restartFn func() error
	logger    util.Logger
	server    *http.Server
	limiter   *rateLimiter
}

// NewControlServer wires the RPC surface. metrics and history may be nil
// when the corresponding features are disabled.
func NewControlServer(cfg config.Config, eng Engine, metrics http.Handler, history ResultLister, hub *EventHub, restartFn func() error, logger util.Logger) *ControlServer {
	hostname, _ := os.Hostname()
	return &ControlServer{
		cfg:       cfg.Control,
		remote:    cfg.Remote,
		test:      cfg.Test,
		hostname:  hostname,
		engine:    eng,
		metrics:   metrics,
		history:   history,
		hub:       hub,
		restartFn: restartFn,
		logger:    logger,
		limiter:   newRateLimiter(rpcRatePerSecond, rpcRateBurst, 5*time.Minute),
	}
}

func (c *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.metrics != nil && c.cfg.Metrics.IsEnabled() {
		mux.HandleFunc("/metrics", c.handleMetrics)
	}
	mux.HandleFunc("/rpc", c.handleRPC)
	mux.HandleFunc("/events", c.handleEvents)
	mux.HandleFunc("/identity", c.handleIdentity)
	return mux
}

func (c *ControlServer) Start(ctx context.Context) error {
	addr := util.NetJoin(c.cfg.BindAddr, c.cfg.BindPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	c.server = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("control server error", "error", err)
		}
	}()
	c.logger.Info("control server started", "addr", addr)
	return nil
}

func (c *ControlServer) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Ok     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

type startHostToRemoteParams struct {
	Target      string `json:"target"`
	Port        int    `json:"port,omitempty"`
	PacketCount *int64 `json:"packet_count"`
}

type startRemoteToHostParams struct {
	Target           string `json:"target"`
	Port             int    `json:"port,omitempty"`
	PacketCount      *int64 `json:"packet_count"`
	InterPacketDelay *int64 `json:"inter_packet_delay"`
}

type listResultsParams struct {
	Limit int `json:"limit"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target"`
}

type identityResponse struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	Remote   string `json:"remote"`
}

func (c *ControlServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !c.limiter.Allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, rpcResponse{Ok: false, Error: "rate limit exceeded"})
		return
	}
	if !c.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, rpcResponse{Ok: false, Error: "unauthorized"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, rpcResponse{Ok: false, Error: "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid json"})
		return
	}
	switch req.Method {
	case "StartHostToRemote":
		var params startHostToRemoteParams
		if err := decodeParams(req.Params, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
			return
		}
		target := c.resolveTarget(params.Target, params.Port)
		count := int64(c.test.PacketCount)
		if params.PacketCount != nil {
			count = *params.PacketCount
		}
		id, err := c.engine.StartHostToRemoteTest(target, count)
		if err != nil {
			writeStartError(w, err)
			return
		}
		c.logger.Info("host to remote test requested", "session", id, "target", target.String(), "packets", count, "source", "rpc")
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: startResponse{SessionID: id, Target: target.String()}})
	case "StartRemoteToHost":
		var params startRemoteToHostParams
		if err := decodeParams(req.Params, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
			return
		}
		target := c.resolveTarget(params.Target, params.Port)
		count := int64(c.test.PacketCount)
		if params.PacketCount != nil {
			count = *params.PacketCount
		}
		delay := c.test.InterPacketDelay
		if params.InterPacketDelay != nil {
			delay = *params.InterPacketDelay
		}
		id, err := c.engine.StartRemoteToHostTest(target, count, delay)
		if err != nil {
			writeStartError(w, err)
			return
		}
		c.logger.Info("remote to host test requested", "session", id, "target", target.String(), "packets", count, "delay", delay, "source", "rpc")
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: startResponse{SessionID: id, Target: target.String()}})
	case "GetStatus":
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: c.engine.Status()})
	case "ListResults":
		if c.history == nil {
			writeJSON(w, http.StatusServiceUnavailable, rpcResponse{Ok: false, Error: "history disabled"})
			return
		}
		var params listResultsParams
		if err := decodeParams(req.Params, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "invalid params"})
			return
		}
		limit := params.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		results, err := c.history.Recent(r.Context(), limit)
		if err != nil {
			c.logger.Error("list results failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, rpcResponse{Ok: false, Error: "history unavailable"})
			return
		}
		if results == nil {
			results = []engine.Result{}
		}
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: results})
	case "Restart":
		if c.restartFn == nil {
			writeJSON(w, http.StatusServiceUnavailable, rpcResponse{Ok: false, Error: "restart unavailable"})
			return
		}
		go func() {
			c.logger.Info("restart invoked")
			if err := c.restartFn(); err != nil {
				c.logger.Error("restart failed", "error", err)
			}
		}()
		writeJSON(w, http.StatusOK, rpcResponse{Ok: true})
	default:
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: "unknown method"})
	}
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// resolveTarget falls back to the configured remote for omitted fields.
func (c *ControlServer) resolveTarget(addr string, port int) netip.AddrPort {
	if strings.TrimSpace(addr) == "" {
		addr = c.remote.Addr
	}
	if port <= 0 || port > 65535 {
		port = c.remote.Port
	}
	return transport.ParseTarget(addr, port)
}

func writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidParameter):
		writeJSON(w, http.StatusBadRequest, rpcResponse{Ok: false, Error: err.Error()})
	case errors.Is(err, engine.ErrEngineStopped):
		writeJSON(w, http.StatusServiceUnavailable, rpcResponse{Ok: false, Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, rpcResponse{Ok: false, Error: err.Error()})
	}
}

func (c *ControlServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !c.checkStatusAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin:  func(r *http.Request) bool { return c.originAllowed(r) },
		Subprotocols: []string{wsPrimaryProtocol},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	client := &eventClient{send: make(chan []byte, 64)}
	c.hub.Register(client)

	var closeOnce sync.Once
	done := make(chan struct{})
	cleanup := func() {
		closeOnce.Do(func() {
			close(done)
			_ = conn.Close()
			c.hub.Unregister(client)
		})
	}

	// The initial snapshot lets clients render state without waiting for
	// the next event.
	if data, err := json.Marshal(newStatusMessage(c.engine.Status())); err == nil {
		client.enqueue(data)
	}

	go func() {
		defer cleanup()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer cleanup()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case data, ok := <-client.send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}

func (c *ControlServer) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if !c.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, rpcResponse{Ok: false, Error: "unauthorized"})
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, rpcResponse{Ok: false, Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{Ok: true, Result: identityResponse{
		Hostname: c.hostname,
		Version:  version.Get().Version,
		Remote:   util.NetJoin(c.remote.Addr, c.remote.Port),
	}})
}

func (c *ControlServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !c.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c.metrics.ServeHTTP(w, r)
}

func (c *ControlServer) checkAuth(r *http.Request) bool {
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	return secureTokenEqual(token, c.cfg.AuthToken)
}

func (c *ControlServer) checkStatusAuth(r *http.Request) bool {
	if token, ok := bearerToken(r); ok {
		return secureTokenEqual(token, c.cfg.AuthToken)
	}
	if token, ok := tokenFromWebSocketProtocols(r); ok {
		return secureTokenEqual(token, c.cfg.AuthToken)
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func tokenFromWebSocketProtocols(r *http.Request) (string, bool) {
	for _, proto := range websocket.Subprotocols(r) {
		if !strings.HasPrefix(proto, wsTokenPrefix) {
			continue
		}
		encoded := strings.TrimPrefix(proto, wsTokenPrefix)
		if encoded == "" {
			continue
		}
		decoded, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil || len(decoded) == 0 {
			continue
		}
		return string(decoded), true
	}
	return "", false
}

func secureTokenEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (c *ControlServer) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
