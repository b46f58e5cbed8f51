package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/elys-network/earn/internal/earn"
	"github.com/elys-network/earn/internal/logger"
	"github.com/elys-network/earn/internal/state"
	"github.com/elys-network/earn/internal/types"
)

// Service is the orchestrator surface exposed over HTTP.
type Service interface {
	Account() common.Address
	ApprovalTarget() common.Address
	State() types.EarnState
	Vaults() []types.VaultView
	Vault(address common.Address) (types.VaultView, error)
	SetInputAmount(amount string) types.EarnState
	CheckApproval(ctx context.Context, address common.Address, amount string) (earn.ApprovalStatus, error)
	Approve(ctx context.Context, address common.Address) (types.OperationReceipt, error)
	PermitDeposit(ctx context.Context, address common.Address, amount string) (*types.PermitSignature, error)
	Deposit(ctx context.Context, address common.Address, amount string) (types.OperationReceipt, error)
	Withdraw(ctx context.Context, address common.Address) (types.OperationReceipt, error)
	Claim(ctx context.Context, address common.Address) (types.OperationReceipt, error)
	Sync(ctx context.Context) error
}

// Options configures a WebServer.
type Options struct {
	Host            string // Listen address; defaults to loopback
	Port            string
	APIToken        string   // Bearer token for every non-GET route; writes are refused when empty
	AllowedOrigins  []string // Origins allowed to call write routes from a browser
	TxTimeout       time.Duration       // Upper bound for a write request, detached from the client connection
	Gatherer        prometheus.Gatherer // Served at /metrics; defaults to the global registry
	DatabaseEnabled bool
}

// WebServer exposes the earn session over HTTP.
type WebServer struct {
	router    *mux.Router
	server    *http.Server
	service   Service
	recorder  state.Recorder
	opts      Options
	startedAt time.Time
	log       zerolog.Logger
}

// NewWebServer creates a new web server instance
func NewWebServer(service Service, recorder state.Recorder, opts Options) *WebServer {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == "" {
		opts.Port = "8080"
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 10 * time.Minute
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if recorder == nil {
		recorder = state.NewMemoryRecorder(0)
	}

	ws := &WebServer{
		router:    mux.NewRouter(),
		service:   service,
		recorder:  recorder,
		opts:      opts,
		startedAt: time.Now(),
		log:       logger.GetForComponent("web_server"),
	}
	ws.setupRoutes()
	return ws
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.HandlerFor(ws.opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/state", ws.handleGetState).Methods("GET")
	api.HandleFunc("/input", ws.handleSetInput).Methods("PUT")
	api.HandleFunc("/sync", ws.handleSync).Methods("POST")
	api.HandleFunc("/operations", ws.handleGetOperations).Methods("GET")
	api.HandleFunc("/operations/stats", ws.handleGetOperationStats).Methods("GET")

	api.HandleFunc("/vaults", ws.handleGetVaults).Methods("GET")
	api.HandleFunc("/vaults/{address}", ws.handleGetVault).Methods("GET")
	api.HandleFunc("/vaults/{address}/history", ws.handleGetVaultHistory).Methods("GET")
	api.HandleFunc("/vaults/{address}/approval", ws.handleCheckApproval).Methods("POST")
	api.HandleFunc("/vaults/{address}/approve", ws.handleApprove).Methods("POST")
	api.HandleFunc("/vaults/{address}/permit", ws.handlePermit).Methods("POST")
	api.HandleFunc("/vaults/{address}/deposit", ws.handleDeposit).Methods("POST")
	api.HandleFunc("/vaults/{address}/withdraw", ws.handleWithdraw).Methods("POST")
	api.HandleFunc("/vaults/{address}/claim", ws.handleClaim).Methods("POST")
	api.Use(ws.authMiddleware)

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler returns the routed handler, for embedding and tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until Shutdown is called. It returns http.ErrServerClosed after a clean shutdown.
func (ws *WebServer) Start() error {
	addr := net.JoinHostPort(ws.opts.Host, ws.opts.Port)
	ws.log.Info().Str("addr", addr).Bool("writesEnabled", ws.opts.APIToken != "").Msg("Starting web server")

	ws.server = &http.Server{
		Addr:        addr,
		Handler:     ws.router,
		ReadTimeout: 15 * time.Second,
		// Writes wait for transaction confirmation.
		WriteTimeout: ws.opts.TxTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return ws.server.ListenAndServe()
}

func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	ws.log.Info().Msg("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		ws.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	ws.writeErrorResponseWith(w, statusCode, message, nil)
}

func (ws *WebServer) writeErrorResponseWith(w http.ResponseWriter, statusCode int, message string, extra map[string]interface{}) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}
	for k, v := range extra {
		response[k] = v
	}
	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers. Reads are open to any origin; writes only to AllowedOrigins.
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case origin != "" && slices.Contains(ws.opts.AllowedOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		case r.Method == http.MethodGet || r.Method == http.MethodHead:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires the bearer token on every route that is not a plain read.
func (ws *WebServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if ws.opts.APIToken == "" {
			ws.writeErrorResponse(w, http.StatusForbidden, "write API disabled: no API token configured")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(ws.opts.APIToken)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="earn"`)
			ws.writeErrorResponse(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		ws.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
