package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"jobescrow/core"
	"jobescrow/observability"
	"jobescrow/storage/index"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

type ctxKey string

const requestIDKey ctxKey = "rpc.request_id"

// JobLister answers account queries from the job index.
type JobLister interface {
	ListByAccount(ctx context.Context, account, state string, limit int) ([]index.JobRow, error)
}

// Config groups the server's auth and throttling settings.
type Config struct {
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

type handlerFunc func(ctx context.Context, caller *Principal, params []json.RawMessage) (interface{}, *RPCError)

type method struct {
	handler handlerFunc
	signed  bool
	scope   string
}

// Server exposes the node over JSON-RPC 2.0.
type Server struct {
	node    *core.Node
	index   JobLister
	auth    *Authenticator
	limiter *rateLimiter
	logger  *slog.Logger
	methods map[string]method
}

func NewServer(node *core.Node, cfg Config, logger *slog.Logger) (*Server, error) {
	if node == nil {
		return nil, errors.New("rpc: node required")
	}
	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:    node,
		auth:    auth,
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger.With("component", "rpc"),
	}
	s.methods = map[string]method{
		"jobs_post":         {handler: s.handleJobsPost, signed: true},
		"jobs_assign":       {handler: s.handleJobsAssign, signed: true},
		"jobs_accept":       {handler: s.handleJobsAccept, signed: true},
		"jobs_update":       {handler: s.handleJobsUpdate, signed: true},
		"jobs_fund":         {handler: s.handleJobsFund, signed: true},
		"jobs_createFunded": {handler: s.handleJobsCreateFunded, signed: true},
		"jobs_complete":     {handler: s.handleJobsComplete, signed: true},
		"jobs_cancel":       {handler: s.handleJobsCancel, signed: true},
		"jobs_expire":       {handler: s.handleJobsExpire, signed: true},
		"jobs_get":          {handler: s.handleJobsGet},
		"jobs_quote":        {handler: s.handleJobsQuote},
		"jobs_list":         {handler: s.handleJobsList},
		"bank_balance":      {handler: s.handleBankBalance},
		"bank_deposit":      {handler: s.handleBankDeposit, signed: true, scope: ScopeAdmin},
	}
	return s, nil
}

// SetIndex serves jobs_list from the SQLite projection instead of state.
func (s *Server) SetIndex(idx JobLister) { s.index = idx }

// Authenticator exposes token issuing for tooling and tests.
func (s *Server) Authenticator() *Authenticator { return s.auth }

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(gr chi.Router) {
		if s.limiter != nil {
			gr.Use(s.limiter.middleware)
		}
		gr.Post("/rpc", s.handle)
		gr.Get("/ws/jobs", s.handleJobsWS)
	})
	return otelhttp.NewHandler(r, "jobd.rpc")
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, nil)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}
	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	module, _, _ := strings.Cut(req.Method, "_")
	start := time.Now()
	m, ok := s.methods[req.Method]
	if !ok {
		observability.ModuleMetrics().Observe(module, req.Method, codeMethodNotFound, time.Since(start))
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}

	var caller *Principal
	if m.signed {
		principal, err := s.auth.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			observability.ModuleMetrics().Observe(module, req.Method, codeUnauthorized, time.Since(start))
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", err.Error())
			return
		}
		if m.scope != "" && !principal.HasScope(m.scope) {
			observability.ModuleMetrics().Observe(module, req.Method, codeUnauthorized, time.Since(start))
			writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "insufficient scope", m.scope)
			return
		}
		caller = principal
	}

	result, rpcErr := m.handler(r.Context(), caller, req.Params)
	if rpcErr != nil {
		observability.ModuleMetrics().Observe(module, req.Method, rpcErr.Code, time.Since(start))
		level := slog.LevelDebug
		if rpcErr.Code == codeJobInternal {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "rpc call failed",
			"method", req.Method, "request_id", requestIDFrom(r.Context()), "error", rpcErr.Message)
		writeError(w, http.StatusOK, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	observability.ModuleMetrics().Observe(module, req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}

func decodeParams(params []json.RawMessage, dst interface{}) *RPCError {
	if len(params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: "exactly one parameter object expected"}
	}
	decoder := json.NewDecoder(bytes.NewReader(params[0]))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: err.Error()}
	}
	return nil
}

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: fmt.Sprintf(format, args...)}
}
