// server/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/you/sqlbridge/internal/completion"
	"github.com/you/sqlbridge/internal/metrics"
	"github.com/you/sqlbridge/internal/query"
	"github.com/you/sqlbridge/internal/schema"
	"github.com/you/sqlbridge/internal/tools"
	"github.com/you/sqlbridge/internal/upstream"
)

const (
	maxRequestSize = 1024 * 1024 // 1MB max request size
	sampleRowCount = 5
)

type Server struct {
	cfg      Config
	db       *pgxpool.Pool
	schema   *schema.Reflector
	exec     *query.Executor
	llm      completion.Completer
	closeLLM func() error
	registry *tools.Registry
	mcp      *mcp.Server
	base     string
	server   *http.Server
}

func newServer(ctx context.Context, cfg Config) (*Server, error) {
	conf, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	// fixed-size pool
	conf.MinConns = cfg.MaxConns
	conf.MaxConns = cfg.MaxConns
	conf.MaxConnLifetime = 30 * time.Minute
	conf.MaxConnIdleTime = 5 * time.Minute
	conf.HealthCheckPeriod = 30 * time.Second
	conf.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	var catalog *schema.Catalog
	if cfg.ContextDir != "" {
		catalog, err = schema.LoadCatalog(cfg.ContextDir)
		if err != nil {
			return nil, err
		}
		log.Info().Str("dir", cfg.ContextDir).Int("tables", catalog.Len()).Msg("loaded table context")
	}

	llm, closeLLM, err := newCompleter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		_ = closeLLM()
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		db:       db,
		schema:   schema.NewReflector(db, cfg.Schema, catalog),
		llm:      llm,
		closeLLM: closeLLM,
		base:     resourceBase(conf.ConnConfig),
	}
	s.exec = query.NewExecutor(db, query.Options{
		Timeout: cfg.QueryTO,
		MaxRows: cfg.MaxRows,
		Guard:   query.Guard{Mode: cfg.guard},
	})

	svc := &tools.Service{
		Schema: s.schema,
		LLM:    llm,
		Exec:   s.exec,
		Merchant: &upstream.MerchantClient{
			BaseURL:     cfg.ConfigAPIBase,
			APIKey:      cfg.ConfigAPIKey,
			PlatformURL: cfg.PlatformAPIBase,
		},
		Notifier: &upstream.SlackNotifier{WebhookURL: cfg.SlackWebhook},
	}
	s.registry = svc.Registry()

	impl := &mcp.Implementation{Name: "sqlbridge", Version: "0.1.0"}
	s.mcp = mcp.NewServer(impl, nil)
	registerTools(s.mcp, s.registry)
	s.registerResources(s.mcp)
	return s, nil
}

func newCompleter(ctx context.Context, cfg Config) (completion.Completer, func() error, error) {
	switch cfg.LLMProvider {
	case "openai":
		c := completion.NewOpenAI(completion.OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBase,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.LLMTimeout,
		})
		log.Info().Str("provider", "openai").Str("model", c.Model()).Msg("language model configured")
		return c, func() error { return nil }, nil
	default:
		c, err := completion.NewGemini(ctx, completion.GeminiConfig{
			APIKey:  cfg.GeminiKey,
			Model:   cfg.GeminiModel,
			Timeout: cfg.LLMTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("provider", "gemini").Str("model", c.Model()).Msg("language model configured")
		return c, c.Close, nil
	}
}

// registerTools exposes every registry entry, aliases included, as an MCP
// tool whose calls go through Dispatch.
func registerTools(server *mcp.Server, reg *tools.Registry) {
	for _, spec := range reg.Specs() {
		for _, name := range append([]string{spec.Name}, spec.Aliases...) {
			desc := spec.Description
			if name != spec.Name {
				desc = "Alias of " + spec.Name + ". " + desc
			}
			server.AddTool(&mcp.Tool{
				Name:        name,
				Description: desc,
				InputSchema: spec.InputSchema(),
			}, toolHandler(reg, name))
		}
	}
}

func toolHandler(reg *tools.Registry, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, fmt.Errorf("decode %s arguments: %w", name, err)
			}
		}
		if args == nil {
			args = map[string]any{}
		}
		resp, err := reg.Dispatch(ctx, tools.Request{Name: name, Arguments: args})
		if err != nil {
			return nil, err
		}
		return toResult(resp), nil
	}
}

func toResult(resp tools.Response) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: resp.IsError}
	for _, c := range resp.Content {
		out.Content = append(out.Content, &mcp.TextContent{Text: c.Text})
	}
	return out
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server gracefully")

	var errs []error

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if s.db != nil {
		s.db.Close()
		log.Info().Msg("database connections closed")
	}

	if s.closeLLM != nil {
		if err := s.closeLLM(); err != nil {
			errs = append(errs, fmt.Errorf("language model client close error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

// ---------- HTTP ----------

// requestSizeLimitMiddleware limits the size of incoming requests
func requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
		next.ServeHTTP(w, r)
	})
}

func bearerAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if strings.TrimSpace(got) != token {
			tools.AuditLog("auth_failed", r.RemoteAddr, "", "invalid bearer token", false)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) httpHandler() http.Handler {
	getServer := func(*http.Request) *mcp.Server { return s.mcp }

	mux := http.NewServeMux()
	mux.Handle(s.cfg.HTTPPath, requestSizeLimitMiddleware(bearerAuth(s.cfg.Bearer, mcp.NewSSEHandler(getServer))))
	if s.cfg.StreamPath != "" && s.cfg.StreamPath != s.cfg.HTTPPath {
		mux.Handle(s.cfg.StreamPath, requestSizeLimitMiddleware(bearerAuth(s.cfg.Bearer, mcp.NewStreamableHTTPHandler(getServer, nil))))
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.HTTPAddr,
		Handler:      s.httpHandler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serve runs the configured transport until it ends or ctx is cancelled,
// then shuts the server down before returning.
func (s *Server) serve(ctx context.Context) error {
	errc := make(chan error, 1)
	switch s.cfg.Transport {
	case "http":
		s.server = s.newHTTPServer()
		log.Info().Str("addr", s.cfg.HTTPAddr).Str("path", s.cfg.HTTPPath).Str("stream_path", s.cfg.StreamPath).
			Msg("starting MCP server on HTTP")
		tools.AuditLog("server_start", "system", "", s.cfg.HTTPAddr, true)
		go func() {
			if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
				return
			}
			errc <- nil
		}()
	default:
		log.Info().Str("schema", s.cfg.Schema).Msg("starting MCP server on stdio")
		go func() { errc <- s.mcp.Run(ctx, &mcp.StdioTransport{}) }()
	}

	var runErr error
	select {
	case err := <-errc:
		// the transport ended on its own, e.g. the stdio client closed stdin
		if err != nil && ctx.Err() == nil {
			runErr = fmt.Errorf("serve %s: %w", s.cfg.Transport, err)
		}
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	}

	// Give ongoing requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func setupLogging(level, format string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if strings.ToLower(format) == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

func main() {
	// stdout carries the stdio protocol stream, so logs always go to stderr
	setupLogging(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stderr)

	cfg := mustConfig()
	setupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}

	if err := srv.serve(ctx); err != nil {
		stop()
		log.Fatal().Err(err).Msg("server error")
	}
}
