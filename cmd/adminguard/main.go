// Command adminguard runs the admin authentication service.
//
//	adminguard                  serve with settings from the environment
//	adminguard serve            same as above
//	adminguard hash-password    read a password on stdin and print its bcrypt hash
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/folio-works/adminguard"
	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/audit/kafka"
	"github.com/folio-works/adminguard/audit/postgres"
	"github.com/folio-works/adminguard/instrumentation"
	"github.com/folio-works/adminguard/internal/config"
	"github.com/folio-works/adminguard/security"
	"github.com/folio-works/adminguard/storage/memory"
	"github.com/folio-works/adminguard/storage/valkey"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve()
	case "hash-password":
		err = hashPassword(os.Stdin, os.Stdout)
	default:
		err = fmt.Errorf("unknown command %q (want serve or hash-password)", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "adminguard:", err)
		os.Exit(1)
	}
}

func serve() error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	logger := newLogger(os.Stderr, settings.LogFormat, settings.LogLevel)
	slog.SetDefault(logger)
	settings.Guard.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     instrumentation.DefaultServiceName,
		ServiceVersion:  version,
		Enabled:         settings.MetricsExporter != instrumentation.ExporterNone,
		MetricsExporter: settings.MetricsExporter,
		LogClientIPs:    settings.LogClientIPs,
	})
	if err != nil {
		return fmt.Errorf("initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down instrumentation", "error", err)
		}
	}()

	deps := adminguard.Deps{Instrumentation: inst}
	closeStore, err := openStore(settings, logger, inst, &deps)
	if err != nil {
		return err
	}
	defer closeStore()

	closeSinks, err := openSinks(ctx, settings, logger, &deps)
	if err != nil {
		return err
	}
	defer closeSinks()

	guard, err := adminguard.New(settings.Guard, deps)
	if err != nil {
		return err
	}
	if err := guard.Start(); err != nil {
		return fmt.Errorf("start guard: %w", err)
	}

	srv := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           newMux(guard),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", settings.ListenAddr, "version", version, "environment", settings.Guard.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var errs []error
	select {
	case err := <-errCh:
		if err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
	case <-ctx.Done():
		logger.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	// flushes the audit buffer, so it runs after the last request finished
	if err := guard.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("guard shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// newMux serves health and metrics outside the guard pipeline and
// everything else through it.
func newMux(guard *adminguard.Guard) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "OK")
	}
	mux.HandleFunc("GET /health", health)
	mux.HandleFunc("GET /healthz", health)
	mux.Handle("/", guard.Routes(adminPlaceholder()))
	return mux
}

// adminPlaceholder answers authenticated admin requests until the
// portfolio's own admin handlers are mounted.
func adminPlaceholder() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := slog.Default()
		if user, ok := adminguard.UserFromContext(r.Context()); ok {
			logger = logger.With("user_id", user.ID)
		}
		logger.Debug("No admin handler mounted", "path", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"not_found","message":"No such admin resource"}`)
	})
}

func openStore(s *config.Settings, logger *slog.Logger, inst *instrumentation.Instrumentation, deps *adminguard.Deps) (func(), error) {
	if s.ValkeyAddr == "" {
		if s.Guard.IsProduction() {
			logger.Warn("SECURITY WARNING: using in-memory storage in production; rate limits and revocations are lost on restart")
		}
		store := memory.New()
		store.SetLogger(logger)
		store.SetInstrumentation(inst)
		deps.Store = store
		return store.Stop, nil
	}

	store, err := valkey.New(valkey.Config{
		Address:   s.ValkeyAddr,
		Password:  s.ValkeyPassword,
		DB:        s.ValkeyDB,
		KeyPrefix: s.ValkeyPrefix,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	store.SetInstrumentation(inst)
	deps.Store = store
	deps.AuditPending = valkey.NewAuditPending(store)
	return store.Close, nil
}

func openSinks(ctx context.Context, s *config.Settings, logger *slog.Logger, deps *adminguard.Deps) (func(), error) {
	sinks := audit.MultiSink{audit.NewLogSink(logger)}
	var closers []func()

	if s.DatabaseURL != "" {
		db, err := postgres.Open(ctx, s.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate audit database: %w", err)
		}
		sinks = append(sinks, postgres.NewSink(db))
		closers = append(closers, func() { _ = db.Close() })
		logger.Info("Audit events are stored in Postgres")
	}

	if len(s.KafkaBrokers) > 0 {
		sink := kafka.NewSink(s.KafkaBrokers, s.KafkaTopic, "")
		sinks = append(sinks, sink)
		closers = append(closers, func() {
			if err := sink.Close(); err != nil {
				logger.Error("Error closing Kafka writer", "error", err)
			}
		})
		logger.Info("Audit events are published to Kafka", "topic", s.KafkaTopic, "brokers", len(s.KafkaBrokers))
	}

	deps.AuditSink = sinks
	return func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// hashPassword reads the first line of r and writes its bcrypt hash to w
func hashPassword(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	hash, err := security.HashPassword(password, 0)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
