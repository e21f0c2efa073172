// Command wskit runs a demo WebSocket server with an echo endpoint, a chat
// endpoint with rooms, and Prometheus metrics.
//
// Usage:
//
//	wskit -config wskit.toml
//
// Connect with: wscat -c ws://localhost:8080/echo
// or: wscat -c 'ws://localhost:8080/chat?room=go&username=gopher'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/coregx/wskit/internal/config"
	"github.com/coregx/wskit/internal/logger"
	"github.com/coregx/wskit/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "wskit: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		Component: "server",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Dependencies logging through the standard logger only show up in debug
	// output.
	defer logger.RedirectStdLog(logger.WithComponent(log, "stdlib"), slog.LevelDebug)()

	router, hosts, err := newRouter(cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr,
			"echo", cfg.Server.EchoPath,
			"chat", cfg.Server.ChatPath,
			"metrics", cfg.Server.MetricsPath,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		// Hijacked connections are not tracked by the server.
		for _, h := range hosts {
			if err := h.Close(); err != nil {
				log.Warn("close host", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newRouter wires the endpoints enabled in cfg. An empty path disables its
// endpoint.
func newRouter(cfg *config.Config, log *slog.Logger) (*mux.Router, []*websocket.Host, error) {
	r := mux.NewRouter()
	var hosts []*websocket.Host

	if p := cfg.Server.EchoPath; p != "" {
		echo := websocket.NewHost(cfg.HostConfig(logger.WithComponent(log, "echo")), newEchoHandler(log))
		r.Handle(p, echo).Methods(http.MethodGet)
		hosts = append(hosts, echo)
	}

	if p := cfg.Server.ChatPath; p != "" {
		chat := &chatServer{log: logger.WithComponent(log, "chat")}
		chat.host = websocket.NewHost(cfg.HostConfig(chat.log), chat.handle)
		r.Handle(p, chat.host).Methods(http.MethodGet)
		hosts = append(hosts, chat.host)
	}

	if p := cfg.Server.MetricsPath; p != "" {
		reg := prometheus.NewRegistry()
		if err := websocket.RegisterMetrics(reg); err != nil {
			return nil, nil, fmt.Errorf("register metrics: %w", err)
		}
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		r.Handle(p, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return r, hosts, nil
}
