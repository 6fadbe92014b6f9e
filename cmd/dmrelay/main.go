// Command dmrelay runs a development relay: the WebSocket event hub and the
// REST API a dmsync daemon talks to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/dmsync/internal/logging"
	"github.com/matheus3301/dmsync/internal/relaysrv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// tokenFlag collects repeated -token user=secret pairs.
type tokenFlag map[string]string

func (t tokenFlag) String() string {
	users := make([]string, 0, len(t))
	for u := range t {
		users = append(users, u)
	}
	return strings.Join(users, ",")
}

func (t tokenFlag) Set(v string) error {
	user, token, ok := strings.Cut(v, "=")
	if !ok || user == "" || token == "" {
		return fmt.Errorf("expected user=token, got %q", v)
	}
	t[user] = token
	return nil
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8088", "listen address")
	rps := flag.Float64("rps", 20, "REST requests per second per user, 0 disables limiting")
	levelFlag := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logPath := flag.String("log-file", "", "also write JSON logs to this file")
	tokens := tokenFlag{}
	flag.Var(tokens, "token", "accepted user=token pair, repeatable; any token is accepted when none are given")
	flag.Parse()

	level, err := zapcore.ParseLevel(*levelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Path: *logPath, Level: level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	opts := relaysrv.Options{RequestsPerSecond: *rps}
	if len(tokens) > 0 {
		opts.Tokens = tokens
	}
	hub := relaysrv.NewHub(logger.Named("hub"))
	srv := &http.Server{
		Addr:              *addr,
		Handler:           relaysrv.NewServer(hub, opts, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening", zap.String("addr", *addr), zap.Int("users", len(tokens)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("relay shutting down", zap.Int("connections", hub.Connections()))
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("relay stopped", zap.Error(err))
		os.Exit(1)
	}
}
