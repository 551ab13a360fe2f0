package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gobulletin/internal/board"
	"github.com/Tyrowin/gobulletin/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment alone is enough.
	_ = godotenv.Load()

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	log.Info("Starting bulletin board server", "tcp", cfg.TCPAddr, "http", cfg.HTTPAddr, "groups", cfg.GroupNames())

	b := board.New(cfg.BoardOptions(), log)
	hub := server.NewHub(b, cfg.RateLimit(), log)

	tcpServer := server.NewTCPServer(*cfg, hub, log)
	if err := tcpServer.Listen(); err != nil {
		return err
	}
	httpServer := server.CreateServer(cfg.HTTPAddr, server.SetupRoutes(server.NewHandlers(b, hub, *cfg, log)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := tcpServer.Serve(); err != nil {
			return fmt.Errorf("tcp server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := server.StartServer(httpServer, log); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")

		errs := []error{
			tcpServer.Close(),
			server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log),
			hub.Shutdown(cfg.ShutdownTimeout),
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Program stopped cleanly")
	return nil
}
