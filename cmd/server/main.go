package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/strandhq/agentgate/audit"
	"github.com/strandhq/agentgate/idp"
	"github.com/strandhq/agentgate/internal/config"
	"github.com/strandhq/agentgate/runtime"
	"github.com/strandhq/agentgate/server"
	"github.com/strandhq/agentgate/sessionstore"
	"github.com/strandhq/agentgate/sessionstore/redisstore"
	"github.com/strandhq/agentgate/tenants"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	for {
		if err := run(*configPath); err != nil {
			log.Fatal().Err(err).Msg("Error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run(configPath string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic: %v", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config.ReadConfig: %w", err)
	}
	configureLogging(cfg)
	displayAppname(cfg.Server.AppName)

	deps, cleanup, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := server.New(*cfg, deps)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

// buildDeps assembles the server's collaborators. The identity provider
// client fails closed here: if OIDC discovery is unreachable the process
// does not start.
func buildDeps(cfg *config.Config) (server.Deps, func(), error) {
	cleanup := func() {}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	idpClient, err := idp.New(ctx, cfg.OIDC)
	if err != nil {
		return server.Deps{}, cleanup, fmt.Errorf("idp.New: %w", err)
	}

	var sessions sessionstore.Store
	if cfg.Redis.Enabled {
		redisStore, err := redisstore.New(ctx, cfg.Redis)
		if err != nil {
			return server.Deps{}, cleanup, fmt.Errorf("redisstore.New: %w", err)
		}
		sessions = redisStore
		cleanup = func() { _ = redisStore.Close() }
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Sessions backed by redis")
	} else {
		sessions = sessionstore.NewInMemoryStore()
		log.Warn().Msg("Sessions backed by process memory; sessions are lost on restart")
	}

	deps := server.Deps{
		Sessions:    sessions,
		Tenants:     tenants.NewInMemoryRepo(),
		Idempotency: tenants.NewInMemoryRepo(),
		IDP:         idpClient,
		Runtime:     runtime.NewHTTPClient(cfg.Runtime, runtime.StaticCredentials(cfg.Runtime.BearerToken)),
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewFSStore(cfg.Audit.Dir)
		if err != nil {
			return server.Deps{}, cleanup, fmt.Errorf("audit.NewFSStore: %w", err)
		}
		deps.Audit = audit.NewLogger(store, cfg.Audit.Prefix, true)
		deps.AuditReader = audit.NewReader(store, cfg.Audit.Prefix)
	}

	return deps, cleanup, nil
}

func configureLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Server.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func listenAndServe(httpServer *http.Server) {
	log.Info().Str("addr", httpServer.Addr).Msg("Server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
