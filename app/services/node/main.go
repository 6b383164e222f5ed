package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/mixnode/app/services/node/handlers"
	"github.com/ardanlabs/mixnode/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/mixnode/business/web/mid"
	"github.com/ardanlabs/mixnode/foundation/events"
	"github.com/ardanlabs/mixnode/foundation/logger"
	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/ardanlabs/mixnode/foundation/mixnet/tickets"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			CORSOrigins     []string      `conf:"default:*"`
		}
		DB struct {
			Path    string        `conf:"default:zmix/node.db"`
			Timeout time.Duration `conf:"default:1s"`
		}
		Node struct {
			Address string `conf:"required"`
		}
		Tickets struct {
			QueueCapacity int `conf:"default:100000"`
		}
		Cache struct {
			Channels   int `conf:"default:10000"`
			Unrealized int `conf:"default:10000"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "mix network relay node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	if !common.IsHexAddress(cfg.Node.Address) {
		return fmt.Errorf("invalid node address %q", cfg.Node.Address)
	}

	// =========================================================================
	// App Starting

	fmt.Println(`  __  __ _____  __  _   _  ___  ____  _____ `)
	fmt.Println(` |  \/  |_ _\ \/ / | \ | |/ _ \|  _ \| ____|`)
	fmt.Println(` | |\/| || | \  /  |  \| | | | | | | |  _|  `)
	fmt.Println(` | |  | || | /  \  | |\  | |_| | |_| | |___ `)
	fmt.Println(` |_|  |_|___/_/\_\ |_| \_|\___/|____/|_____|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Metrics Support

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := mid.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("registering http metrics: %w", err)
	}

	// =========================================================================
	// Database Support

	log.Infow("startup", "status", "opening database", "path", cfg.DB.Path)

	db, err := database.Open(database.Config{
		Path:                cfg.DB.Path,
		Timeout:             cfg.DB.Timeout,
		Me:                  common.HexToAddress(cfg.Node.Address),
		Log:                 log,
		ChannelCacheSize:    cfg.Cache.Channels,
		UnrealizedCacheSize: cfg.Cache.Unrealized,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Infow("shutdown", "status", "closing database", "path", cfg.DB.Path)
		db.Close()
	}()

	// =========================================================================
	// Ticket Support

	// Persisted tickets are pushed to any websocket client that is connected
	// into the system through the events package.
	evts := events.New[public.Event]()

	tm, err := tickets.New(tickets.Config{
		DB:            db,
		Log:           log,
		QueueCapacity: cfg.Tickets.QueueCapacity,
		Registerer:    reg,
	})
	if err != nil {
		return fmt.Errorf("constructing ticket manager: %w", err)
	}

	if err := tm.Start(public.TicketNotifier(evts)); err != nil {
		return fmt.Errorf("starting ticket manager: %w", err)
	}
	defer func() {
		log.Infow("shutdown", "status", "draining ticket queue")
		tm.Shutdown()
	}()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, db, reg)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown:    shutdown,
		Log:         log,
		CORSOrigins: cfg.Web.CORSOrigins,
		DB:          db,
		Tickets:     tm,
		Evts:        evts,
	})

	// Construct a server to service the requests against the mux.
	api := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
