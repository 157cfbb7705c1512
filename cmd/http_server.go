package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/paylink/internal"
	"github.com/frahmantamala/paylink/internal/core/events"
	"github.com/frahmantamala/paylink/internal/ledger"
	"github.com/frahmantamala/paylink/internal/reconcile"
	"github.com/frahmantamala/paylink/internal/session"
	"github.com/frahmantamala/paylink/internal/transport/rest"
	"github.com/frahmantamala/paylink/internal/upi"
	"github.com/frahmantamala/paylink/pkg/logger"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle payment session requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	Router         *chi.Mux
	Logger         *slog.Logger
	LedgerClient   *ledger.Client
	SessionService *session.Service
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		// WriteTimeout stays at the configured value; zero means unlimited,
		// which the SSE event stream needs
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		deps.SessionService.Shutdown()
		deps.LedgerClient.Close()
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) {
	generator := upi.Generator{
		PayeeAddress: deps.Config.Payment.UPIAddress,
		PayeeName:    deps.Config.Payment.UPIName,
	}
	sessionHandler := session.NewHandler(deps.SessionService, generator, deps.Logger)
	healthHandler := rest.NewHealthHandler(deps.LedgerClient, deps.SessionService)

	rest.RegisterAllRoutes(deps.Router, sessionHandler, healthHandler, deps.Logger)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	log := logger.LoggerWrapper()

	ledgerClient, err := ledger.NewClient(ledger.Config{
		HistoryURL:     config.Ledger.HistoryURL,
		AuthCheckURL:   config.Ledger.AuthCheckURL,
		CookiesFile:    config.Ledger.CookiesFile,
		RequestTimeout: config.Ledger.RequestTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger client: %w", err)
	}

	store := session.NewStore()
	bus := events.NewBus(log)
	engine := reconcile.NewEngine(ledgerClient, log)
	service := session.NewService(store, bus, engine, session.ServiceConfig{
		SessionDuration: config.Payment.SessionDuration,
		PollInterval:    config.Payment.PollInterval,
	}, log)

	return &Dependencies{
		Config:         config,
		Router:         chi.NewRouter(),
		Logger:         log,
		LedgerClient:   ledgerClient,
		SessionService: service,
	}, nil
}
