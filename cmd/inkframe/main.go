package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkframe/config"
	"inkframe/internal/core"
	"inkframe/internal/creds"
	"inkframe/internal/display"
	"inkframe/internal/display/inky"
	"inkframe/internal/display/pngout"
	"inkframe/internal/logging"
	"inkframe/internal/netutil"
	"inkframe/internal/notify"
	"inkframe/internal/photos"
	"inkframe/internal/render"
	"inkframe/internal/scheduler"
	"inkframe/internal/storage/sqlite"
	"inkframe/internal/webapp"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	shutdownTimeout   = 10 * time.Second
	defaultConfigPath = "config.json"

	photosScope = "https://www.googleapis.com/auth/photoslibrary.readonly"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	useEnv := flag.Bool("env", false, "Load configuration from environment variables")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error

	if *useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}

	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.Log.Format,
		Level:  logging.ParseLevel(cfg.Log.Level),
	})

	// Initialize durable storage
	logger.Info("Opening state database", "path", cfg.Database.Path)
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// The QR code and OAuth redirect must be reachable from a phone on the
	// same network, so advertise the LAN address rather than localhost
	hostIP := netutil.LocalIP()
	configURL := fmt.Sprintf("http://%s:%d", hostIP, cfg.Server.Port)

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  configURL + "/oauth2callback",
		Scopes:       []string{photosScope},
	}

	credStore := creds.NewStore(store, oauthConfig, core.DefaultRefreshMargin, logging.WithComponent(logger, "creds"))
	gateway := photos.NewClient(credStore, logging.WithComponent(logger, "photos"))

	// Initialize the display driver, falling back to the PNG driver when the
	// panel hardware is absent (development machines, CI)
	registry := display.NewRegistry()
	if err := registry.Register(pngout.New(cfg.Display.OutputPath, cfg.Display.Width, cfg.Display.Height)); err != nil {
		return fmt.Errorf("failed to register png driver: %w", err)
	}

	if cfg.Display.Driver == "inky" {
		panel, err := inky.New(inky.Config{
			SPIPort:  cfg.Display.SPIPort,
			DCPin:    cfg.Display.DCPin,
			ResetPin: cfg.Display.ResetPin,
			BusyPin:  cfg.Display.BusyPin,
			Width:    cfg.Display.Width,
			Height:   cfg.Display.Height,
		})
		if err != nil {
			logger.Error("Inky panel unavailable, using PNG output", "error", err)
			cfg.Display.Driver = "png"
		} else {
			if err := registry.Register(panel); err != nil {
				return fmt.Errorf("failed to register inky driver: %w", err)
			}
			defer panel.Halt()
		}
	}

	driver, err := registry.Get(cfg.Display.Driver)
	if err != nil {
		return fmt.Errorf("failed to select display driver: %w", err)
	}
	logger.Info("Display driver ready",
		"driver", driver.Name(),
		"width", cfg.Display.Width,
		"height", cfg.Display.Height)

	pipeline := render.NewPipeline(driver, gateway, render.FitFill, logging.WithComponent(logger, "render"))
	selector := core.NewSelector(gateway, store, cfg.Rotation.PageSize, cfg.Rotation.HistoryWindow, logging.WithComponent(logger, "selector"))

	var notifier core.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logging.WithComponent(logger, "notify"))
		if err != nil {
			logger.Warn("Telegram notifier unavailable", "error", err)
		} else {
			notifier = tg
		}
	}

	machine := core.NewMachine(credStore, gateway, selector, pipeline, notifier, core.MachineConfig{
		ConfigURL: configURL,
		MaxSkips:  cfg.Rotation.MaxSkips,
	}, logging.WithComponent(logger, "machine"))

	sched := scheduler.NewScheduler(machine,
		time.Duration(cfg.Rotation.IntervalMinutes)*time.Minute,
		0,
		logging.WithComponent(logger, "scheduler"))
	go sched.Start()

	// Configuration web server
	webServer := webapp.NewServer(credStore, oauthConfig, logging.WithComponent(logger, "webapp"))
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      webServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Configuration server listening", "url", configURL)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		sched.Stop()
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Shutting down", "signal", sig.String())

		sched.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		logger.Info("Graceful shutdown complete")
	}

	return nil
}
