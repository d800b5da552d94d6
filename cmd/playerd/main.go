// Package main provides the player daemon entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/audioplayer/internal/api/connect"
	"github.com/osa030/audioplayer/internal/app/registry"
	"github.com/osa030/audioplayer/internal/engine"
	"github.com/osa030/audioplayer/internal/infra/config"
	"github.com/osa030/audioplayer/internal/infra/logger"
)

var (
	app        = kingpin.New("playerd", "Audio player control daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/playerd.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// check-config command
	checkConfigCmd = app.Command("check-config", "Validate the config file and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == checkConfigCmd.FullCommand() {
		printConfig(cfg)
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create engine")
	}
	defer func() {
		if err := eng.Close(); err != nil {
			zlog.Error().Msgf("Failed to close engine: %v", err)
		}
	}()

	reg := registry.New(eng, cfg.Player.Options)
	defer reg.Close()

	// The simulated engine can inject device events for testing clients.
	simulator, _ := eng.(apiconnect.Simulator)
	service := apiconnect.NewPlayerService(reg, simulator)

	var opts []connect.HandlerOption
	if cfg.Server.ControlToken != "" {
		opts = append(opts, connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Server.ControlToken)))
	} else {
		zlog.Warn().Msg("No control token configured, the API is unauthenticated")
	}

	mux := http.NewServeMux()
	mux.Handle(apiconnect.NewPlayerServiceHandler(service, opts...))

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s engine=%s", cfg.Server.Addr, cfg.Engine.Type)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for server to start listening
	<-serverStartedCh
	time.Sleep(100 * time.Millisecond)

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	// Close players first to terminate event streams
	reg.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// printConfig prints the effective configuration without secrets.
func printConfig(cfg *config.Config) {
	fmt.Println("Configuration OK")
	fmt.Printf("  Address:       %s\n", cfg.Server.Addr)
	fmt.Printf("  Control token: %v\n", cfg.Server.ControlToken != "")
	fmt.Printf("  Engine:        %s (interval %s)\n", cfg.Engine.Type, cfg.Engine.Interval())
	if cfg.Engine.Type == config.EngineSim {
		fmt.Printf("  Catalog:       %d entries\n", len(cfg.Engine.Sim.Catalog))
	} else {
		fmt.Printf("  Market:        %s\n", cfg.Spotify.Market)
		fmt.Printf("  Device:        %s\n", lo.Ternary(cfg.Spotify.DeviceID != "", cfg.Spotify.DeviceID, "(active device)"))
	}
	fmt.Println("  Player defaults:")
	options := cfg.PlayerOptions().Map()
	keys := lo.Keys(options)
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("    %-28s %v\n", k, options[k])
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
