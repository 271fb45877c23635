// Command hvacd runs the HVAC controller: it connects to the
// home-automation hub, evaluates the configured heating/cooling policy
// against live sensor readings, and dispatches climate commands.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/attic-systems/hvacd/internal/config"
	"github.com/attic-systems/hvacd/internal/controller"
	"github.com/attic-systems/hvacd/internal/httpapi"
	"github.com/attic-systems/hvacd/internal/hub"
	"github.com/attic-systems/hvacd/internal/metrics"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hvacd",
		Short: "HVAC controller daemon",
	}

	f := rootCmd.PersistentFlags()
	f.String("config", "", "path to the YAML policy file")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.Int("http-port", 8080, "port for the ambient HTTP API (health, status, metrics)")
	_ = viper.BindPFlag("config", f.Lookup("config"))
	_ = viper.BindPFlag("log_level", f.Lookup("log-level"))
	_ = viper.BindPFlag("http_port", f.Lookup("http-port"))

	rootCmd.AddCommand(
		newRunCommand(),
		newCheckCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "connect to the hub and run the control loop",
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("system_mode", string(cfg.SystemMode)).
		Str("hub_ws_url", cfg.Hub.WSURL).
		Msg("hvacd starting")

	hubClient := hub.New(cfg.Hub, log)
	rec := metrics.NewRecorder()
	ctl := controller.New(cfg, hubClient, log, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", viper.GetInt("http_port")),
		Handler: httpapi.NewServer(ctl).Handler(),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ambient HTTP server failed")
		}
	}()

	runErr := ctl.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ambient HTTP server shutdown")
	}

	if disconnectErr := hubClient.Disconnect(); disconnectErr != nil && runErr == nil {
		runErr = disconnectErr
	}
	return runErr
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "validate the configuration and test hub connectivity",
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Println("config OK")
	fmt.Printf("  system_mode: %s\n", cfg.SystemMode)
	fmt.Printf("  temp_sensor: %s\n", cfg.TempSensor)
	fmt.Printf("  outdoor_sensor: %s\n", cfg.OutdoorSensor)
	fmt.Printf("  hub.ws_url: %s\n", cfg.Hub.WSURL)
	fmt.Printf("  entities: %d enabled\n", len(cfg.EnabledEntities()))

	client := &http.Client{Timeout: 10 * time.Second}
	start := time.Now()
	resp, err := client.Get(cfg.Hub.RESTURL)
	latency := time.Since(start)
	if err != nil {
		log.Error().Err(err).Msg("hub connectivity check failed")
		fmt.Printf("hub unreachable: %v\n", err)
		return err
	}
	defer resp.Body.Close()
	fmt.Printf("hub reachable (latency: %dms, status: %d)\n", latency.Milliseconds(), resp.StatusCode)
	return nil
}
