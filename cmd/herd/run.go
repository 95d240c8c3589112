package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/herdctl/herd/pkg/api"
	"github.com/herdctl/herd/pkg/config"
	"github.com/herdctl/herd/pkg/events"
	"github.com/herdctl/herd/pkg/gpu"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/metrics"
	"github.com/herdctl/herd/pkg/registry"
	"github.com/herdctl/herd/pkg/scheduler"
	"github.com/herdctl/herd/pkg/storage"

	clientpkg "github.com/herdctl/herd/pkg/client"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon",
	Long: `Run the herd daemon: the scheduler registry, the control API and
the metrics endpoint. Schedulers are started and stopped through the
API while the daemon runs.`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().StringP("config", "c", "herd.yaml", "Scheduler config file")
	runCmd.Flags().String("listen", ":8080", "Control API listen address")
	runCmd.Flags().String("data-dir", "", "Run-history database directory (default: config directory)")
	runCmd.Flags().String("binding-registry", "", "Base URL of the external log-binding registry")
	runCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().Bool("log-json", false, "Log in JSON format")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listen, _ := cmd.Flags().GetString("listen")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bindingURL, _ := cmd.Flags().GetString("binding-registry")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	initLogging(log.Level(logLevel), logJSON, cfg.LogDir)

	if dataDir == "" {
		dataDir = filepath.Dir(configPath)
	}
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	collector := metrics.NewCollector(broker)
	collector.Start()
	defer collector.Stop()

	regOpts := []registry.Option{
		registry.WithStore(store),
		registry.WithBroker(broker),
	}
	if bindingURL != "" {
		regOpts = append(regOpts, registry.WithInstanceOptions(
			scheduler.WithLogBinder(clientpkg.NewBindingClient(bindingURL)),
		))
	}
	reg := registry.New(regOpts...)

	probe := gpu.NewSMIProbe()
	server := api.NewServer(reg, broker, probe, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(listen) }()

	refresh := time.NewTicker(15 * time.Second)
	defer refresh.Stop()
	go func() {
		for range refresh.C {
			metrics.UpdateFromSnapshots(reg.List())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		mainLogger := log.WithComponent("main")
		mainLogger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control API failed: %w", err)
		}
	}

	server.Stop()
	reg.StopAll()
	return nil
}

// initLogging configures the global logger. When logDir is configured
// and herd.log under it can be opened, all output goes to that file in
// JSON format instead of stdout.
func initLogging(level log.Level, jsonOut bool, logDir string) {
	cfg := log.Config{Level: level, JSONOutput: jsonOut}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			path := filepath.Join(logDir, "herd.log")
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				cfg.Output = f
				cfg.JSONOutput = true
			}
		}
	}

	log.Init(cfg)
}
