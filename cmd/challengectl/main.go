package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/challengectl/challengectl/pkg/config"
	"github.com/challengectl/challengectl/pkg/controller"
	"github.com/challengectl/challengectl/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "challengectl",
	Short: "ChallengeCtl - RF challenge transmission controller",
	Long: `ChallengeCtl schedules timed RF transmission jobs across a fleet of
runner hosts with SDR hardware. This binary runs the controller and
doubles as the admin CLI against a running controller.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ChallengeCtl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8440", "Controller API address")
	rootCmd.PersistentFlags().String("session-file", "", "Admin session file (default: <data-dir>/admin-session)")
	rootCmd.PersistentFlags().String("data-dir", "./challengectl-data", "Controller data directory")
	rootCmd.PersistentFlags().Bool("insecure", false, "Skip TLS certificate verification")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(challengeCmd)
	rootCmd.AddCommand(runnerCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(transmissionsCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the controller",
	Long: `Run the ChallengeCtl controller: the durable store, dispatcher,
liveness monitor, and HTTP API. Runners and admin CLI sessions all talk
to this process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.LoadController(configPath)
		if err != nil {
			return err
		}
		if flag := cmd.Flags().Lookup("listen"); flag.Changed {
			cfg.Listen = flag.Value.String()
		}
		if flag := cmd.Flags().Lookup("manifest"); flag.Changed {
			cfg.Manifest = flag.Value.String()
		}
		if flag := cmd.InheritedFlags().Lookup("data-dir"); flag.Changed {
			cfg.DataDir = flag.Value.String()
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

		ctrl, err := controller.New(cfg, Version)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return ctrl.Run(ctx)
	},
}

func init() {
	serverCmd.Flags().String("config", "", "Controller config file (YAML)")
	serverCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serverCmd.Flags().String("manifest", "", "Challenge manifest to load at boot (overrides config)")
}
