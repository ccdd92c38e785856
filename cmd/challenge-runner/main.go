package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/challengectl/challengectl/pkg/agent"
	"github.com/challengectl/challengectl/pkg/config"
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
	Use:   "challenge-runner",
	Short: "ChallengeCtl runner agent",
	Long: `The runner agent enrolls with a ChallengeCtl controller, polls for
transmission tasks, and executes them against the SDR hardware attached
to this host. It keeps no state beyond its saved identity and payload
cache and can be restarted at any time.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.LoadAgent(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

		a, err := agent.New(cfg, Version)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.Run(ctx)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ChallengeCtl runner version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", "runner.yaml", "Agent config file (YAML)")
}
