package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/challengectl/challengectl/pkg/client"
	"github.com/challengectl/challengectl/pkg/storage"
	"github.com/challengectl/challengectl/pkg/types"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause all dispatch",
	Long: `Pause dispatch fleet-wide. Polling runners receive no work until
resume; assignments already handed out run to completion.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.Pause(); err != nil {
			return err
		}
		fmt.Println("✓ Dispatch paused")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume dispatch",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.Resume(); err != nil {
			return err
		}
		fmt.Println("✓ Dispatch resumed")
		return nil
	},
}

// statusView mirrors the admin dashboard response
type statusView struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Paused      bool            `json:"paused"`
	Stats       *storage.Stats  `json:"stats"`
	Runners     []*types.Runner `json:"runners"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show controller status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		raw, err := c.Dashboard()
		if err != nil {
			return err
		}
		var view statusView
		if err := json.Unmarshal(raw, &view); err != nil {
			return fmt.Errorf("failed to parse dashboard: %w", err)
		}

		state := "running"
		if view.Paused {
			state = "PAUSED"
		}
		fmt.Printf("Dispatch:      %s\n", state)
		if view.Stats != nil {
			fmt.Printf("Challenges:    %d queued, %d assigned, %d waiting, %d disabled\n",
				view.Stats.ChallengesByStatus[types.ChallengeQueued],
				view.Stats.ChallengesByStatus[types.ChallengeAssigned],
				view.Stats.ChallengesByStatus[types.ChallengeWaiting],
				view.Stats.ChallengesByStatus[types.ChallengeDisabled])
			fmt.Printf("Runners:       %d online, %d busy, %d offline (%d disabled)\n",
				view.Stats.RunnersByStatus[types.RunnerOnline],
				view.Stats.RunnersByStatus[types.RunnerBusy],
				view.Stats.RunnersByStatus[types.RunnerOffline],
				view.Stats.RunnersDisabled)
			fmt.Printf("Files:         %d\n", view.Stats.Files)
			fmt.Printf("Transmissions: %d\n", view.Stats.TransmissionsTotal)
		}
		return nil
	},
}

var transmissionsCmd = &cobra.Command{
	Use:   "transmissions",
	Short: "List transmission history",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		challengeID, _ := cmd.Flags().GetString("challenge")
		runnerID, _ := cmd.Flags().GetString("runner")
		since, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		q := client.TransmissionQuery{ChallengeID: challengeID, RunnerID: runnerID, Limit: limit}
		if since != "" {
			d, err := time.ParseDuration(since)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			q.Since = time.Now().Add(-d)
		}

		rows, err := c.ListTransmissions(q)
		if err != nil {
			return err
		}

		fmt.Printf("%-22s %-10s %-10s %-8s %-12s %s\n",
			"REPORTED", "CHALLENGE", "RUNNER", "OUTCOME", "FREQUENCY", "DETAIL")
		anyStale := false
		for _, tx := range rows {
			outcome := string(tx.Outcome)
			if tx.Stale {
				outcome += "*"
				anyStale = true
			}
			fmt.Printf("%-22s %-10s %-10s %-8s %-12d %s\n",
				tx.ReportedAt.Local().Format(time.RFC3339),
				shortID(tx.ChallengeID), shortID(tx.RunnerID),
				outcome, tx.FrequencyHz, tx.Detail)
		}
		if anyStale {
			fmt.Println("\n* reported after the assignment was reclaimed")
		}
		return nil
	},
}

func init() {
	transmissionsCmd.Flags().String("challenge", "", "Filter by challenge ID")
	transmissionsCmd.Flags().String("runner", "", "Filter by runner ID")
	transmissionsCmd.Flags().String("since", "", "Only rows newer than this age (e.g. 1h)")
	transmissionsCmd.Flags().Int("limit", 100, "Maximum rows")
}
