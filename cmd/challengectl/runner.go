package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Manage enrolled runners",
}

var runnerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runners",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		runners, err := c.ListRunners()
		if err != nil {
			return err
		}

		fmt.Printf("%-10s %-20s %-8s %-8s %-22s %-8s %s\n",
			"ID", "NAME", "STATUS", "ENABLED", "FREQUENCIES", "DEVICES", "LAST SEEN")
		for _, r := range runners {
			seen := "-"
			if !r.LastHeartbeat.IsZero() {
				seen = time.Since(r.LastHeartbeat).Round(time.Second).String() + " ago"
			}
			fmt.Printf("%-10s %-20s %-8s %-8v %-22s %-8d %s\n",
				shortID(r.ID), r.Name, r.Status, r.Enabled,
				r.Capabilities().String(), len(r.Devices), seen)
		}
		return nil
	},
}

var runnerEnableCmd = &cobra.Command{
	Use:   "enable ID",
	Short: "Return a runner to the dispatch pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.EnableRunner(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Runner %s enabled\n", args[0])
		return nil
	},
}

var runnerDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Exclude a runner from dispatch and reclaim its assignments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DisableRunner(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Runner %s disabled\n", args[0])
		return nil
	},
}

var runnerDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Remove a runner",
	Long: `Remove a runner and invalidate its credentials. Refused while the
runner holds an assignment; disable it first so its work is reclaimed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteRunner(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Runner %s deleted\n", args[0])
		return nil
	},
}

func init() {
	runnerCmd.AddCommand(runnerListCmd)
	runnerCmd.AddCommand(runnerEnableCmd)
	runnerCmd.AddCommand(runnerDisableCmd)
	runnerCmd.AddCommand(runnerDeleteCmd)
}
