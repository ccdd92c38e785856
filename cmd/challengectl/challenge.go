package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/challengectl/challengectl/pkg/freq"
)

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Manage challenges",
}

var challengeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List challenges",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		challenges, err := c.ListChallenges()
		if err != nil {
			return err
		}

		fmt.Printf("%-10s %-20s %-10s %-10s %-22s %6s  %s\n",
			"ID", "NAME", "STATUS", "MOD", "FREQUENCY", "COUNT", "NEXT TX")
		for _, ch := range challenges {
			next := "-"
			if !ch.NextTxTime.IsZero() {
				next = ch.NextTxTime.Local().Format(time.RFC3339)
			}
			status := string(ch.Status)
			if ch.Status != "disabled" && ch.AssignedTo != "" {
				status = fmt.Sprintf("%s(%s)", ch.Status, shortID(ch.AssignedTo))
			}
			fmt.Printf("%-10s %-20s %-10s %-10s %-22s %6d  %s\n",
				shortID(ch.ID), ch.Name, status, ch.Modulation,
				ch.Frequencies.String(), ch.TransmissionCount, next)
		}
		return nil
	},
}

var challengeShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one challenge in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		ch, err := c.GetChallenge(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:           %s\n", ch.ID)
		fmt.Printf("Name:         %s\n", ch.Name)
		if ch.Description != "" {
			fmt.Printf("Description:  %s\n", ch.Description)
		}
		fmt.Printf("Modulation:   %s\n", ch.Modulation)
		fmt.Printf("Frequency:    %s\n", ch.Frequencies.String())
		fmt.Printf("Status:       %s\n", ch.Status)
		fmt.Printf("Enabled:      %v\n", ch.Enabled)
		fmt.Printf("Priority:     %d\n", ch.Priority)
		fmt.Printf("Public view:  %v\n", ch.PublicView)
		fmt.Printf("Delay:        %s - %s\n", ch.MinDelay, ch.MaxDelay)
		fmt.Printf("Transmitted:  %d times\n", ch.TransmissionCount)
		if ch.AssignedTo != "" {
			fmt.Printf("Assigned to:  %s at %s Hz (expires %s)\n",
				ch.AssignedTo, freq.FormatHz(ch.AssignedFrequencyHz),
				ch.AssignmentExpires.Local().Format(time.RFC3339))
		}
		if !ch.LastTxTime.IsZero() {
			fmt.Printf("Last tx:      %s\n", ch.LastTxTime.Local().Format(time.RFC3339))
		}
		if !ch.NextTxTime.IsZero() {
			fmt.Printf("Next tx:      %s\n", ch.NextTxTime.Local().Format(time.RFC3339))
		}
		for _, f := range ch.Files {
			fmt.Printf("File:         %s", f.Name)
			if f.Digest != "" {
				fmt.Printf(" (%s)", f.Digest)
			}
			fmt.Println()
		}
		return nil
	},
}

var challengeEnableCmd = &cobra.Command{
	Use:   "enable ID",
	Short: "Enable a challenge for dispatch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.EnableChallenge(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Challenge %s enabled\n", args[0])
		return nil
	},
}

var challengeDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Disable a challenge and reclaim any assignment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DisableChallenge(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Challenge %s disabled\n", args[0])
		return nil
	},
}

var challengeTriggerCmd = &cobra.Command{
	Use:   "trigger ID",
	Short: "Make a challenge immediately eligible for dispatch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.TriggerChallenge(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Challenge %s triggered\n", args[0])
		return nil
	},
}

var challengeDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a challenge",
	Long: `Delete a challenge. Refused while the challenge is assigned to a
runner or transmission history references it; disable it first and let
the assignment drain.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteChallenge(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Challenge %s deleted\n", args[0])
		return nil
	},
}

func init() {
	challengeCmd.AddCommand(challengeListCmd)
	challengeCmd.AddCommand(challengeShowCmd)
	challengeCmd.AddCommand(challengeEnableCmd)
	challengeCmd.AddCommand(challengeDisableCmd)
	challengeCmd.AddCommand(challengeTriggerCmd)
	challengeCmd.AddCommand(challengeDeleteCmd)
}
