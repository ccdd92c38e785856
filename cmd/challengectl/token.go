package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage runner enrollment tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a single-use enrollment token",
	Long: `Mint a single-use enrollment token. Hand the token to the new
runner's config; it is burned on first use. With --re-enroll the token
re-keys an existing runner instead of creating a new one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		description, _ := cmd.Flags().GetString("description")
		ttl, _ := cmd.Flags().GetString("ttl")
		reEnroll, _ := cmd.Flags().GetString("re-enroll")

		tok, err := c.MintEnrollmentToken(description, ttl, reEnroll)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Enrollment token created (expires %s)\n",
			tok.ExpiresAt.Local().Format(time.RFC3339))
		fmt.Println()
		fmt.Println(tok.Token)
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outstanding enrollment tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		tokens, err := c.ListEnrollmentTokens()
		if err != nil {
			return err
		}

		fmt.Printf("%-14s %-30s %-22s %s\n", "TOKEN", "DESCRIPTION", "EXPIRES", "RE-ENROLL")
		for _, tok := range tokens {
			re := "-"
			if tok.ReEnrollFor != "" {
				re = shortID(tok.ReEnrollFor)
			}
			fmt.Printf("%-14s %-30s %-22s %s\n",
				shortID(tok.Token)+"...", tok.Description,
				tok.ExpiresAt.Local().Format(time.RFC3339), re)
		}
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke TOKEN",
	Short: "Revoke an unused enrollment token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.RevokeEnrollmentToken(args[0]); err != nil {
			return err
		}
		fmt.Println("✓ Token revoked")
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)

	tokenCreateCmd.Flags().String("description", "", "What this token is for")
	tokenCreateCmd.Flags().String("ttl", "24h", "Token lifetime")
	tokenCreateCmd.Flags().String("re-enroll", "", "Runner ID to re-key instead of enrolling a new runner")
}
