package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/challengectl/challengectl/pkg/config"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a challenge manifest",
	Long: `Apply a challenge manifest from a YAML file.

Entries are matched by name: new challenges are created, existing ones
get their definitions updated in place, and stored challenges absent
from the manifest are left untouched.

Examples:
  # Apply the full catalog
  challengectl apply -f challenges.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Manifest YAML file (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	// Validate locally so syntax errors name the file, not the endpoint.
	if _, err := config.ParseManifest(data); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}

	c, err := adminClient(cmd)
	if err != nil {
		return err
	}
	summary, err := c.Reload(data)
	if err != nil {
		return err
	}

	for _, name := range summary.Created {
		fmt.Printf("✓ Challenge created: %s\n", name)
	}
	for _, name := range summary.Updated {
		fmt.Printf("✓ Challenge updated: %s\n", name)
	}
	for _, name := range summary.Unchanged {
		fmt.Printf("  Challenge unchanged: %s\n", name)
	}
	return nil
}
