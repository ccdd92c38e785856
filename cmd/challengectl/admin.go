package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/challengectl/challengectl/pkg/client"
)

// adminClient builds an API client from the saved admin session file.
// The controller writes the file at startup; commands read it so local
// admin use needs no login ceremony.
func adminClient(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	insecure, _ := cmd.Flags().GetBool("insecure")

	sessionFile, _ := cmd.Flags().GetString("session-file")
	if sessionFile == "" {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		sessionFile = filepath.Join(dataDir, "admin-session")
	}

	data, err := os.ReadFile(sessionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read admin session %s (is the controller running on this host?): %w", sessionFile, err)
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) != 2 {
		return nil, fmt.Errorf("admin session file %s is malformed", sessionFile)
	}

	return client.NewAdmin(server, lines[0], lines[1], insecure), nil
}

// shortID trims UUIDs for table display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
