package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage payload files",
}

var filesUploadCmd = &cobra.Command{
	Use:   "upload PATH",
	Short: "Upload a payload file to the controller blob store",
	Long: `Upload a payload file. The printed digest goes into a challenge
manifest's files list; runners fetch and verify it by that digest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		meta, err := c.UploadFile(filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Uploaded %s (%d bytes)\n", meta.Name, meta.Size)
		fmt.Println()
		fmt.Println(meta.Digest)
		return nil
	},
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List payload files",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		files, err := c.ListFiles()
		if err != nil {
			return err
		}

		fmt.Printf("%-30s %10s  %-12s %s\n", "NAME", "SIZE", "UPLOADED BY", "DIGEST")
		for _, meta := range files {
			fmt.Printf("%-30s %10d  %-12s %s\n", meta.Name, meta.Size, meta.UploadedBy, meta.Digest)
		}
		return nil
	},
}

func init() {
	filesCmd.AddCommand(filesUploadCmd)
	filesCmd.AddCommand(filesListCmd)
}
