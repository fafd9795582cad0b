package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"blockyard/internal/config"
)

var (
	outputPath string
	force      bool
)

// initCmd scaffolds a new configuration file with default settings
var initCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Initialize a new configuration file",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return nil // Skip app initialization - config may not exist yet
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		path := outputPath
		if path == "" {
			path = "config.toml"
		}
		fmt.Fprintf(out, "[1/3] Checking output path: %s\n", path)
		if info, err := os.Stat(path); err == nil {
			if info.IsDir() {
				return fmt.Errorf("output path is a directory")
			}
			if !force {
				fmt.Fprintf(out, "WARNING: Config already exists: %s\n", path)
				fmt.Fprintln(out, "Use --force to overwrite")
				return nil
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		fmt.Fprintln(out, "[2/3] Generating default configuration...")
		cfg := config.DefaultConfig()
		fmt.Fprintln(out, "[3/3] Saving configuration file...")
		if err := cfg.SaveConfig(path); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintf(out, "\nSUCCESS: Configuration created: %s\n\n", path)
		fmt.Fprintln(out, "Next steps:")
		fmt.Fprintf(out, "  1. Set [server] working_dir, jar_name and ram_mb in %s\n", path)
		fmt.Fprintln(out, "  2. List plugin sources under [plugins] sources")
		fmt.Fprintln(out, "  3. Run health check: blockyard health-check")
		fmt.Fprintln(out, "  4. Start supervising: blockyard server run")
		return nil
	},
}
