package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/clipforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing clipforge configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format: built-in defaults
merged with the config file and CLIPFORGE_ environment variables.

Redirect the output to a file to create a configuration template:

  clipforge config dump > config.yaml

Environment variables use the CLIPFORGE_ prefix and underscores for nesting.
Example: export.backend -> CLIPFORGE_EXPORT_BACKEND`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	data, err := marshalConfig(appConfig)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// marshalConfig renders cfg as a commented YAML document. Durations and sizes
// use their human-readable forms.
func marshalConfig(cfg *config.Config) ([]byte, error) {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	header := `# clipforge Configuration File
# =============================
#
# Duration format: 30s, 5m, 1h, 7d, 2w
# Size format: 16MiB, 1GiB
#
# Environment variable overrides:
#   CLIPFORGE_SERVER_HOST, CLIPFORGE_SERVER_PORT
#   CLIPFORGE_DATABASE_DRIVER, CLIPFORGE_DATABASE_DSN
#   CLIPFORGE_STORAGE_BASE_DIR, CLIPFORGE_STORAGE_OUTPUT_RETENTION
#   CLIPFORGE_FFMPEG_BINARY_PATH, CLIPFORGE_EXPORT_BACKEND
#   CLIPFORGE_LOGGING_LEVEL, CLIPFORGE_LOGGING_FORMAT
#   etc.

`
	return append([]byte(header), body...), nil
}
