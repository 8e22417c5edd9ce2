package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/audex/internal/config"
	"github.com/jmylchreest/audex/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing audex configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  audex config dump > config.yaml

Configuration can be set via:
  - Config file (./config.yaml, $HOME/.config/audex/config.yaml, /etc/audex/config.yaml)
  - Environment variables (AUDEX_SERVER_PORT, AUDEX_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the AUDEX_ prefix and underscores for nesting.
Example: server.port -> AUDEX_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and sizes in their human-readable form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.Duration:
			result[key] = duration.Format(v.Duration())
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfgMap := toMap(config.Default())

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# audex Configuration File")
	fmt.Fprintln(out, "# ========================")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# All values shown below are defaults.")
	fmt.Fprintln(out, "# Duration format: 30s, 5m, 1h, 7d")
	fmt.Fprintln(out, "# Size format: 512KB, 25MB, 1GB")
	fmt.Fprintln(out, "# Cron schedules have six fields, starting with seconds.")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   AUDEX_SERVER_HOST, AUDEX_SERVER_PORT")
	fmt.Fprintln(out, "#   AUDEX_DATABASE_DRIVER, AUDEX_DATABASE_DSN")
	fmt.Fprintln(out, "#   AUDEX_STORAGE_BASE_DIR, AUDEX_ENGINE_MIRRORS")
	fmt.Fprintln(out, "#   AUDEX_LOGGING_LEVEL, AUDEX_LOGGING_FORMAT")
	fmt.Fprintln(out, "#   etc.")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(yamlData))

	return nil
}
