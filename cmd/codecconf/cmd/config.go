package cmd

import (
	"encoding"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/codecconf/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing codecconf configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  codecconf config dump > config.yaml

With --effective the loaded configuration is shown instead, after the config
file and environment overrides were applied.

Environment variables use the CODECCONF_ prefix and underscores for nesting.
Example: driver.mode -> CODECCONF_DRIVER_MODE`,
	Args: cobra.NoArgs,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)

	configDumpCmd.Flags().Bool("effective", false, "dump the loaded configuration instead of the defaults")
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// rendering durations and sizes the way the loader accepts them.
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
		if !fieldType.IsExported() {
			continue
		}

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case encoding.TextMarshaler:
			text, err := v.MarshalText()
			if err != nil {
				result[key] = fmt.Sprint(v)
				continue
			}
			result[key] = string(text)
		case []string:
			if v == nil {
				v = []string{}
			}
			result[key] = v
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
	dump := config.Default()
	if effective, _ := cmd.Flags().GetBool("effective"); effective {
		dump = cfg
	}

	yamlData, err := yaml.Marshal(toMap(dump))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "# codecconf configuration file")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Duration format: 30s, 5m, 1h, 30d, 2w")
	fmt.Fprintln(w, "# Size format: 512KB, 1MiB")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintln(w, "#   CODECCONF_DRIVER_MODE, CODECCONF_SUITE_VECTORS_DIR")
	fmt.Fprintln(w, "#   CODECCONF_DATABASE_DRIVER, CODECCONF_DATABASE_DSN")
	fmt.Fprintln(w, "#   CODECCONF_SERVER_HOST, CODECCONF_SERVER_PORT")
	fmt.Fprintln(w, "#   CODECCONF_LOGGING_LEVEL, CODECCONF_LOGGING_FORMAT")
	fmt.Fprintln(w, "")
	_, err = w.Write(yamlData)
	return err
}
