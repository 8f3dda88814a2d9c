package main

import (
	"fmt"
	"os"
	"path/filepath"

	"blocktally/pkg/config"
	"blocktally/pkg/ui"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage blocktally configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (BLOCKTALLY_*)
  - .env file
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.blocktally.yaml'
unless a different path is specified with the --config flag.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging defaults, the configuration
file, the .env file and BLOCKTALLY_* environment variables.`,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value types and ranges
  - Scan directory and export directory accessibility`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# blocktally configuration file
#
# Every option can also be set with an environment variable prefixed with
# BLOCKTALLY_, for example BLOCKTALLY_Y_START or BLOCKTALLY_MAX_MEMORY_PERCENT.

scan:
  # Directory holding the region files
  directory: "."
  extension: ".mca"
  # Block y range, start inclusive, end exclusive
  y_start: 160
  y_end: 240

workers:
  # Chunk workers per region file, also capped by the CPU count
  chunk_max: 16
  # Parallel moves, at most 100
  mover_max: 100

memory:
  # Pause before the next region file while memory use is above this percent.
  # 100 disables the check.
  max_usage_percent: 100
  sample_interval: 1s

checkpoint:
  path: "progress.json"
  save_attempts: 3
  retry_delay: 200ms
  # exponential doubles the delay after each failed save, constant keeps it fixed
  backoff: "exponential"

export:
  directory: "."
  # csv, markdown, html or table
  format: "csv"
  # File name without extension, defaults to <y_start>_<y_end>
  name: ""

mover:
  # Defaults to processed_mca next to the region files
  destination: ""
  grace_period: 5s

progress:
  # auto, tui, plain or none
  mode: "auto"

notifications:
  enabled: false
  on_complete: true
  on_abort: true

metrics:
  # For example ":9090" to serve /metrics while counting
  listen_address: ""

logging:
  # debug, info, warn, error or disabled
  level: "info"
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".blocktally.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Point scan.directory at a world's region folder")
	fmt.Println("2. Run 'blocktally config validate' to check the configuration")
	fmt.Println("3. Start counting with 'blocktally count'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (BLOCKTALLY_*)")
	fmt.Println("3. .env file")
	source := configFile
	if source == "" {
		source = config.FindConfigFile()
	}
	if source != "" {
		fmt.Printf("4. Configuration file: %s\n", source)
	} else {
		fmt.Println("4. Configuration file: (not found)")
	}
	fmt.Println("5. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		ui.PrintError("No configuration file found", "Specify a file with --config flag")
		return fmt.Errorf("no configuration file found")
	}

	ui.PrintInfo("Validating configuration", path)

	cfg, err := config.Load(path, nil)
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		return err
	}

	warnings := checkPaths(cfg)
	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, warn := range warnings {
			fmt.Printf("  - %s\n", warn)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Scan directory: %s (*%s)\n", cfg.Scan.Directory, cfg.Scan.Extension)
	fmt.Printf("  Y range: %d to %d\n", cfg.Scan.YStart, cfg.Scan.YEnd)
	fmt.Printf("  Chunk workers: %d\n", cfg.Workers.ChunkMax)
	fmt.Printf("  Memory ceiling: %.1f%%\n", cfg.Memory.MaxUsagePercent)
	fmt.Printf("  Export: %s/%s (%s)\n", cfg.Export.Directory, cfg.ExportName(), cfg.Export.Format)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

// checkPaths reports directories that cannot be used as configured
func checkPaths(cfg *config.Config) []string {
	var warnings []string
	if info, err := os.Stat(cfg.Scan.Directory); err != nil {
		warnings = append(warnings, fmt.Sprintf("Scan directory is not readable: %v", err))
	} else if !info.IsDir() {
		warnings = append(warnings, fmt.Sprintf("Scan directory is not a directory: %s", cfg.Scan.Directory))
	}
	if err := os.MkdirAll(cfg.Export.Directory, 0755); err != nil {
		warnings = append(warnings, fmt.Sprintf("Cannot create export directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			warnings = append(warnings, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}
	return warnings
}
