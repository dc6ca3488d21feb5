package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quickparts/searchd/configs"
	"github.com/quickparts/searchd/internal/config"
	"github.com/quickparts/searchd/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the searchd configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/searchd/config.yaml)
  3. Project config (searchd.yaml in the working directory)
  4. Environment variables (SEARCHD_*)

An explicit --config file replaces layers 2 and 3.`,
		Example: `  # Create user config from template
  searchd config init

  # Show effective configuration (merged from all sources)
  searchd config show

  # Print user config file path
  searchd config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Create the user/global configuration file from a template.

The configuration file is created at ~/.config/searchd/config.yaml
(or $XDG_CONFIG_HOME/searchd/config.yaml if XDG_CONFIG_HOME is set).`,
		Example: `  # Create user config
  searchd config init

  # Overwrite existing config
  searchd config init --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the effective configuration after merging all sources.

Credentials are masked. Use --source to inspect a single layer instead
of the merged result.`,
		Example: `  # Show merged configuration
  searchd config show

  # Show as JSON
  searchd config show --json

  # Show only the hardcoded defaults
  searchd config show --source defaults`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Long:  `Print the path to the user configuration file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	userPath := config.GetUserConfigPath()

	if config.UserConfigExists() && !force {
		out.Warning("User configuration already exists")
		out.Statusf("📁", "Location: %s", userPath)
		out.Newline()
		out.Status("💡", "Use --force to overwrite with the template")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(userPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(userPath, []byte(configs.ConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created user configuration")
	out.Statusf("📁", "Location: %s", userPath)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Point search.addresses and database at your clusters")
	out.Status("", "  2. Run 'searchd health' to verify connectivity")
	out.Status("", "  3. Run 'searchd config show' to see the merged result")

	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var (
		cfg        *config.Config
		sourceDesc string
	)

	switch source {
	case "merged":
		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		if configPath != "" {
			sourceDesc = fmt.Sprintf("file (%s) + env", configPath)
		} else {
			sourceDesc = "merged (defaults + user + project + env)"
		}

	case "user":
		userPath := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", userPath)
			out.Status("💡", "Run 'searchd config init' to create one")
			return nil
		}

		cfg = config.NewConfig()
		data, err := os.ReadFile(userPath)
		if err != nil {
			return fmt.Errorf("failed to read user config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse user config: %w", err)
		}
		sourceDesc = fmt.Sprintf("user (%s)", userPath)

	case "project":
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}

		var projectPath string
		for _, name := range []string{"searchd.yaml", "searchd.yml"} {
			candidate := filepath.Join(cwd, name)
			if _, err := os.Stat(candidate); err == nil {
				projectPath = candidate
				break
			}
		}
		if projectPath == "" {
			out.Warning("No project configuration file found")
			out.Statusf("📁", "Expected at: %s", filepath.Join(cwd, "searchd.yaml"))
			return nil
		}

		cfg = config.NewConfig()
		data, err := os.ReadFile(projectPath)
		if err != nil {
			return fmt.Errorf("failed to read project config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse project config: %w", err)
		}
		sourceDesc = fmt.Sprintf("project (%s)", projectPath)

	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults (hardcoded)"

	default:
		return fmt.Errorf("invalid source: %s (use: merged, user, project, defaults)", source)
	}

	redacted := cfg.Redacted()

	if jsonOutput {
		data, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out.Statusf("📋", "Configuration source: %s", sourceDesc)
	out.Newline()

	data, err := yaml.Marshal(redacted)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	return nil
}
