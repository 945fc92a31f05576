package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyike/DFUChat/config"
)

// newConfigCmd creates the config command
func newConfigCmd(opts *globalOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Show, validate and edit the DFUChat configuration file",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.NewManager(config.WithConfigPath(opts.configPath))
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			cfg.ApplyEnv()
			showConfig(os.Stdout, mgr.Path(), cfg)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and local storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				return validateConfig(cmd.Context(), a)
			})
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "set-backend <url>",
		Short: "Persist the backend URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.NewManager(config.WithConfigPath(opts.configPath))
			if err != nil {
				return err
			}
			if err := mgr.SetBackendURL(args[0]); err != nil {
				return err
			}
			fmt.Printf("Backend set to %s (%s)\n", args[0], mgr.Path())
			return nil
		},
	})

	return configCmd
}

// showConfig displays the effective configuration
func showConfig(w io.Writer, path string, cfg config.Config) {
	fmt.Fprintln(w, "DFUChat configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintf(w, "Config file:       %s\n", path)
	fmt.Fprintf(w, "Backend URL:       %s\n", cfg.BackendURL)
	fmt.Fprintf(w, "Data directory:    %s\n", cfg.DataDir)
	fmt.Fprintf(w, "Database:          %s\n", cfg.DBPath)
	fmt.Fprintf(w, "Log file:          %s\n", cfg.LogFile)
	fmt.Fprintf(w, "Request timeout:   %s\n", cfg.RequestTimeout())
	fmt.Fprintf(w, "Markdown replies:  %t\n", cfg.RenderMarkdown)
	fmt.Fprintf(w, "Debug:             %t\n", cfg.Debug)
}

// validateConfig checks the configuration and that local storage is usable.
func validateConfig(ctx context.Context, a *app) error {
	cfg := a.currentConfig()

	fmt.Print("Checking configuration values... ")
	if err := cfg.Validate(); err != nil {
		fmt.Println("failed")
		return err
	}
	fmt.Println("ok")

	fmt.Print("Checking local storage... ")
	keys, err := a.kv.Keys(ctx)
	if err != nil {
		fmt.Println("failed")
		return fmt.Errorf("local storage: %w", err)
	}
	fmt.Printf("ok (%d keys)\n", len(keys))

	fmt.Print("Checking credential... ")
	if a.resolver.IsAccountRegime() {
		fmt.Println("signed in")
	} else {
		fmt.Println("guest")
	}
	return nil
}
