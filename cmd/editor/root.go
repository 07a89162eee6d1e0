package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"codepad/apps/editor/internal/app"
	"codepad/apps/editor/internal/config"
)

const settingsFileEnv = "EDITOR_SETTINGS_FILE"

type rootOptions struct {
	settingsFile string
	host         string
	port         string
	dataDir      string
	webDir       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "codepad",
		Short:        "Local backend for the AI code editor",
		Long:         "codepad serves the editor's HTTP API: workspace files, the AI chat proxy and the script runner.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.settingsFile, "settings", "", "YAML settings file (default $"+settingsFileEnv+")")
	flags.StringVar(&opts.host, "host", "", "listen host (default "+config.DefaultHost+")")
	flags.StringVar(&opts.port, "port", "", "listen port (default "+config.DefaultPort+")")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory holding the editor config document")
	flags.StringVar(&opts.webDir, "web-dir", "", "static web shell to serve at /")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "codepad", app.Version)
		},
	}
}

// settings layers defaults, the settings file, the environment and finally
// explicit flags.
func (o *rootOptions) settings() (config.Settings, error) {
	path := strings.TrimSpace(o.settingsFile)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(settingsFileEnv))
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Settings{}, err
	}
	if v := strings.TrimSpace(o.host); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(o.port); v != "" {
		cfg.Port = v
	}
	if v := strings.TrimSpace(o.dataDir); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(o.webDir); v != "" {
		cfg.WebDir = v
	}
	if err := cfg.Validate(); err != nil {
		return config.Settings{}, err
	}
	return cfg, nil
}
