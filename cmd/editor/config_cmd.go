package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"codepad/apps/editor/internal/app"
	"codepad/apps/editor/internal/config"
	"codepad/apps/editor/internal/repo"
)

type editorSummary struct {
	ConfigFile    string   `yaml:"config_file"`
	APIKey        string   `yaml:"api_key"`
	SelectedModel string   `yaml:"selected_model"`
	Models        []string `yaml:"models"`
	LastFile      string   `yaml:"last_file,omitempty"`
	Warning       string   `yaml:"warning,omitempty"`
}

type configView struct {
	Settings config.Settings `yaml:"settings"`
	Editor   editorSummary   `yaml:"editor"`
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect effective configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print resolved settings and the editor config with the API key masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadEnvFile(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			cfg, err := opts.settings()
			if err != nil {
				return err
			}
			return writeConfigView(cmd.OutOrStdout(), cfg)
		},
	})
	return configCmd
}

// writeConfigView reads the editor document without creating it.
func writeConfigView(w io.Writer, cfg config.Settings) error {
	path := cfg.ConfigPath()
	doc := repo.DefaultConfig()
	summary := editorSummary{ConfigFile: path}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		summary.Warning = "config file does not exist yet; defaults shown"
	case err != nil:
		summary.Warning = err.Error()
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			summary.Warning = "config file is malformed: " + err.Error()
			doc = repo.DefaultConfig()
		}
	}
	summary.APIKey = app.MaskKey(doc.APIKey)
	summary.SelectedModel = doc.SelectedModel
	summary.Models = doc.Models
	summary.LastFile = doc.LastFile

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(configView{Settings: cfg, Editor: summary}); err != nil {
		return err
	}
	return enc.Close()
}
