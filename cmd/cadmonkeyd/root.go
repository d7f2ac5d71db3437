package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cadmonkey/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootFlags are the persistent flags shared by every subcommand. Only flags the
// user actually set override the file and environment.
type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	modelName  string
	modelPath  string
	modelsDir  string
	mode       string
	bin        string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "cadmonkeyd",
		Short:         "OpenSCAD code model server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindRootFlags(root, f)
	root.AddCommand(newServeCmd(f), newCompleteCmd(f), newVersionCmd())
	return root
}

func bindRootFlags(root *cobra.Command, f *rootFlags) {
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", os.Getenv("CADMONKEY_CONFIG"), "Config file (.yaml, .yml, .json or .toml)")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: trace|debug|info|warn|error")
	pf.StringVar(&f.logFormat, "log-format", "", "Log format: auto|console|json")
	pf.StringVar(&f.modelName, "model", "", "Model name to resolve in --models-dir")
	pf.StringVar(&f.modelPath, "model-path", "", "Path to a .gguf file (overrides --model)")
	pf.StringVar(&f.modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	pf.StringVar(&f.mode, "mode", "", "Engine mode: subprocess|binding")
	pf.StringVar(&f.bin, "bin", "", "Inference binary for subprocess mode")
}

// loadConfig layers defaults, the config file, CADMONKEY_* variables and flags,
// then validates the result.
func loadConfig(cmd *cobra.Command, f *rootFlags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		c, err := config.Load(f.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyFlags(cmd, f, &cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, f *rootFlags, cfg *config.Config) {
	set := func(name string, dst *string, v string) {
		if fl := cmd.Flags().Lookup(name); fl != nil && fl.Changed {
			*dst = v
		}
	}
	set("log-level", &cfg.Log.Level, f.logLevel)
	set("log-format", &cfg.Log.Format, f.logFormat)
	set("model", &cfg.Model.Name, f.modelName)
	set("model-path", &cfg.Model.Path, f.modelPath)
	set("models-dir", &cfg.Model.ModelsDir, f.modelsDir)
	set("mode", &cfg.Engine.Mode, f.mode)
	set("bin", &cfg.Engine.Bin, f.bin)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "cadmonkeyd %s (binding: %t)\n", version, engineBindingAvailable())
			return nil
		},
	}
}
