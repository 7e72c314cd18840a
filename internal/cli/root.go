// Package cli implements the ham CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/config"
	"github.com/rcliao/ham/internal/logging"
	"github.com/rcliao/ham/internal/memory"
)

var (
	configPath string
	dirFlag    string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "ham",
	Short: "Hierarchical associative memory",
	Long:  "Store experiences as encrypted, compressed gists and recall them by id, filter or meaning.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $HAM_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "d", "", "Storage directory (default: $HAM_DIR or ~/.ham)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dirFlag != "" {
		cfg.Storage.Dir = dirFlag
	}
	// the CLI is one process per command, so the index has to live on disk
	if cfg.Vector.Enabled && cfg.Vector.PersistDir == "" {
		cfg.Vector.PersistDir = filepath.Join(cfg.Storage.Dir, "vectors")
	}
	return cfg
}

func newLogger(cfg *config.Config) *zap.Logger {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		exitErr("init logger", err)
	}
	return logger
}

func openManager(cmd *cobra.Command) (*memory.Manager, *config.Config, *zap.Logger) {
	cfg := loadConfig()
	logger := newLogger(cfg)
	m, err := memory.Open(cmd.Context(), cfg, logger, nil)
	if err != nil {
		exitErr("open memory", err)
	}
	return m, cfg, logger
}

// readContent takes the positional args, or stdin when piped.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

// parseMeta turns k=v pairs into metadata. Values that parse as JSON
// (numbers, booleans) keep their type.
func parseMeta(pairs []string) map[string]any {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			exitErr("parse meta", fmt.Errorf("expected key=value, got %q", p))
		}
		var typed any
		if err := json.Unmarshal([]byte(v), &typed); err == nil {
			out[strings.TrimSpace(k)] = typed
		} else {
			out[strings.TrimSpace(k)] = v
		}
	}
	return out
}

// output prints v as indented JSON, or the text rendering when
// --format=text and one is given.
func output(cmd *cobra.Command, v any, text func() string) {
	if formatFlag == "text" && text != nil {
		fmt.Fprintln(cmd.OutOrStdout(), text())
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
