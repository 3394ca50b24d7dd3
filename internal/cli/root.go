// Package cli implements the ryos-memory commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ryos-memory/internal/config"
	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/store"
)

var (
	configPath string
	dbPath     string
	userFlag   string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "ryos-memory",
	Short: "Daily-notes memory consolidation for ryOS",
	Long: "Turns a user's daily journal notes into a bounded set of long-term memories. " +
		"Runs as an HTTP service with a scheduled sweep, or one-shot from the command line.",
	SilenceUsage: true,
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit long-term memories",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("RYOS_CONFIG"), "YAML config file (default: $RYOS_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $RYOS_DB_PATH or ~/.ryos-memory/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User ID for per-user commands")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	RootCmd.AddCommand(memoryCmd)
}

// loadConfig applies command-line flags over the file and environment.
func loadConfig() config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		exitErr("config", err)
	}

	logging.SetDefault(logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr))
	return cfg
}

func openStore(cfg config.Config) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.DBPath, store.WithMaxMemories(cfg.Pipeline.MaxMemoriesPerUser))
}

func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.With(ctx, logging.Default())
}

func requireUser() string {
	user := strings.ToLower(strings.TrimSpace(userFlag))
	if user == "" {
		exitErr("user", fmt.Errorf("--user is required"))
	}
	return user
}

// readContent joins args, or reads piped stdin when there are none.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " "))
	}
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return ""
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	return strings.TrimSpace(string(b))
}

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
