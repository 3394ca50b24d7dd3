package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Long:  "Show database statistics for every user, or only --user when set.",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(commandContext(cmd), cfg.DBPath, strings.ToLower(strings.TrimSpace(userFlag)))
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(cmd, stats)
}
