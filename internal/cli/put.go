package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ryos-memory/internal/model"
	"github.com/rcliao/ryos-memory/internal/pipeline"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().StringP("key", "k", "", "Key (required, normalized to snake_case)")
	cmd.Flags().StringP("summary", "s", "", "One-line summary (required)")
	cmd.Flags().StringP("mode", "m", "add", "Write mode: add, update, merge")
	cmd.Flags().Duration("ttl", 0, "Expire the memory after this long (default permanent)")

	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("summary")

	memoryCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	user := requireUser()
	rawKey, _ := cmd.Flags().GetString("key")
	summary, _ := cmd.Flags().GetString("summary")
	mode, _ := cmd.Flags().GetString("mode")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	key := pipeline.SanitizeKey(rawKey)
	if key == "" {
		exitErr("put", fmt.Errorf("key %q is not a valid memory key", rawKey))
	}
	content := readContent(args)
	if content == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	upsertMode := model.UpsertMode(strings.ToLower(mode))
	switch upsertMode {
	case model.UpsertAdd, model.UpsertUpdate, model.UpsertMerge:
	default:
		exitErr("put", fmt.Errorf("unknown mode %q", mode))
	}

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.Upsert(commandContext(cmd), user, model.UpsertParams{
		Key:     key,
		Summary: summary,
		Content: content,
		Mode:    upsertMode,
		TTL:     ttl,
	})
	if err != nil {
		exitErr("put", err)
	}
	if !res.Success {
		exitErr("put", fmt.Errorf("%s", res.Message))
	}

	printJSON(cmd, map[string]any{"key": key, "success": res.Success, "message": res.Message})
}
