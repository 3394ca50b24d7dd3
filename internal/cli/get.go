package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rcliao/ryos-memory/internal/model"
	"github.com/rcliao/ryos-memory/internal/store"
)

type getOutput struct {
	Memory  *model.MemoryDetail `json:"memory,omitempty"`
	History []model.Memory      `json:"history,omitempty"`
	Links   []store.Link        `json:"merged_from,omitempty"`
}

func init() {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Retrieve a memory",
		Run:   runGet,
	}

	cmd.Flags().StringP("key", "k", "", "Key (required)")
	cmd.Flags().Bool("history", false, "Include all versions (newest first)")
	cmd.Flags().Bool("links", false, "Include the memories this one was merged from")

	cmd.MarkFlagRequired("key")

	memoryCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	user := requireUser()
	key, _ := cmd.Flags().GetString("key")
	history, _ := cmd.Flags().GetBool("history")
	links, _ := cmd.Flags().GetBool("links")

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx := commandContext(cmd)
	var out getOutput
	if out.Memory, err = s.GetDetail(ctx, user, key); err != nil {
		exitErr("get", err)
	}
	if out.Memory == nil && !history {
		exitErr("get", store.ErrNotFound)
	}
	if history {
		if out.History, err = s.History(ctx, user, key); err != nil {
			exitErr("history", err)
		}
	}
	if links && out.Memory != nil {
		out.Links, err = s.Links(ctx, user, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			exitErr("links", err)
		}
	}
	printJSON(cmd, out)
}
