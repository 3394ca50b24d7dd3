package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/ryos-memory/internal/pipeline"
)

func init() {
	noteCmd := &cobra.Command{
		Use:   "note",
		Short: "Daily-note journal",
	}

	addCmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Append an entry to today's note",
		Long:  "Append an entry to the user's daily note. Content can be a positional arg or piped via stdin.",
		Run:   runNoteAdd,
	}
	addCmd.Flags().String("tz", "", "IANA time zone that decides the calendar day (default UTC)")
	addCmd.Flags().String("at", "", "Entry time in RFC 3339 (default now)")

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List unprocessed past days",
		Run:   runNotePending,
	}
	pendingCmd.Flags().String("tz", "", "IANA time zone of the user (default UTC)")

	noteCmd.AddCommand(addCmd, pendingCmd)
	RootCmd.AddCommand(noteCmd)
}

func runNoteAdd(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	user := requireUser()
	tz, _ := cmd.Flags().GetString("tz")
	atStr, _ := cmd.Flags().GetString("at")

	content := readContent(args)
	if content == "" {
		exitErr("note add", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	loc, err := pipeline.LoadLocation(tz)
	if err != nil {
		exitErr("note add", err)
	}
	at := time.Now()
	if atStr != "" {
		if at, err = time.Parse(time.RFC3339, atStr); err != nil {
			exitErr("note add", fmt.Errorf("--at must be RFC 3339: %w", err))
		}
	}

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	date, err := s.AppendNote(commandContext(cmd), user, content, at, loc)
	if err != nil {
		exitErr("note add", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"user":%q,"date":%q}`+"\n", user, date)
}

func runNotePending(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	user := requireUser()
	tz, _ := cmd.Flags().GetString("tz")

	loc, err := pipeline.LoadLocation(tz)
	if err != nil {
		exitErr("note pending", err)
	}

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	days, err := s.ListUnprocessedDays(commandContext(cmd), user, cfg.Pipeline.LookbackDays, loc)
	if err != nil {
		exitErr("note pending", err)
	}
	printJSON(cmd, days)
}
