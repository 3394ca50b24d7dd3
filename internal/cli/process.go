package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var errLocked = errors.New("another run holds the processing lock")

func init() {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Consolidate a user's unprocessed daily notes now",
		Long:  "Runs the pipeline once for --user and prints the result. Holds the same lock the service uses.",
		Run:   runProcess,
	}

	cmd.Flags().String("tz", "", "IANA time zone of the user (default UTC)")

	RootCmd.AddCommand(cmd)
}

func runProcess(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	user := requireUser()
	tz, _ := cmd.Flags().GetString("tz")

	ctx := commandContext(cmd)
	a, err := newApp(ctx, cfg)
	if err != nil {
		exitErr("start", err)
	}
	defer a.Close()

	result, err := a.processor.Process(ctx, user, tz)
	if err != nil {
		exitErr("process", err)
	}
	if result.Locked {
		exitErr("process", errLocked)
	}
	printJSON(cmd, result)
}
