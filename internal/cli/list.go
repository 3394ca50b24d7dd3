package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's live memories",
		Run:   runList,
	}

	cmd.Flags().Bool("keys-only", false, "Only output keys")

	memoryCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	user := requireUser()
	keysOnly, _ := cmd.Flags().GetBool("keys-only")

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	memories, err := s.List(commandContext(cmd), user)
	if err != nil {
		exitErr("list", err)
	}

	if keysOnly {
		for _, m := range memories {
			fmt.Fprintln(cmd.OutOrStdout(), m.Key)
		}
		return
	}
	printJSON(cmd, memories)
}
