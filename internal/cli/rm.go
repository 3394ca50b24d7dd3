package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Delete a memory",
		Long:  "Soft-delete every version of a memory. Lineage links to it are kept.",
		Run:   runRm,
	}

	cmd.Flags().StringP("key", "k", "", "Key (required)")

	cmd.MarkFlagRequired("key")

	memoryCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	user := requireUser()
	key, _ := cmd.Flags().GetString("key")

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.Delete(commandContext(cmd), user, key)
	if err != nil {
		exitErr("rm", err)
	}
	if !res.Success {
		exitErr("rm", fmt.Errorf("memory %q not found", key))
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"user":%q,"key":%q}`+"\n", user, key)
}
