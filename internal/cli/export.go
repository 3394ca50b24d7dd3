package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a user's memories as JSON",
		Long:  "Export every live version of a user's memories as a JSON array, oldest version first.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	user := requireUser()

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	memories, err := s.ExportAll(commandContext(cmd), user)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(cmd, memories)
}
